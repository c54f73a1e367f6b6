// Package testhelpers provides common utilities and helper functions for
// testing the chat relay over real WebSocket connections.
//
// It provides functions for dialing the hub, sending and receiving event
// envelopes, and waiting for specific events so test files do not repeat
// the same plumbing.
package testhelpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Event is an envelope as received by a test client.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", e.Event, string(e.Data), err)
	}
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	return u.String()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An
// empty origin sends no header.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url and fails the test on error. The connection is
// closed when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one envelope with payload as its data.
func SendEvent(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(Event{Event: event, Data: data})
}

// MustSend sends an event and fails the test on error.
func MustSend(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := SendEvent(conn, event, payload); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// ReceiveEvent reads the next envelope, waiting at most timeout. A timeout
// leaves the connection unusable for further reads, so prefer Inbox when a
// test needs to keep reading.
func ReceiveEvent(conn *websocket.Conn, timeout time.Duration) (Event, error) {
	var ev Event
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope %q: %w", string(raw), err)
	}
	return ev, nil
}

// Inbox reads a connection in the background and queues every envelope.
type Inbox struct {
	events chan Event
	closed chan struct{}
}

// Listen starts reading conn until it fails or is closed.
func Listen(conn *websocket.Conn) *Inbox {
	in := &Inbox{
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(in.closed)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			in.events <- ev
		}
	}()
	return in
}

// Next returns the next queued envelope or fails after timeout.
func (in *Inbox) Next(t *testing.T, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-in.events:
		return ev
	case <-time.After(timeout):
		t.Fatalf("Timed out waiting for an event")
	}
	return Event{}
}

// WaitFor discards envelopes until one named event arrives and returns it.
func (in *Inbox) WaitFor(t *testing.T, event string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-in.events:
			if ev.Event == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s event", event)
			return Event{}
		}
	}
}

// Drain returns every envelope that arrives before the inbox has been idle
// for idle.
func (in *Inbox) Drain(idle time.Duration) []Event {
	var events []Event
	for {
		select {
		case ev := <-in.events:
			events = append(events, ev)
		case <-time.After(idle):
			return events
		}
	}
}

// ExpectNone fails the test if any envelope arrives within timeout.
func (in *Inbox) ExpectNone(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case ev := <-in.events:
		t.Fatalf("Expected no event, but received %s %s", ev.Event, string(ev.Data))
	case <-time.After(timeout):
	}
}

// Closed reports whether the read loop has stopped within timeout.
func (in *Inbox) Closed(timeout time.Duration) bool {
	select {
	case <-in.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
