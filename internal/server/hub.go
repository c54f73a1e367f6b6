// Package server coordinates client registration, room groups and event
// delivery for the chat relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/directory"
	"github.com/Tyrowin/roomchat/internal/router"
)

// inboundEvent is a decoded frame waiting for the hub loop.
type inboundEvent struct {
	client *Client
	event  string
	data   json.RawMessage
}

// Hub owns every live WebSocket client and the named groups (rooms) they are
// addressed through. Its Run loop is the only place chat events are applied,
// so each router handler and the broadcasts it causes run to completion
// before the next event is looked at.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	inbound    chan inboundEvent
	register   chan *Client
	unregister chan *Client
	router     *router.Router
	config     Config
	origins    *originPolicy
	dropped    []*Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub with its own empty user directory. A nil cfg uses
// the defaults from NewConfig.
func NewHub(cfg *Config) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		inbound:    make(chan inboundEvent),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     sanitized,
		origins:    newOriginPolicy(sanitized.AllowedOrigins),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.router = router.New(directory.New(), h)
	return h
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	cfg := h.config
	cfg.AllowedOrigins = append([]string(nil), h.config.AllowedOrigins...)
	return cfg
}

// Directory exposes the membership registry owned by the hub's router.
func (h *Hub) Directory() *directory.Directory {
	return h.router.Directory()
}

// Register hands a client to the hub loop. It reports false once the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister asks the hub loop to forget a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Dispatch queues an inbound chat event from client for the hub loop.
func (h *Hub) Dispatch(client *Client, event string, data json.RawMessage) {
	select {
	case h.inbound <- inboundEvent{client: client, event: event, data: data}:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the ids of the clients currently in room's group.
func (h *Hub) RoomMembers(room string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.removeClient(client)

		case ev := <-h.inbound:
			h.handleInbound(ev)
		}

		h.removeDroppedClients()
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	h.router.Connect(client.id)
}

func (h *Hub) handleInbound(ev inboundEvent) {
	if ev.client == nil || !h.isRegistered(ev.client) {
		return
	}
	if err := h.router.Dispatch(ev.client.id, ev.event, ev.data); err != nil {
		log.Printf("Dropped event from %s: %v", ev.client.addr, err)
	}
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	current, ok := h.clients[client.id]
	return ok && current == client
}

// removeClient detaches client from the hub and runs the disconnect handler
// for it. Only the hub loop calls it.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	for room, members := range h.rooms {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)

	h.router.Disconnect(client.id)
}

// removeDroppedClients disconnects clients whose send buffer overflowed
// while the last event was being handled. Their disconnect broadcasts can
// overflow further buffers, so it loops until nothing is left.
func (h *Hub) removeDroppedClients() {
	for len(h.dropped) > 0 {
		pending := h.dropped
		h.dropped = nil
		for _, client := range pending {
			log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
			h.removeClient(client)
		}
	}
}

// Emit implements router.Transport.
func (h *Hub) Emit(id, event string, payload any) {
	message, ok := encodeEnvelope(event, payload)
	if !ok {
		return
	}

	h.mutex.RLock()
	client, exists := h.clients[id]
	h.mutex.RUnlock()
	if exists {
		h.deliver(client, message)
	}
}

// EmitToRoom implements router.Transport.
func (h *Hub) EmitToRoom(room, except, event string, payload any) {
	message, ok := encodeEnvelope(event, payload)
	if !ok {
		return
	}

	for _, client := range h.roomSnapshot(room) {
		if except != "" && client.id == except {
			continue
		}
		h.deliver(client, message)
	}
}

// EmitToAll implements router.Transport.
func (h *Hub) EmitToAll(event string, payload any) {
	message, ok := encodeEnvelope(event, payload)
	if !ok {
		return
	}

	for _, client := range h.getClientSnapshot() {
		h.deliver(client, message)
	}
}

// JoinRoom implements router.Transport.
func (h *Hub) JoinRoom(id, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[id]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][id] = client
}

// LeaveRoom implements router.Transport.
func (h *Hub) LeaveRoom(id, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) deliver(client *Client, message []byte) {
	if !h.safeSend(client, message) {
		h.dropped = append(h.dropped, client)
	}
}

func (h *Hub) safeSend(client *Client, message []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
			sent = false
		}
	}()

	if client.closed {
		return true
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) roomSnapshot(room string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.rooms[room]))
	for _, client := range h.rooms[room] {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every client connection and send channel.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()

	select {
	case <-h.done:
	case <-time.After(timeout):
		log.Println("Hub loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
