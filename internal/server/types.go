// Package server defines the wire envelope and utility helpers that are
// reused across client and hub logic.
package server

import (
	"encoding/json"
	"log"
	"strings"
)

// Envelope is the JSON frame exchanged in both directions: a named event and
// its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error encoding %s payload: %v", event, err)
		return nil, false
	}

	message, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("Error encoding %s envelope: %v", event, err)
		return nil, false
	}
	return message, true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
