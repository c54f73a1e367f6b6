// Package server implements the HTTP and WebSocket transport of the chat relay.
//
// The Hub owns every connection and the room groups they are addressed
// through, and feeds connection lifecycle and inbound events one at a time to
// a router.Router, which it also serves as the router's Transport. The
// implementation is split into files for configuration, hub management,
// clients, routing and HTTP handlers.
package server
