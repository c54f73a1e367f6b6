// Package router turns connection lifecycle and inbound chat events into
// directory updates and the outbound broadcasts that follow from them.
//
// A Router is not a scheduler. Callers must deliver events one at a time
// (the server hub does so from its single event loop) so that the broadcasts
// of one handler are never interleaved with those of another.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/directory"
)

var (
	// ErrUnknownEvent is returned by Dispatch for event names it does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload is returned by Dispatch when the payload does not
	// have the shape the event requires.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Transport addresses outbound events. Delivery is fire-and-forget.
type Transport interface {
	// Emit sends to a single connection.
	Emit(id, event string, payload any)
	// EmitToRoom sends to every member of room except the connection named
	// by except. An empty except excludes nobody.
	EmitToRoom(room, except, event string, payload any)
	// EmitToAll sends to every live connection.
	EmitToAll(event string, payload any)
	// JoinRoom adds a connection to the addressable group of room.
	JoinRoom(id, room string)
	// LeaveRoom removes a connection from the addressable group of room.
	LeaveRoom(id, room string)
}

// Router applies chat events to a directory and emits the resulting events.
type Router struct {
	users     *directory.Directory
	transport Transport
	now       func() time.Time
}

// Option customises a Router.
type Option func(*Router)

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New returns a Router that owns users and emits through transport.
func New(users *directory.Directory, transport Transport, opts ...Option) *Router {
	r := &Router{
		users:     users,
		transport: transport,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory exposes the membership registry for read-only inspection.
func (r *Router) Directory() *directory.Directory {
	return r.users
}

// Connect greets a newly connected client. It does not create a membership.
func (r *Router) Connect(id string) {
	r.transport.Emit(id, EventMessage, r.system("Welcome to Chat App!"))
}

// EnterRoom moves the connection into req.Room under req.Name, leaving its
// previous room first. Entering the current room again is treated as a full
// leave followed by a join. The old room sees the name it knew the
// connection by, even when req carries a new one.
func (r *Router) EnterRoom(id string, req EnterRoom) {
	prev, hadRoom := r.users.Get(id)

	if hadRoom {
		r.transport.LeaveRoom(id, prev.Room)
		r.transport.EmitToRoom(prev.Room, "", EventMessage,
			r.system(fmt.Sprintf("%s has left the room", prev.Name)))
	}

	user := r.users.Activate(id, req.Name, req.Room)

	// Roster of the old room is taken after the overwrite so it no longer
	// lists this connection.
	if hadRoom {
		r.transport.EmitToRoom(prev.Room, "", EventUserList, UserList{Users: r.users.UsersInRoom(prev.Room)})
	}

	r.transport.JoinRoom(id, user.Room)
	r.transport.Emit(id, EventMessage,
		r.system(fmt.Sprintf("You have joined the %s chat room", user.Room)))
	r.transport.EmitToRoom(user.Room, id, EventMessage,
		r.system(fmt.Sprintf("%s has joined the room", user.Name)))
	r.transport.EmitToRoom(user.Room, "", EventUserList, UserList{Users: r.users.UsersInRoom(user.Room)})
	r.transport.EmitToAll(EventRoomList, RoomList{Rooms: r.users.ActiveRooms()})
}

// Message relays a chat message to everyone in the sender's room, the sender
// included. Senders without a room are ignored. The sender name is taken from
// msg as sent, not from the directory.
func (r *Router) Message(id string, msg ChatMessage) {
	user, ok := r.users.Get(id)
	if !ok {
		return
	}
	r.transport.EmitToRoom(user.Room, "", EventMessage, buildMessage(msg.Name, msg.Text, r.now()))
}

// Activity relays a typing notice to the sender's room, the sender excluded.
func (r *Router) Activity(id, name string) {
	user, ok := r.users.Get(id)
	if !ok {
		return
	}
	r.transport.EmitToRoom(user.Room, id, EventActivity, name)
}

// Disconnect drops the membership of id and tells its room.
func (r *Router) Disconnect(id string) {
	user, ok := r.users.Get(id)
	r.users.Remove(id)
	if !ok {
		return
	}

	r.transport.LeaveRoom(id, user.Room)
	r.transport.EmitToRoom(user.Room, "", EventMessage,
		r.system(fmt.Sprintf("%s has left the room", user.Name)))
	r.transport.EmitToRoom(user.Room, "", EventUserList, UserList{Users: r.users.UsersInRoom(user.Room)})
	r.transport.EmitToAll(EventRoomList, RoomList{Rooms: r.users.ActiveRooms()})
}

// Dispatch decodes an inbound event payload and routes it. Errors describe
// events that were dropped; none of them affect router state.
func (r *Router) Dispatch(id, event string, data json.RawMessage) error {
	switch event {
	case EventEnterRoom:
		var req EnterRoom
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Room = strings.TrimSpace(req.Room)
		if req.Name == "" || req.Room == "" {
			return fmt.Errorf("%w: %s: name and room are required", ErrMalformedPayload, event)
		}
		r.EnterRoom(id, req)

	case EventMessage:
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return fmt.Errorf("%w: %s: text is required", ErrMalformedPayload, event)
		}
		r.Message(id, msg)

	case EventActivity:
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%w: %s: name is required", ErrMalformedPayload, event)
		}
		r.Activity(id, name)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return nil
}

func (r *Router) system(text string) Message {
	return buildMessage(SystemName, text, r.now())
}
