package router

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/directory"
)

// Event names carried in the envelope of every frame.
const (
	EventEnterRoom = "enter-room"
	EventMessage   = "message"
	EventActivity  = "activity"
	EventUserList  = "userList"
	EventRoomList  = "roomList"
)

// SystemName is the sender of join, leave and welcome notices.
const SystemName = "Admin"

// TimeLayout formats Message.Time.
const TimeLayout = "3:04:05 PM"

// EnterRoom is the inbound payload of an enter-room event.
type EnterRoom struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// ChatMessage is the inbound payload of a message event.
type ChatMessage struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Message is the outbound payload of a message event.
type Message struct {
	Name string `json:"name"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// UserList is the roster of a single room.
type UserList struct {
	Users []directory.User `json:"users"`
}

// RoomList names every occupied room.
type RoomList struct {
	Rooms []string `json:"rooms"`
}

func buildMessage(name, text string, now time.Time) Message {
	return Message{Name: name, Text: text, Time: now.Format(TimeLayout)}
}
