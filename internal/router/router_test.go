package router

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/directory"
)

type delivery struct {
	Event   string
	Payload any
}

// fakeTransport resolves audiences at emit time, like the hub does, and
// records what each connection would have received.
type fakeTransport struct {
	conns  []string
	groups map[string]map[string]bool
	inbox  map[string][]delivery
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		groups: make(map[string]map[string]bool),
		inbox:  make(map[string][]delivery),
	}
}

func (f *fakeTransport) connect(id string) {
	f.conns = append(f.conns, id)
}

func (f *fakeTransport) drop(id string) {
	for i, c := range f.conns {
		if c == id {
			f.conns = append(f.conns[:i], f.conns[i+1:]...)
			break
		}
	}
	for _, members := range f.groups {
		delete(members, id)
	}
}

func (f *fakeTransport) live(id string) bool {
	for _, c := range f.conns {
		if c == id {
			return true
		}
	}
	return false
}

func (f *fakeTransport) Emit(id, event string, payload any) {
	if f.live(id) {
		f.inbox[id] = append(f.inbox[id], delivery{event, payload})
	}
}

func (f *fakeTransport) EmitToRoom(room, except, event string, payload any) {
	for _, id := range f.conns {
		if f.groups[room][id] && id != except {
			f.inbox[id] = append(f.inbox[id], delivery{event, payload})
		}
	}
}

func (f *fakeTransport) EmitToAll(event string, payload any) {
	for _, id := range f.conns {
		f.inbox[id] = append(f.inbox[id], delivery{event, payload})
	}
}

func (f *fakeTransport) JoinRoom(id, room string) {
	if f.groups[room] == nil {
		f.groups[room] = make(map[string]bool)
	}
	f.groups[room][id] = true
}

func (f *fakeTransport) LeaveRoom(id, room string) {
	delete(f.groups[room], id)
}

func (f *fakeTransport) take(id string) []delivery {
	got := f.inbox[id]
	f.inbox[id] = nil
	return got
}

func (f *fakeTransport) resetAll() {
	f.inbox = make(map[string][]delivery)
}

var fixedTime = time.Date(2026, 10, 14, 15, 4, 5, 0, time.UTC)

func newTestRouter() (*Router, *fakeTransport) {
	transport := newFakeTransport()
	r := New(directory.New(), transport, WithClock(func() time.Time { return fixedTime }))
	return r, transport
}

func connect(r *Router, f *fakeTransport, id string) {
	f.connect(id)
	r.Connect(id)
}

func disconnect(r *Router, f *fakeTransport, id string) {
	f.drop(id)
	r.Disconnect(id)
}

func systemMsg(text string) Message {
	return Message{Name: SystemName, Text: text, Time: "3:04:05 PM"}
}

func ofEvent(deliveries []delivery, event string) []any {
	var out []any
	for _, d := range deliveries {
		if d.Event == event {
			out = append(out, d.Payload)
		}
	}
	return out
}

func names(list UserList) []string {
	out := make([]string, 0, len(list.Users))
	for _, u := range list.Users {
		out = append(out, u.Name)
	}
	return out
}

func sortedRooms(list RoomList) []string {
	out := append([]string(nil), list.Rooms...)
	sort.Strings(out)
	return out
}

func TestConnectSendsWelcomeOnlyToNewConnection(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	f.resetAll()

	connect(r, f, "b")

	assert.Empty(t, f.take("a"))
	assert.Equal(t, []delivery{{EventMessage, systemMsg("Welcome to Chat App!")}}, f.take("b"))
	assert.Equal(t, 0, r.Directory().Len(), "connect must not create a membership")
}

func TestEnterRoomFirstJoin(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})

	assert.Equal(t, []delivery{
		{EventMessage, systemMsg("You have joined the lobby chat room")},
		{EventUserList, UserList{Users: []directory.User{{ID: "a", Name: "Alice", Room: "lobby"}}}},
		{EventRoomList, RoomList{Rooms: []string{"lobby"}}},
	}, f.take("a"))
}

func TestSecondUserJoinsSameRoom(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	f.resetAll()

	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})

	gotA := f.take("a")
	gotB := f.take("b")

	assert.Equal(t, []any{systemMsg("Bob has joined the room")}, ofEvent(gotA, EventMessage))
	assert.Equal(t, []any{systemMsg("You have joined the lobby chat room")}, ofEvent(gotB, EventMessage),
		"joiner must not receive its own join announcement")

	for _, got := range [][]delivery{gotA, gotB} {
		lists := ofEvent(got, EventUserList)
		require.Len(t, lists, 1)
		assert.Equal(t, []string{"Alice", "Bob"}, names(lists[0].(UserList)))

		rooms := ofEvent(got, EventRoomList)
		require.Len(t, rooms, 1)
		assert.Equal(t, []string{"lobby"}, rooms[0].(RoomList).Rooms)
	}
}

func TestRoomListReachesConnectionsOutsideTheRoom(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "idle")
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})

	assert.Equal(t, []delivery{{EventRoomList, RoomList{Rooms: []string{"lobby"}}}}, f.take("idle"))
}

func TestSwitchingRooms(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	connect(r, f, "c")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	r.EnterRoom("c", EnterRoom{Name: "Carol", Room: "den"})
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "den"})

	gotB := f.take("b")
	assert.Equal(t, []delivery{
		{EventMessage, systemMsg("Alice has left the room")},
		{EventUserList, UserList{Users: []directory.User{{ID: "b", Name: "Bob", Room: "lobby"}}}},
		{EventRoomList, RoomList{Rooms: []string{"lobby", "den"}}},
	}, gotB)

	gotC := f.take("c")
	assert.Equal(t, []any{systemMsg("Alice has joined the room")}, ofEvent(gotC, EventMessage))
	lists := ofEvent(gotC, EventUserList)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"Carol", "Alice"}, names(lists[0].(UserList)))

	gotA := f.take("a")
	assert.Empty(t, ofEvent(gotA, EventActivity))
	for _, d := range gotA {
		if m, ok := d.Payload.(Message); ok {
			assert.NotEqual(t, "Alice has left the room", m.Text, "departed connection left the group first")
		}
	}
	rooms := ofEvent(gotA, EventRoomList)
	require.Len(t, rooms, 1)
	assert.Equal(t, []string{"den", "lobby"}, sortedRooms(rooms[0].(RoomList)))
}

func TestSwitchingOutOfLastOccupiedRoomDropsIt(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "den"})

	rooms := ofEvent(f.take("a"), EventRoomList)
	require.Len(t, rooms, 1)
	assert.Equal(t, []string{"den"}, rooms[0].(RoomList).Rooms)
}

func TestOldRoomCleanupPrecedesNewRoomJoin(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})

	// Record the global emission order through a wrapper.
	rec := &orderRecorder{Transport: f}
	r.transport = rec

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "den"})

	assert.Equal(t, []string{
		"leave lobby",
		"room lobby message",
		"room lobby userList",
		"join den",
		"one message",
		"room den message",
		"room den userList",
		"all roomList",
	}, rec.calls)
}

func TestReenteringSameRoomIsNotShortCircuited(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})

	gotB := f.take("b")
	assert.Equal(t, []any{
		systemMsg("Alice has left the room"),
		systemMsg("Alice has joined the room"),
	}, ofEvent(gotB, EventMessage))
	assert.Len(t, ofEvent(gotB, EventUserList), 2)
	assert.Equal(t, 2, r.Directory().Len())
}

func TestRenameOnReenter(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	r.EnterRoom("a", EnterRoom{Name: "Alicia", Room: "den"})

	assert.Equal(t, []any{systemMsg("Alice has left the room")}, ofEvent(f.take("b"), EventMessage),
		"old room is told the name it knew")
	user, ok := r.Directory().Get("a")
	require.True(t, ok)
	assert.Equal(t, "Alicia", user.Name)
	assert.Equal(t, 2, r.Directory().Len())
}

func TestMessageBeforeJoinIsDropped(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	r.Message("a", ChatMessage{Name: "Alice", Text: "hello"})

	assert.Empty(t, f.take("a"))
	assert.Empty(t, f.take("b"))
}

func TestMessageReachesWholeRoomIncludingSender(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	connect(r, f, "c")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	r.EnterRoom("c", EnterRoom{Name: "Carol", Room: "den"})
	f.resetAll()

	r.Message("a", ChatMessage{Name: "Alice", Text: "hi all"})

	want := []delivery{{EventMessage, Message{Name: "Alice", Text: "hi all", Time: "3:04:05 PM"}}}
	assert.Equal(t, want, f.take("a"))
	assert.Equal(t, want, f.take("b"))
	assert.Empty(t, f.take("c"))
}

func TestActivityExcludesSender(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	r.Activity("a", "Alice")

	assert.Empty(t, f.take("a"))
	assert.Equal(t, []delivery{{EventActivity, "Alice"}}, f.take("b"))
}

func TestActivityBeforeJoinIsDropped(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	r.Activity("a", "Alice")

	assert.Empty(t, f.take("b"))
}

func TestDisconnectOfMember(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	disconnect(r, f, "a")

	assert.Equal(t, []delivery{
		{EventMessage, systemMsg("Alice has left the room")},
		{EventUserList, UserList{Users: []directory.User{{ID: "b", Name: "Bob", Room: "lobby"}}}},
		{EventRoomList, RoomList{Rooms: []string{"lobby"}}},
	}, f.take("b"))

	for _, u := range r.Directory().UsersInRoom("lobby") {
		assert.NotEqual(t, "a", u.ID)
	}
}

func TestLastMemberDisconnectRemovesRoom(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "idle")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	f.resetAll()

	disconnect(r, f, "a")

	assert.Equal(t, []delivery{{EventRoomList, RoomList{Rooms: []string{}}}}, f.take("idle"))
	assert.Empty(t, r.Directory().ActiveRooms())
}

func TestDisconnectWithoutJoinEmitsNothing(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	f.resetAll()

	disconnect(r, f, "a")

	assert.Empty(t, f.take("b"))
}

func TestDisconnectTwiceIsHarmless(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})

	disconnect(r, f, "a")
	assert.NotPanics(t, func() { r.Disconnect("a") })
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		wantErr error
	}{
		{name: "enter room", event: EventEnterRoom, data: `{"name":"Alice","room":"den"}`},
		{name: "message", event: EventMessage, data: `{"name":"Alice","text":"hi"}`},
		{name: "activity", event: EventActivity, data: `"Alice"`},
		{name: "enter room missing room", event: EventEnterRoom, data: `{"name":"Alice"}`, wantErr: ErrMalformedPayload},
		{name: "enter room blank name", event: EventEnterRoom, data: `{"name":"  ","room":"lobby"}`, wantErr: ErrMalformedPayload},
		{name: "enter room not an object", event: EventEnterRoom, data: `"lobby"`, wantErr: ErrMalformedPayload},
		{name: "message wrong shape", event: EventMessage, data: `[1,2]`, wantErr: ErrMalformedPayload},
		{name: "message null", event: EventMessage, data: `null`, wantErr: ErrMalformedPayload},
		{name: "message empty object", event: EventMessage, data: `{}`, wantErr: ErrMalformedPayload},
		{name: "message blank text", event: EventMessage, data: `{"name":"Alice","text":"   "}`, wantErr: ErrMalformedPayload},
		{name: "activity not a string", event: EventActivity, data: `{"name":"Alice"}`, wantErr: ErrMalformedPayload},
		{name: "activity null", event: EventActivity, data: `null`, wantErr: ErrMalformedPayload},
		{name: "activity blank name", event: EventActivity, data: `" "`, wantErr: ErrMalformedPayload},
		{name: "missing payload", event: EventActivity, data: ``, wantErr: ErrMalformedPayload},
		{name: "unknown event", event: "kick", data: `{}`, wantErr: ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, f := newTestRouter()
			connect(r, f, "a")
			connect(r, f, "b")
			r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
			r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
			f.resetAll()

			err := r.Dispatch("a", tt.event, json.RawMessage(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.take("a"))
				assert.Empty(t, f.take("b"))
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, f.take("b"))
		})
	}
}

func TestDispatchTrimsActivityName(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	connect(r, f, "b")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	r.EnterRoom("b", EnterRoom{Name: "Bob", Room: "lobby"})
	f.resetAll()

	require.NoError(t, r.Dispatch("a", EventActivity, json.RawMessage(`" Alice "`)))

	assert.Equal(t, []delivery{{EventActivity, "Alice"}}, f.take("b"))
}

func TestDispatchTrimsEnterRoomFields(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")

	require.NoError(t, r.Dispatch("a", EventEnterRoom, json.RawMessage(`{"name":" Alice ","room":" lobby "}`)))

	user, ok := r.Directory().Get("a")
	require.True(t, ok)
	assert.Equal(t, directory.User{ID: "a", Name: "Alice", Room: "lobby"}, user)
}

func TestMalformedDispatchLeavesStateUntouched(t *testing.T) {
	r, f := newTestRouter()
	connect(r, f, "a")
	r.EnterRoom("a", EnterRoom{Name: "Alice", Room: "lobby"})
	f.resetAll()

	err := r.Dispatch("a", EventEnterRoom, json.RawMessage(`{"name":"Alice","room":""}`))

	require.Error(t, err)
	user, ok := r.Directory().Get("a")
	require.True(t, ok)
	assert.Equal(t, "lobby", user.Room)
	assert.Empty(t, f.take("a"))
}

type orderRecorder struct {
	Transport
	calls []string
}

func (o *orderRecorder) Emit(id, event string, payload any) {
	o.calls = append(o.calls, "one "+event)
	o.Transport.Emit(id, event, payload)
}

func (o *orderRecorder) EmitToRoom(room, except, event string, payload any) {
	o.calls = append(o.calls, "room "+room+" "+event)
	o.Transport.EmitToRoom(room, except, event, payload)
}

func (o *orderRecorder) EmitToAll(event string, payload any) {
	o.calls = append(o.calls, "all "+event)
	o.Transport.EmitToAll(event, payload)
}

func (o *orderRecorder) JoinRoom(id, room string) {
	o.calls = append(o.calls, "join "+room)
	o.Transport.JoinRoom(id, room)
}

func (o *orderRecorder) LeaveRoom(id, room string) {
	o.calls = append(o.calls, "leave "+room)
	o.Transport.LeaveRoom(id, room)
}
