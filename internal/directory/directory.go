// Package directory tracks which live connection sits in which room and under
// which display name. Rooms are never stored; they are projected from the
// current set of users every time they are requested.
package directory

import "sync"

// User is the membership record of a single connection.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// Directory is an in-memory registry of users keyed by connection id.
// All methods are safe for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	users []User
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{}
}

// Activate installs a fresh membership for id, replacing any previous one.
func (d *Directory) Activate(id, name, room string) User {
	user := User{ID: id, Name: name, Room: room}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.users = append(d.without(id), user)
	return user
}

// Remove deletes the membership for id. Unknown ids are ignored.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.users = d.without(id)
}

// Get returns the membership for id, if any.
func (d *Directory) Get(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, user := range d.users {
		if user.ID == id {
			return user, true
		}
	}
	return User{}, false
}

// UsersInRoom returns the users currently in room, in activation order.
// The result is never nil.
func (d *Directory) UsersInRoom(room string) []User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]User, 0, len(d.users))
	for _, user := range d.users {
		if user.Room == room {
			users = append(users, user)
		}
	}
	return users
}

// ActiveRooms returns every room that has at least one user, each once.
func (d *Directory) ActiveRooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]struct{}, len(d.users))
	rooms := make([]string, 0, len(d.users))
	for _, user := range d.users {
		if _, ok := seen[user.Room]; ok {
			continue
		}
		seen[user.Room] = struct{}{}
		rooms = append(rooms, user.Room)
	}
	return rooms
}

// Len reports how many connections currently hold a membership.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// without must be called with mu held. It returns a new slice so snapshots
// handed out earlier are never mutated.
func (d *Directory) without(id string) []User {
	kept := make([]User, 0, len(d.users)+1)
	for _, user := range d.users {
		if user.ID != id {
			kept = append(kept, user)
		}
	}
	return kept
}
