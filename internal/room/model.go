// Package room is the authoritative local replica of rooms, users, their
// files, readiness, and controller flags described in §3 and §4.5. It
// applies server-originated List snapshots and Set deltas; it is never
// mutated speculatively by local events (those go out as outbound Set
// messages and come back through the same apply path once echoed).
package room

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
)

// File describes a media file by identity, size, and duration (§3).
type File struct {
	Name     string
	Size     int64
	Duration float64
}

// FileIdentity computes the identity string used for peer comparison: the
// base filename, or — when anonymize is set — a salted SHA-256 hash of it,
// per §3's "a hash variant may be used when anonymity is configured" and
// SPEC_FULL §4.9.
func FileIdentity(path string, anonymize bool, salt string) string {
	name := filepath.Base(path)
	if !anonymize {
		return name
	}
	sum := sha256.Sum256([]byte(salt + name))
	return hex.EncodeToString(sum[:])
}

// User is one member of a room (§3).
type User struct {
	Username     string
	Room         string
	File         *File
	Ready        bool
	IsController bool
}

// Room is a named group of users (§3). Membership is keyed by username,
// unique within the room.
type Room struct {
	Name  string
	Users map[string]*User
}

// Model is the shared, lock-protected user/room replica. Per §5, writers
// are the coordinator goroutine only; facade observers take read locks
// with short critical sections.
type Model struct {
	mu           sync.RWMutex
	localUser    string
	rooms        map[string]*Room // keyed by room name
	userToRoom   map[string]string
}

// New returns an empty Model. localUser names the local client's own
// username, used by LocalUser and LocalRoom and protected from removal
// by RemoveUser and RemoveAllExceptLocal.
func New(localUser string) *Model {
	return &Model{
		localUser:  localUser,
		rooms:      make(map[string]*Room),
		userToRoom: make(map[string]string),
	}
}

// LocalUser returns the local client's username.
func (m *Model) LocalUser() string { return m.localUser }

func (m *Model) roomOrCreate(name string) *Room {
	r, ok := m.rooms[name]
	if !ok {
		r = &Room{Name: name, Users: make(map[string]*User)}
		m.rooms[name] = r
	}
	return r
}

// ApplyList replaces the known user set for every room mentioned in the
// snapshot (§4.5: "these are full snapshots and replace the known user
// set for mentioned rooms"). Rooms not mentioned are left untouched.
// Applying the same snapshot twice yields identical state (§8 idempotence).
func (m *Model) ApplyList(rooms map[string]map[string]RoomUserView) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomName, users := range rooms {
		// Remove stale userToRoom entries for users no longer listed here.
		if existing, ok := m.rooms[roomName]; ok {
			for uname := range existing.Users {
				if _, stillThere := users[uname]; !stillThere {
					delete(m.userToRoom, uname)
				}
			}
		}
		r := &Room{Name: roomName, Users: make(map[string]*User, len(users))}
		for uname, view := range users {
			u := &User{Username: uname, Room: roomName, Ready: view.Ready, IsController: view.IsController}
			if view.File != nil {
				f := *view.File
				u.File = &f
			}
			r.Users[uname] = u
			m.userToRoom[uname] = roomName
		}
		m.rooms[roomName] = r
	}
}

// RoomUserView is the input shape ApplyList consumes, decoupled from the
// wire protocol package so this package has no dependency on it.
type RoomUserView struct {
	File         *File
	Ready        bool
	IsController bool
}

// SetDelta is the input shape ApplySet consumes.
type SetDelta struct {
	User           string
	File           *File
	Room           string // new room name, "" means unchanged
	HasReady       bool
	Ready          bool
	HasController  bool
	IsController   bool
}

// ApplySet applies an incremental delta from a server Set message,
// creating the user on first mention (§3 lifecycle: "created on first
// mention by the server"). A Set mixing readiness and file in one object
// applies both (§9 open question, resolved: both are applied).
func (m *Model) ApplySet(d SetDelta) {
	if d.User == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	roomName, existed := m.userToRoom[d.User]
	if d.Room != "" {
		roomName = d.Room
	}
	if roomName == "" {
		return
	}

	if existed && roomName != m.userToRoom[d.User] {
		if old, ok := m.rooms[m.userToRoom[d.User]]; ok {
			delete(old.Users, d.User)
		}
	}

	r := m.roomOrCreate(roomName)
	u, ok := r.Users[d.User]
	if !ok {
		u = &User{Username: d.User, Room: roomName}
		r.Users[d.User] = u
	}
	u.Room = roomName
	if d.File != nil {
		f := *d.File
		u.File = &f
	}
	if d.HasReady {
		u.Ready = d.Ready
	}
	if d.HasController {
		u.IsController = d.IsController
	}
	m.userToRoom[d.User] = roomName
}

// RemoveUser destroys a user's record, e.g. on a server departure signal
// (§3 lifecycle). Removing the local client itself is a caller error and
// is a no-op here; disconnection is handled by the coordinator instead.
func (m *Model) RemoveUser(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if username == m.localUser {
		return
	}
	roomName, ok := m.userToRoom[username]
	if !ok {
		return
	}
	if r, ok := m.rooms[roomName]; ok {
		delete(r.Users, username)
	}
	delete(m.userToRoom, username)
}

// RemoveAllExceptLocal clears every non-local user, per §3: "destroyed ...
// on disconnect for all non-self users".
func (m *Model) RemoveAllExceptLocal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, roomName := range m.userToRoom {
		if name == m.localUser {
			continue
		}
		if r, ok := m.rooms[roomName]; ok {
			delete(r.Users, name)
		}
		delete(m.userToRoom, name)
	}
}

// User returns a copy of the named user's record, or false if unknown.
// Snapshots are always copies; callers never get a live reference (§9).
func (m *Model) User(username string) (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomName, ok := m.userToRoom[username]
	if !ok {
		return User{}, false
	}
	r := m.rooms[roomName]
	u, ok := r.Users[username]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// LocalRoom returns the name of the room the local user is currently in,
// or "" if the local user isn't known yet.
func (m *Model) LocalRoom() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userToRoom[m.localUser]
}

// RoomUsers returns a snapshot slice of every user in the named room.
func (m *Model) RoomUsers(roomName string) []User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return nil
	}
	out := make([]User, 0, len(r.Users))
	for _, u := range r.Users {
		out = append(out, cloneUser(u))
	}
	return out
}

func cloneUser(u *User) User {
	cp := *u
	if u.File != nil {
		f := *u.File
		cp.File = &f
	}
	return cp
}
