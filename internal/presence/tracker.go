// Package presence tracks who is currently joined to each room.
package presence

import (
	"fmt"
	"sync"

	"github.com/campuschat/internal/model"
)

// RoomChecker reports whether a room id is registered.
type RoomChecker interface {
	Has(id string) bool
}

// Member is one joined identity and the connection session that owns it.
type Member struct {
	Identity model.Identity
	Session  string
}

// JoinResult is the room state right after a join.
type JoinResult struct {
	Members []model.Identity
	// Displaced is the session of a previous entry under the same username,
	// empty when nobody was replaced or the same session re-joined.
	Displaced string
}

// Tracker keeps one entry per username per room, ordered by join time.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string][]Member
	known RoomChecker
}

func NewTracker(known RoomChecker) *Tracker {
	return &Tracker{
		rooms: make(map[string][]Member),
		known: known,
	}
}

// Join adds identity to room. A second join under the same username replaces
// the earlier entry (last join wins) and moves it to the end of the order.
func (t *Tracker) Join(room string, identity model.Identity, session string) (JoinResult, error) {
	if !t.known.Has(room) {
		return JoinResult{}, fmt.Errorf("presence.Join %q: %w", room, model.ErrRoomNotFound)
	}
	identity.Room = room

	t.mu.Lock()
	defer t.mu.Unlock()

	var res JoinResult
	members := t.rooms[room]
	if i := indexOf(members, identity.Username); i >= 0 {
		if members[i].Session != session {
			res.Displaced = members[i].Session
		}
		members = append(members[:i], members[i+1:]...)
	}
	members = append(members, Member{Identity: identity, Session: session})
	t.rooms[room] = members
	res.Members = identities(members)
	return res, nil
}

// Leave removes username from room. Absent entries are ignored.
func (t *Tracker) Leave(room, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(room, username, "")
}

// Release removes username only while the entry still belongs to session, so
// a replaced connection closing late cannot evict its successor.
func (t *Tracker) Release(room, username, session string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(room, username, session)
}

func (t *Tracker) removeLocked(room, username, session string) bool {
	members := t.rooms[room]
	i := indexOf(members, username)
	if i < 0 {
		return false
	}
	if session != "" && members[i].Session != session {
		return false
	}
	members = append(members[:i], members[i+1:]...)
	if len(members) == 0 {
		delete(t.rooms, room)
	} else {
		t.rooms[room] = members
	}
	return true
}

// Restore puts room back to members, as returned earlier by Members.
func (t *Tracker) Restore(room string, members []Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(members) == 0 {
		delete(t.rooms, room)
		return
	}
	t.rooms[room] = append([]Member(nil), members...)
}

// Snapshot returns room members ordered by join time.
func (t *Tracker) Snapshot(room string) []model.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return identities(t.rooms[room])
}

// Members returns a copy of room's entries in join order.
func (t *Tracker) Members(room string) []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Member(nil), t.rooms[room]...)
}

// Sessions returns the owning session of every member of room, in join order.
func (t *Tracker) Sessions(room string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.rooms[room]
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Session
	}
	return out
}

func (t *Tracker) Count(room string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[room])
}

// Counts returns member counts for every non-empty room.
func (t *Tracker) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.rooms))
	for room, members := range t.rooms {
		out[room] = len(members)
	}
	return out
}

func indexOf(members []Member, username string) int {
	for i, m := range members {
		if m.Identity.Username == username {
			return i
		}
	}
	return -1
}

func identities(members []Member) []model.Identity {
	out := make([]model.Identity, len(members))
	for i, m := range members {
		out[i] = m.Identity
	}
	return out
}
