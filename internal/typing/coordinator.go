// Package typing keeps the ephemeral "is typing" set of each room with
// server-side expiry.
package typing

import (
	"sort"
	"sync"
	"time"
)

// ExpireFunc is called from a timer goroutine when an entry goes idle. The
// receiver confirms removal through Expire with the same generation.
type ExpireFunc func(room, username string, gen uint64)

type entry struct {
	timer *time.Timer
	gen   uint64
}

type Coordinator struct {
	mu       sync.Mutex
	timeout  time.Duration
	onExpire ExpireFunc
	gen      uint64
	rooms    map[string]map[string]*entry
}

func New(timeout time.Duration, onExpire ExpireFunc) *Coordinator {
	return &Coordinator{
		timeout:  timeout,
		onExpire: onExpire,
		rooms:    make(map[string]map[string]*entry),
	}
}

// Start marks username as typing and (re)arms its inactivity timer.
// It reports whether the user was newly added.
func (c *Coordinator) Start(room, username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := c.rooms[room]
	if users == nil {
		users = make(map[string]*entry)
		c.rooms[room] = users
	}
	e, existed := users[username]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		users[username] = e
	}
	c.gen++
	gen := c.gen
	e.gen = gen
	e.timer = time.AfterFunc(c.timeout, func() {
		if c.onExpire != nil {
			c.onExpire(room, username, gen)
		} else {
			c.Expire(room, username, gen)
		}
	})
	return !existed
}

// Stop removes username and cancels its timer. It reports whether the user
// was typing.
func (c *Coordinator) Stop(room, username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(room, username, 0)
}

// Clear is Stop for leave and disconnect paths.
func (c *Coordinator) Clear(room, username string) bool {
	return c.Stop(room, username)
}

// Expire removes username only if gen still identifies the current entry.
// A stale timer that lost the race with a fresh Start is ignored.
func (c *Coordinator) Expire(room, username string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(room, username, gen)
}

func (c *Coordinator) removeLocked(room, username string, gen uint64) bool {
	users := c.rooms[room]
	e, ok := users[username]
	if !ok {
		return false
	}
	if gen != 0 && e.gen != gen {
		return false
	}
	e.timer.Stop()
	delete(users, username)
	if len(users) == 0 {
		delete(c.rooms, room)
	}
	return true
}

// Typing returns the usernames currently typing in room, sorted.
func (c *Coordinator) Typing(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms[room]))
	for u := range c.rooms[room] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Close cancels every pending timer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for room, users := range c.rooms {
		for _, e := range users {
			e.timer.Stop()
		}
		delete(c.rooms, room)
	}
}
