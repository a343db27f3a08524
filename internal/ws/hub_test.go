package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/store"
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	reg, err := registry.New(registry.DefaultRooms)
	require.NoError(t, err)
	h := NewHub(reg, store.New(store.Options{}), nil, nil, opts)
	t.Cleanup(h.typing.Close)
	return h
}

// newTestClient registers a connection-less client; its send channel is read
// directly by the test.
func newTestClient(h *Hub, verified *model.Identity) *Client {
	c := NewClient(h, nil, verified)
	if err := h.Register(c); err != nil {
		panic(err)
	}
	return c
}

func act(t *testing.T, h *Hub, c *Client, typ EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: typ, Payload: raw})
}

func expect(t *testing.T, c *Client, typ EventType) OutgoingMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		require.Equal(t, typ, msg.Type, "payload: %+v", msg.Payload)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", typ)
		return OutgoingMessage{}
	}
}

func expectError(t *testing.T, c *Client, code string) ErrorPayload {
	t.Helper()
	msg := expect(t, c, EventError)
	p := msg.Payload.(ErrorPayload)
	assert.Equal(t, code, p.Code)
	return p
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected %s: %+v", msg.Type, msg.Payload)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func user(name string) map[string]any {
	return map[string]any{"username": name, "displayName": name}
}

func join(t *testing.T, h *Hub, c *Client, room, name string) {
	t.Helper()
	act(t, h, c, EventJoinRoom, map[string]any{"room": room, "user": user(name)})
}

func usernames(ids []model.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Username
	}
	return out
}

func sendText(t *testing.T, h *Hub, c *Client, room, name, text string) model.Message {
	t.Helper()
	act(t, h, c, EventSendMessage, map[string]any{"room": room, "message": text, "user": user(name)})
	return expect(t, c, EventReceiveMessage).Payload.(model.Message)
}

func TestJoinBroadcastsFullSnapshot(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)

	join(t, h, alice, "general", "alice")
	notice := expect(t, alice, EventUserJoined).Payload.(model.Message)
	assert.Equal(t, model.MessageTypeSystem, notice.Type)
	assert.Contains(t, notice.Content, "alice")
	users := expect(t, alice, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"alice"}, usernames(users.Users))

	join(t, h, bob, "general", "bob")
	for _, c := range []*Client{alice, bob} {
		expect(t, c, EventUserJoined)
		users := expect(t, c, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
		assert.Equal(t, []string{"alice", "bob"}, usernames(users.Users))
		assert.Equal(t, 2, users.Count)
		assert.Equal(t, "general", users.Users[0].Room)
	}
}

func TestActionsBeforeJoinAreRejected(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)

	tests := []struct {
		typ     EventType
		payload map[string]any
	}{
		{EventSendMessage, map[string]any{"room": "general", "message": "hi"}},
		{EventTypingStart, map[string]any{"room": "general"}},
		{EventTypingStop, map[string]any{"room": "general"}},
		{EventToggleReaction, map[string]any{"messageId": "x", "emoji": "👍"}},
		{EventEditMessage, map[string]any{"messageId": "x", "newContent": "y"}},
		{EventDeleteMessage, map[string]any{"messageId": "x"}},
		{EventLeaveRoom, map[string]any{"room": "general"}},
	}
	for _, tt := range tests {
		act(t, h, c, tt.typ, tt.payload)
		p := expectError(t, c, model.CodeNotInRoom)
		assert.Equal(t, tt.typ, p.Action)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)

	join(t, h, c, "narnia", "alice")
	expectError(t, c, model.CodeRoomNotFound)
	room, _ := c.joined()
	assert.Empty(t, room)
	assert.Empty(t, c.boundUsername(), "failed join does not bind identity")
}

func TestJoinRequiresUsername(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)

	act(t, h, c, EventJoinRoom, map[string]any{"room": "general"})
	expectError(t, c, model.CodeInvalidMessage)
}

func TestSendDeliversToRoomOnly(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob, carol := newTestClient(h, nil), newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	join(t, h, carol, "study-help", "carol")
	drain(alice)
	drain(bob)
	drain(carol)

	sent := sendText(t, h, alice, "general", "alice", "hello")
	got := expect(t, bob, EventReceiveMessage).Payload.(model.Message)

	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.User.Username)
	expectNothing(t, carol)
}

func TestInvalidMessageGoesToActorOnly(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	act(t, h, alice, EventSendMessage, map[string]any{"room": "general", "message": "   "})
	expectError(t, alice, model.CodeInvalidMessage)
	expectNothing(t, bob)

	act(t, h, alice, EventSendMessage, map[string]any{"room": "events", "message": "wrong room"})
	expectError(t, alice, model.CodeNotInRoom)
	expectNothing(t, bob)
}

func TestActorMustMatchBoundIdentity(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)
	join(t, h, c, "general", "alice")
	drain(c)

	act(t, h, c, EventSendMessage, map[string]any{"room": "general", "message": "hi", "user": user("bob")})
	expectError(t, c, model.CodeForbidden)

	join(t, h, c, "general", "bob")
	expectError(t, c, model.CodeForbidden)

	// omitted username means the bound one
	act(t, h, c, EventSendMessage, map[string]any{"room": "general", "message": "hi"})
	msg := expect(t, c, EventReceiveMessage).Payload.(model.Message)
	assert.Equal(t, "alice", msg.User.Username)
}

func TestVerifiedIdentityWins(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, &model.Identity{Username: "alice", Year: "3"})

	join(t, h, c, "general", "mallory")
	expectError(t, c, model.CodeForbidden)

	act(t, h, c, EventJoinRoom, map[string]any{"room": "general", "user": map[string]any{"displayName": "Alice A."}})
	expect(t, c, EventUserJoined)
	users := expect(t, c, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "alice", users.Users[0].Username)
	assert.Equal(t, "Alice A.", users.Users[0].DisplayName)
	assert.Equal(t, "3", users.Users[0].Year)
}

func TestEditAndDelete(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	msg := sendText(t, h, alice, "general", "alice", "hello")
	expect(t, bob, EventReceiveMessage)

	act(t, h, bob, EventEditMessage, map[string]any{"messageId": msg.ID, "newContent": "pwned"})
	expectError(t, bob, model.CodeForbidden)
	expectNothing(t, alice)

	act(t, h, alice, EventEditMessage, map[string]any{"messageId": msg.ID, "newContent": "hello world"})
	for _, c := range []*Client{alice, bob} {
		p := expect(t, c, EventMessageEdited).Payload.(MessageEditedPayload)
		assert.Equal(t, msg.ID, p.MessageID)
		assert.Equal(t, "hello world", p.Content)
		assert.True(t, p.Edited.IsEdited)
		require.Len(t, p.Edited.EditHistory, 1)
		assert.Equal(t, "hello", p.Edited.EditHistory[0].Content)
	}

	act(t, h, alice, EventEditMessage, map[string]any{"messageId": "nope", "newContent": "x"})
	expectError(t, alice, model.CodeNotFound)

	act(t, h, bob, EventDeleteMessage, map[string]any{"messageId": msg.ID})
	expectError(t, bob, model.CodeForbidden)

	act(t, h, alice, EventDeleteMessage, map[string]any{"messageId": msg.ID})
	for _, c := range []*Client{alice, bob} {
		p := expect(t, c, EventMessageDeleted).Payload.(MessageDeletedPayload)
		assert.Equal(t, msg.ID, p.MessageID)
		assert.Equal(t, "alice", p.DeletedBy)
	}

	// second delete is a silent no-op
	act(t, h, alice, EventDeleteMessage, map[string]any{"messageId": msg.ID})
	expectNothing(t, alice)
	expectNothing(t, bob)
}

func TestToggleReaction(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)
	msg := sendText(t, h, alice, "general", "alice", "hello")
	expect(t, bob, EventReceiveMessage)

	act(t, h, bob, EventToggleReaction, map[string]any{"messageId": msg.ID, "emoji": "👍", "user": user("bob")})
	for _, c := range []*Client{alice, bob} {
		p := expect(t, c, EventReactionUpdated).Payload.(ReactionUpdatedPayload)
		assert.Equal(t, "added", p.Action)
		assert.Equal(t, "bob", p.User.Username)
		require.Len(t, p.Reactions, 1)
		assert.Equal(t, 1, p.Reactions[0].Count)
	}

	act(t, h, bob, EventToggleReaction, map[string]any{"messageId": msg.ID, "emoji": "👍"})
	p := expect(t, alice, EventReactionUpdated).Payload.(ReactionUpdatedPayload)
	assert.Equal(t, "removed", p.Action)
	assert.Empty(t, p.Reactions)
}

func TestMessageOfAnotherRoomIsNotFound(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, carol := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, carol, "study-help", "carol")
	drain(alice)
	drain(carol)
	msg := sendText(t, h, alice, "general", "alice", "hello")

	act(t, h, carol, EventToggleReaction, map[string]any{"messageId": msg.ID, "emoji": "👍"})
	expectError(t, carol, model.CodeNotFound)
	expectNothing(t, alice)
}

func TestTypingIsIncrementalAndExpires(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{TypingTimeout: 50 * time.Millisecond})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	act(t, h, alice, EventTypingStart, map[string]any{"room": "general", "user": user("alice")})
	p := expect(t, bob, EventUserTyping).Payload.(UserTypingPayload)
	assert.Equal(t, "alice", p.User)
	expectNothing(t, alice)

	act(t, h, alice, EventTypingStart, map[string]any{"room": "general"})
	expectNothing(t, bob)

	// no explicit stop: the server expires it
	stop := expect(t, bob, EventUserStopTyping).Payload.(UserStopTypingPayload)
	assert.Equal(t, "alice", stop.User)
	expectNothing(t, alice)
}

func TestTypingStopAndSendClearIndicator(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{TypingTimeout: time.Hour})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	act(t, h, alice, EventTypingStart, map[string]any{"room": "general"})
	expect(t, bob, EventUserTyping)
	act(t, h, alice, EventTypingStop, map[string]any{"room": "general"})
	expect(t, bob, EventUserStopTyping)
	act(t, h, alice, EventTypingStop, map[string]any{"room": "general"})
	expectNothing(t, bob)

	act(t, h, alice, EventTypingStart, map[string]any{"room": "general"})
	expect(t, bob, EventUserTyping)
	sendText(t, h, alice, "general", "alice", "done typing")
	expect(t, bob, EventReceiveMessage)
	expect(t, bob, EventUserStopTyping)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{TypingTimeout: time.Hour})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	act(t, h, bob, EventTypingStart, map[string]any{"room": "general"})
	drain(alice)
	drain(bob)

	h.removeClient(bob)

	expect(t, alice, EventUserStopTyping)
	left := expect(t, alice, EventUserLeft).Payload.(model.Message)
	assert.Contains(t, left.Content, "bob")
	users := expect(t, alice, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"alice"}, usernames(users.Users))
	assert.Empty(t, h.typing.Typing("general"), "typing timer cancelled on disconnect")

	// the left notice is part of history
	hist := h.store.History("general", 0)
	assert.Equal(t, left.ID, hist[len(hist)-1].ID)
}

func TestLeaveRoomAction(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	act(t, h, bob, EventLeaveRoom, map[string]any{"room": "general"})
	expect(t, alice, EventUserLeft)
	expect(t, alice, EventRoomUsersUpdated)
	expectNothing(t, bob)

	act(t, h, bob, EventSendMessage, map[string]any{"room": "general", "message": "still here?"})
	expectError(t, bob, model.CodeNotInRoom)
}

func TestRoomSwitch(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	join(t, h, bob, "general", "bob")
	drain(alice)
	drain(bob)

	join(t, h, alice, "study-help", "alice")
	expect(t, bob, EventUserLeft)
	users := expect(t, bob, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"bob"}, usernames(users.Users))

	expect(t, alice, EventUserJoined)
	users = expect(t, alice, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, "study-help", users.Room)

	sendText(t, h, alice, "study-help", "alice", "new room")
	expectNothing(t, bob)
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	alice := newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	drain(alice)

	join(t, h, alice, "general", "alice")
	expect(t, alice, EventUserJoined)
	users := expect(t, alice, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"alice"}, usernames(users.Users))
}

func TestNewerSessionReplacesOlder(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	old, fresh := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, old, "general", "alice")
	drain(old)

	join(t, h, fresh, "general", "alice")
	expectError(t, old, model.CodeReplaced)
	expectNothing(t, old)
	expect(t, fresh, EventUserJoined)
	users := expect(t, fresh, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"alice"}, usernames(users.Users))

	act(t, h, old, EventSendMessage, map[string]any{"room": "general", "message": "ghost"})
	expectError(t, old, model.CodeNotInRoom)

	// the old connection closing must not evict the new one
	h.removeClient(old)
	expectNothing(t, fresh)
	got, err := h.RoomUsers("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, usernames(got))
}

func TestRateLimitedActions(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{ActionRate: 0.001, ActionBurst: 2})
	c := newTestClient(h, nil)
	join(t, h, c, "general", "alice")
	drain(c)

	sendText(t, h, c, "general", "alice", "one")
	act(t, h, c, EventSendMessage, map[string]any{"room": "general", "message": "two"})
	expectError(t, c, model.CodeRateLimited)

	// typing is not rate limited
	act(t, h, c, EventTypingStart, map[string]any{"room": "general"})
	expectNothing(t, c)
}

func TestUnknownEventAndBadPayload(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: "pin-message"})
	expectError(t, c, model.CodeInvalidMessage)

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventJoinRoom, Payload: json.RawMessage(`[1,2]`)})
	expectError(t, c, model.CodeInvalidMessage)
}

func TestSlowClientIsClosed(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{SendBufferSize: 4})
	alice, bob := newTestClient(h, nil), newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	drain(alice)
	join(t, h, bob, "general", "bob") // bob never reads
	drain(alice)
	pumps, stopPumps := context.WithCancel(context.Background())
	defer stopPumps()
	bob.mu.Lock()
	bob.cancel = stopPumps
	bob.mu.Unlock()

	for i := 0; i < 3; i++ {
		sendText(t, h, alice, "general", "alice", fmt.Sprintf("msg %d", i))
	}
	select {
	case <-bob.done:
	default:
		t.Fatal("slow client was not closed")
	}
	// the pumps are told to stop; the socket itself is closed by writePump
	assert.ErrorIs(t, pumps.Err(), context.Canceled)
	select {
	case <-alice.done:
		t.Fatal("fast client was closed")
	default:
	}
}

func TestConnectionLimit(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{MaxConns: 1})
	newTestClient(h, nil)
	second := NewClient(h, nil, nil)

	assert.ErrorIs(t, h.Register(second), ErrTooManyConnections)
	assert.Equal(t, 1, h.ConnCount())
}

func TestRegisterAfterShutdown(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	cancel()
	<-done

	assert.ErrorIs(t, h.Register(NewClient(h, nil, nil)), ErrHubClosed)
	assert.Zero(t, h.ConnCount())
}

// A connection that acted without ever being registered (rejected by the
// limit) still leaves its room when it is removed.
func TestRemoveUnregisteredClientLeavesRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{MaxConns: 1, TypingTimeout: time.Hour})
	alice := newTestClient(h, nil)
	join(t, h, alice, "general", "alice")
	drain(alice)

	bob := NewClient(h, nil, nil)
	join(t, h, bob, "general", "bob")
	require.ErrorIs(t, h.Register(bob), ErrTooManyConnections)
	drain(alice)

	h.removeClient(bob)

	users, err := h.RoomUsers("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, usernames(users))
	expect(t, alice, EventUserLeft)
	snapshot := expect(t, alice, EventRoomUsersUpdated).Payload.(RoomUsersPayload)
	assert.Equal(t, []string{"alice"}, usernames(snapshot.Users))
	assert.Equal(t, 1, h.ConnCount())
	room, _ := bob.joined()
	assert.Empty(t, room)
}

// All members observe one room's events in the same order even when many
// connections send at once.
func TestConcurrentSendsKeepOneOrder(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{SendBufferSize: 4096, ActionBurst: 1000, ActionRate: 1000})
	const senders, each = 8, 25
	clients := make([]*Client, senders)
	for i := range clients {
		clients[i] = newTestClient(h, nil)
		join(t, h, clients[i], "general", fmt.Sprintf("user%d", i))
	}
	for _, c := range clients {
		drain(c)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				raw, _ := json.Marshal(map[string]any{"room": "general", "message": fmt.Sprintf("%d-%d", i, j)})
				h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventSendMessage, Payload: raw})
			}
		}(i, c)
	}
	wg.Wait()

	var reference []string
	for idx, c := range clients {
		var ids []string
		for len(ids) < senders*each {
			msg := expect(t, c, EventReceiveMessage)
			ids = append(ids, msg.Payload.(model.Message).ID)
		}
		if idx == 0 {
			reference = ids
			continue
		}
		assert.Equal(t, reference, ids, "client %d saw a different order", idx)
	}
	seen := make(map[string]bool)
	for _, id := range reference {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, Options{})
	c := newTestClient(h, nil)
	join(t, h, c, "events", "alice")
	drain(c)
	sendText(t, h, c, "events", "alice", "party")

	var found bool
	for _, s := range h.Stats() {
		if s.Room == "events" {
			found = true
			assert.Equal(t, 1, s.Members)
			assert.Equal(t, 2, s.Messages, "join notice and message")
		}
	}
	assert.True(t, found)
	assert.Equal(t, 1, h.OnlineCount("events"))
}

func TestPanicIsContainedToAction(t *testing.T) {
	t.Parallel()
	reg, err := registry.New(registry.DefaultRooms)
	require.NoError(t, err)
	// no store: the join notice dereferences nil and panics
	h := NewHub(reg, nil, nil, nil, Options{TypingTimeout: time.Hour})
	t.Cleanup(h.typing.Close)
	c := newTestClient(h, nil)

	join(t, h, c, "general", "alice")
	p := expectError(t, c, model.CodeInternal)
	assert.Equal(t, EventJoinRoom, p.Action)

	// the half-done join was undone
	users, err := h.RoomUsers("general")
	require.NoError(t, err)
	assert.Empty(t, users)
	room, _ := c.joined()
	assert.Empty(t, room)
	assert.Empty(t, c.boundUsername())
	mu := h.locks["general"]
	require.True(t, mu.TryLock(), "room lock still held after panic")
	mu.Unlock()

	// the connection keeps working
	done := make(chan struct{})
	go func() {
		defer close(done)
		act(t, h, c, EventTypingStart, map[string]any{"room": "general"})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up action blocked")
	}
	expectError(t, c, model.CodeNotInRoom)
	expectNothing(t, c)
}
