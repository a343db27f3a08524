package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/metrics"
	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/presence"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/storage"
	"github.com/campuschat/internal/store"
	"github.com/campuschat/internal/typing"
)

var (
	errReplaced = errors.New("session replaced by a newer connection")
	errInternal = errors.New("internal error")

	ErrTooManyConnections = errors.New("connection limit reached")
	ErrHubClosed          = errors.New("hub is shut down")
)

var validate = validator.New()

type Options struct {
	MaxConns       int
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	ActionRate     float64
	ActionBurst    int
	TypingTimeout  time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16384
	}
	if o.ActionRate <= 0 {
		o.ActionRate = 10
	}
	if o.ActionBurst <= 0 {
		o.ActionBurst = 20
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = time.Second
	}
}

// Hub is the relay: it routes client actions to presence, typing and the
// message store and fans the results out to the room.
//
// Every mutation of a room and the enqueueing of its broadcasts happen under
// that room's lock, so all members see one room's events in one order. Sends
// into client buffers never block and sockets are never closed under a room
// lock. A goroutine holds at most one room lock at a time.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client // session → client
	closed  bool

	opts     Options
	rooms    *registry.Registry
	locks    map[string]*sync.Mutex
	presence *presence.Tracker
	typing   *typing.Coordinator
	store    *store.Store
	archive  *storage.Writer
	metrics  *metrics.Metrics

	unregister chan *Client
	done       chan struct{}
}

// NewHub builds the relay. archive and m may be nil.
func NewHub(rooms *registry.Registry, st *store.Store, archive *storage.Writer, m *metrics.Metrics, opts Options) *Hub {
	opts.withDefaults()
	h := &Hub{
		clients:    make(map[string]*Client),
		opts:       opts,
		rooms:      rooms,
		locks:      make(map[string]*sync.Mutex),
		presence:   presence.NewTracker(rooms),
		store:      st,
		archive:    archive,
		metrics:    m,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	for _, id := range rooms.IDs() {
		h.locks[id] = &sync.Mutex{}
	}
	h.typing = typing.New(opts.TypingTimeout, h.expireTyping)
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[string]*Client)
	h.closed = true
	h.mu.Unlock()

	h.typing.Close()
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if len(h.clients) >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting session=%s", h.opts.MaxConns, c.session)
		return ErrTooManyConnections
	}
	h.clients[c.session] = c
	h.mu.Unlock()
	h.metrics.ConnOpened()
	logger.Debugf("ws connected session=%s user=%s", c.session, c.boundUsername())
	return nil
}

// removeClient forgets c and takes it out of its room. The leave runs even
// if c never made it into the map, so presence never outlives a connection.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, registered := h.clients[c.session]
	delete(h.clients, c.session)
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	if registered {
		h.metrics.ConnClosed()
	}

	if room, _ := c.joined(); room != "" {
		h.leaveRoom(c, room)
	}
	logger.Debugf("ws disconnected session=%s user=%s", c.session, c.boundUsername())
}

// Register adds c synchronously. Call it before c.Start: a client must be
// registered before its first action can reach the hub.
func (h *Hub) Register(c *Client) error {
	return h.addClient(c)
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// HandleMessage dispatches one client action. Failures are reported to the
// acting connection only; a panic is contained to the action.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handle "+string(msg.Type), time.Now())()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws panic handling %s session=%s: %v\n%s", msg.Type, c.session, r, debug.Stack())
			h.reject(c, msg.Type, errInternal)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if msg.Type != EventTypingStart && msg.Type != EventTypingStop && !c.limiter.Allow() {
		h.reject(c, msg.Type, model.ErrRateLimited)
		return
	}

	var err error
	switch msg.Type {
	case EventJoinRoom:
		err = h.handleJoinRoom(c, msg.Payload)
	case EventLeaveRoom:
		err = h.handleLeaveRoom(c, msg.Payload)
	case EventSendMessage:
		err = h.handleSendMessage(c, msg.Payload)
	case EventTypingStart:
		err = h.handleTyping(c, msg.Payload, true)
	case EventTypingStop:
		err = h.handleTyping(c, msg.Payload, false)
	case EventToggleReaction:
		err = h.handleToggleReaction(c, msg.Payload)
	case EventEditMessage:
		err = h.handleEditMessage(c, msg.Payload)
	case EventDeleteMessage:
		err = h.handleDeleteMessage(c, msg.Payload)
	default:
		err = fmt.Errorf("unknown event %q: %w", msg.Type, model.ErrInvalidMessage)
	}
	if err != nil {
		h.reject(c, msg.Type, err)
		return
	}
	h.metrics.Action(string(msg.Type))
}

var errorText = map[string]string{
	model.CodeRoomNotFound:   "room not found",
	model.CodeNotInRoom:      "join a room first",
	model.CodeInvalidMessage: "invalid message",
	model.CodeNotFound:       "message not found",
	model.CodeForbidden:      "not allowed",
	model.CodeRateLimited:    "too many actions, slow down",
	model.CodeReplaced:       errReplaced.Error(),
	model.CodeInternal:       errInternal.Error(),
}

func errorCode(err error) string {
	if errors.Is(err, errReplaced) {
		return model.CodeReplaced
	}
	return model.ErrorCode(err)
}

func (h *Hub) reject(c *Client, action EventType, err error) {
	code := errorCode(err)
	if code == model.CodeInternal {
		logger.Errorf("ws %s session=%s: %v", action, c.session, err)
	} else {
		logger.Debugf("ws rejected %s session=%s code=%s: %v", action, c.session, code, err)
	}
	h.metrics.Rejected(string(action), code)
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		Action:  action,
		Code:    code,
		Message: errorText[code],
	}})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, model.ErrInvalidMessage)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate payload: %v: %w", err, model.ErrInvalidMessage)
	}
	return nil
}

// checkActor rejects actions claiming a username other than the one bound to
// the connection. An omitted username means "the bound user".
func checkActor(c *Client, user UserRef) error {
	bound := c.boundUsername()
	if user.Username != "" && bound != "" && user.Username != bound {
		return fmt.Errorf("user %q on connection bound to %q: %w", user.Username, bound, model.ErrForbidden)
	}
	return nil
}

// joinIdentity: token claims win over the payload; the payload only fills
// profile fields the token did not carry.
func joinIdentity(c *Client, user UserRef) model.Identity {
	id := user.identity()
	if c.verified != nil {
		v := *c.verified
		if v.DisplayName == "" {
			v.DisplayName = id.DisplayName
		}
		if v.Year == "" {
			v.Year = id.Year
		}
		if v.Branch == "" {
			v.Branch = id.Branch
		}
		return v
	}
	if bound := c.boundUsername(); bound != "" {
		id.Username = bound
	}
	return id
}

func (h *Hub) handleJoinRoom(c *Client, raw json.RawMessage) error {
	var p JoinRoomPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	if _, err := h.rooms.Get(p.Room); err != nil {
		return err
	}
	identity := joinIdentity(c, p.User)
	if identity.Username == "" {
		return fmt.Errorf("join without username: %w", model.ErrInvalidMessage)
	}
	if err := validate.Struct(identity); err != nil {
		return fmt.Errorf("identity: %v: %w", err, model.ErrInvalidMessage)
	}

	// Room switch: leave the old room before taking the new room's lock.
	if prev, _ := c.joined(); prev != "" && prev != p.Room {
		h.leaveRoom(c, prev)
	}

	mu := h.locks[p.Room]
	mu.Lock()
	defer mu.Unlock()

	before := h.presence.Members(p.Room)
	prev := c.joinState()
	res, err := h.presence.Join(p.Room, identity, c.session)
	if err != nil {
		return err
	}
	identity.Room = p.Room
	c.setJoined(p.Room, identity)

	// Откат: если ниже что-то паникует, комната и клиент возвращаются в
	// состояние до join, пока лок комнаты ещё взят.
	committed := false
	defer func() {
		if !committed {
			h.presence.Restore(p.Room, before)
			c.restoreJoinState(prev)
		}
	}()

	h.noticeLocked(p.Room, EventUserJoined, identity.Label()+" joined the chat")
	h.broadcastLocked(p.Room, OutgoingMessage{Type: EventRoomUsersUpdated, Payload: RoomUsersPayload{
		Room:  p.Room,
		Users: res.Members,
		Count: len(res.Members),
	}}, "")
	if res.Displaced != "" {
		h.displaceLocked(res.Displaced, p.Room)
	}
	committed = true
	return nil
}

// displaceLocked moves a session whose presence entry was taken over by a
// newer join back to Unjoined and tells it why.
func (h *Hub) displaceLocked(session, room string) {
	h.mu.RLock()
	old := h.clients[session]
	h.mu.RUnlock()
	if old == nil {
		return
	}
	if old.setUnjoined(room) {
		h.reject(old, EventJoinRoom, errReplaced)
	}
}

func (h *Hub) handleLeaveRoom(c *Client, raw json.RawMessage) error {
	var p LeaveRoomPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	room, _ := c.joined()
	if room == "" || (p.Room != "" && p.Room != room) {
		return fmt.Errorf("leave %q: %w", p.Room, model.ErrNotInRoom)
	}
	h.leaveRoom(c, room)
	return nil
}

// leaveRoom takes room's lock and removes c from it, if c is still there.
func (h *Hub) leaveRoom(c *Client, room string) {
	mu := h.locks[room]
	mu.Lock()
	defer mu.Unlock()
	if !c.setUnjoined(room) {
		return
	}
	_, identity := c.joined()
	// A displaced session no longer owns the presence entry: nothing to announce.
	if !h.presence.Release(room, identity.Username, c.session) {
		return
	}
	if h.typing.Clear(room, identity.Username) {
		h.broadcastLocked(room, OutgoingMessage{Type: EventUserStopTyping, Payload: UserStopTypingPayload{
			Room: room, User: identity.Username,
		}}, identity.Username)
	}
	h.noticeLocked(room, EventUserLeft, identity.Label()+" left the chat")
	members := h.presence.Snapshot(room)
	h.broadcastLocked(room, OutgoingMessage{Type: EventRoomUsersUpdated, Payload: RoomUsersPayload{
		Room: room, Users: members, Count: len(members),
	}}, "")
}

// noticeLocked stores a system message and broadcasts it as event.
func (h *Hub) noticeLocked(room string, event EventType, text string) {
	notice, err := h.store.AppendSystem(room, text)
	if err != nil {
		logger.Errorf("ws system message room=%s: %v", room, err)
		return
	}
	h.archiveMessage(notice)
	h.broadcastLocked(room, OutgoingMessage{Type: event, Payload: notice}, "")
}

// withRoom runs fn under the lock of the room c is joined to. want, when set,
// must name that room.
func (h *Hub) withRoom(c *Client, want string, fn func(room string, identity model.Identity) error) error {
	room, _ := c.joined()
	if room == "" {
		return model.ErrNotInRoom
	}
	if want != "" && want != room {
		return fmt.Errorf("action for %q while in %q: %w", want, room, model.ErrNotInRoom)
	}
	mu := h.locks[room]
	mu.Lock()
	defer mu.Unlock()
	// re-check: the client may have been displaced while we waited
	cur, identity := c.joined()
	if cur != room {
		return model.ErrNotInRoom
	}
	return fn(room, identity)
}

func (h *Hub) handleSendMessage(c *Client, raw json.RawMessage) error {
	var p SendMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	return h.withRoom(c, p.Room, func(room string, identity model.Identity) error {
		msg, err := h.store.Append(room, identity.Snapshot(), p.Message, p.ReplyTo.ref(), p.Attachments)
		if err != nil {
			return err
		}
		h.archiveMessage(msg)
		h.broadcastLocked(room, OutgoingMessage{Type: EventReceiveMessage, Payload: msg}, "")
		if h.typing.Stop(room, identity.Username) {
			h.broadcastLocked(room, OutgoingMessage{Type: EventUserStopTyping, Payload: UserStopTypingPayload{
				Room: room, User: identity.Username,
			}}, identity.Username)
		}
		return nil
	})
}

func (h *Hub) handleTyping(c *Client, raw json.RawMessage, start bool) error {
	var p TypingPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	return h.withRoom(c, p.Room, func(room string, identity model.Identity) error {
		if start {
			// re-arming an existing entry is silent
			if h.typing.Start(room, identity.Username) {
				h.broadcastLocked(room, OutgoingMessage{Type: EventUserTyping, Payload: UserTypingPayload{
					Room: room, User: identity.Username, DisplayName: identity.DisplayName,
				}}, identity.Username)
			}
			return nil
		}
		if h.typing.Stop(room, identity.Username) {
			h.broadcastLocked(room, OutgoingMessage{Type: EventUserStopTyping, Payload: UserStopTypingPayload{
				Room: room, User: identity.Username,
			}}, identity.Username)
		}
		return nil
	})
}

// expireTyping runs on a typing timer goroutine.
func (h *Hub) expireTyping(room, username string, gen uint64) {
	mu, ok := h.locks[room]
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if h.typing.Expire(room, username, gen) {
		h.broadcastLocked(room, OutgoingMessage{Type: EventUserStopTyping, Payload: UserStopTypingPayload{
			Room: room, User: username,
		}}, username)
	}
}

// messageRoom resolves the room of a message the client wants to mutate.
// Messages of other rooms are reported as unknown.
func (h *Hub) messageRoom(c *Client, messageID string) (string, error) {
	room, _ := c.joined()
	if room == "" {
		return "", model.ErrNotInRoom
	}
	owner, err := h.store.RoomOf(messageID)
	if err != nil {
		return "", err
	}
	if owner != room {
		return "", fmt.Errorf("message %s is in %q: %w", messageID, owner, model.ErrNotFound)
	}
	return room, nil
}

func (h *Hub) handleToggleReaction(c *Client, raw json.RawMessage) error {
	var p ToggleReactionPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	room, err := h.messageRoom(c, p.MessageID)
	if err != nil {
		return err
	}
	return h.withRoom(c, room, func(room string, identity model.Identity) error {
		actor := identity.Snapshot()
		msg, action, err := h.store.ToggleReaction(p.MessageID, actor, p.Emoji)
		if err != nil {
			return err
		}
		h.archiveMessage(msg)
		h.broadcastLocked(room, OutgoingMessage{Type: EventReactionUpdated, Payload: ReactionUpdatedPayload{
			MessageID: msg.ID,
			Emoji:     p.Emoji,
			User:      actor,
			Action:    string(action),
			Reactions: msg.Reactions,
		}}, "")
		return nil
	})
}

func (h *Hub) handleEditMessage(c *Client, raw json.RawMessage) error {
	var p EditMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	room, err := h.messageRoom(c, p.MessageID)
	if err != nil {
		return err
	}
	return h.withRoom(c, room, func(room string, identity model.Identity) error {
		msg, err := h.store.Edit(p.MessageID, identity.Username, p.NewContent)
		if err != nil {
			return err
		}
		h.archiveMessage(msg)
		h.broadcastLocked(room, OutgoingMessage{Type: EventMessageEdited, Payload: MessageEditedPayload{
			MessageID: msg.ID,
			Content:   msg.Content,
			Edited:    msg.Edited,
		}}, "")
		return nil
	})
}

func (h *Hub) handleDeleteMessage(c *Client, raw json.RawMessage) error {
	var p DeleteMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := checkActor(c, p.User); err != nil {
		return err
	}
	room, err := h.messageRoom(c, p.MessageID)
	if err != nil {
		return err
	}
	return h.withRoom(c, room, func(room string, identity model.Identity) error {
		msg, changed, err := h.store.SoftDelete(p.MessageID, identity.Username)
		if err != nil || !changed {
			return err
		}
		h.archiveMessage(msg)
		h.broadcastLocked(room, OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
			MessageID: msg.ID,
			DeletedBy: msg.Deleted.DeletedBy,
		}}, "")
		return nil
	})
}

func (h *Hub) archiveMessage(msg model.Message) {
	if h.archive != nil {
		h.archive.Enqueue(msg)
	}
}

// broadcastLocked enqueues out to every member of room except skipUser.
// Caller holds the room lock.
func (h *Hub) broadcastLocked(room string, out OutgoingMessage, skipUser string) {
	members := h.presence.Members(room)
	h.mu.RLock()
	targets := make([]*Client, 0, len(members))
	for _, m := range members {
		if skipUser != "" && m.Identity.Username == skipUser {
			continue
		}
		if c, ok := h.clients[m.Session]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
	h.metrics.Broadcast(string(out.Type))
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client session=%s user=%s", c.session, c.boundUsername())
		h.metrics.SlowClient()
		// only signal here; the pumps close the socket outside the room lock
		c.signalClose()
	}
}

// RoomUsers returns the current members of room.
func (h *Hub) RoomUsers(room string) ([]model.Identity, error) {
	if !h.rooms.Has(room) {
		return nil, fmt.Errorf("room %q: %w", room, model.ErrRoomNotFound)
	}
	return h.presence.Snapshot(room), nil
}

func (h *Hub) OnlineCount(room string) int {
	return h.presence.Count(room)
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type RoomStat struct {
	Room     string
	Members  int
	Typing   int
	Messages int
}

// Stats reports per-room counters for every registered room.
func (h *Hub) Stats() []RoomStat {
	ids := h.rooms.IDs()
	out := make([]RoomStat, 0, len(ids))
	for _, id := range ids {
		out = append(out, RoomStat{
			Room:     id,
			Members:  h.presence.Count(id),
			Typing:   len(h.typing.Typing(id)),
			Messages: h.store.Len(id),
		})
	}
	return out
}
