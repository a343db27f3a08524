// Package store is the in-memory message log of every room: it assigns ids and
// order to accepted messages and applies edits, reactions and soft deletes.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/model"
)

// ReactionAction tells whether a toggle added or removed the reaction.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

const (
	replySnippetLen    = 100
	defaultRetryWindow = 2 * time.Second
)

var validate = validator.New()

type Options struct {
	// MaxAttachments caps attachments per message; 0 means unlimited.
	MaxAttachments int
	// RetryWindow is how close two identical sends from one author must be to
	// count as a probable client retry. They are still both stored.
	RetryWindow time.Duration
	// OnProbableRetry is called (outside the store lock) for such sends.
	OnProbableRetry func(model.Message)
	Now             func() time.Time
}

type lastSend struct {
	content string
	at      time.Time
}

type Store struct {
	mu     sync.RWMutex
	seq    uint64
	logs   map[string][]*model.Message
	byID   map[string]*model.Message
	recent map[string]lastSend // room/username -> last accepted send

	maxAttachments int
	retryWindow    time.Duration
	onRetry        func(model.Message)
	now            func() time.Time
}

func New(opts Options) *Store {
	s := &Store{
		logs:           make(map[string][]*model.Message),
		byID:           make(map[string]*model.Message),
		recent:         make(map[string]lastSend),
		maxAttachments: opts.MaxAttachments,
		retryWindow:    opts.RetryWindow,
		onRetry:        opts.OnProbableRetry,
		now:            opts.Now,
	}
	if s.retryWindow <= 0 {
		s.retryWindow = defaultRetryWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Append validates and stores a user message at the end of room's log.
func (s *Store) Append(room string, author model.Author, content string, replyTo *model.ReplyRef, attachments []model.Attachment) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, fmt.Errorf("store.Append: empty content: %w", model.ErrInvalidMessage)
	}
	if author.Username == "" {
		return model.Message{}, fmt.Errorf("store.Append: no author: %w", model.ErrInvalidMessage)
	}
	if s.maxAttachments > 0 && len(attachments) > s.maxAttachments {
		return model.Message{}, fmt.Errorf("store.Append: %d attachments: %w", len(attachments), model.ErrInvalidMessage)
	}
	for i := range attachments {
		if err := validate.Struct(attachments[i]); err != nil {
			return model.Message{}, fmt.Errorf("store.Append: attachment %d: %v: %w", i, err, model.ErrInvalidMessage)
		}
	}
	id, err := newID()
	if err != nil {
		return model.Message{}, fmt.Errorf("store.Append: id: %w", err)
	}

	s.mu.Lock()
	now := s.now()
	msg := &model.Message{
		ID:          id,
		Room:        room,
		User:        author,
		Content:     content,
		Attachments: append([]model.Attachment{}, attachments...),
		CreatedAt:   now,
		Edited:      model.EditedState{EditHistory: []model.EditRecord{}},
		Reactions:   []model.Reaction{},
		Type:        model.MessageTypeUser,
	}
	if replyTo != nil && replyTo.ID != "" {
		msg.ReplyTo = s.replyRefLocked(room, replyTo)
	}
	s.appendLocked(msg)

	key := room + "/" + author.Username
	prev, seen := s.recent[key]
	probableRetry := seen && prev.content == content && now.Sub(prev.at) < s.retryWindow
	s.recent[key] = lastSend{content: content, at: now}
	out := msg.Clone()
	s.mu.Unlock()

	if probableRetry {
		logger.Debugf("store: probable client retry room=%s user=%s id=%s", room, author.Username, out.ID)
		if s.onRetry != nil {
			s.onRetry(out)
		}
	}
	return out, nil
}

// replyRefLocked denormalizes the snippet from the stored target when it is in
// the same room; otherwise the client-supplied reference is kept as is.
func (s *Store) replyRefLocked(room string, ref *model.ReplyRef) *model.ReplyRef {
	out := *ref
	if target, ok := s.byID[ref.ID]; ok && target.Room == room {
		out.Username = target.User.Username
		out.Content = target.Content
	}
	out.Content = truncate(out.Content, replySnippetLen)
	return &out
}

// AppendSystem stores a relay notice such as "alice joined the chat".
func (s *Store) AppendSystem(room, content string) (model.Message, error) {
	id, err := newID()
	if err != nil {
		return model.Message{}, fmt.Errorf("store.AppendSystem: id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &model.Message{
		ID:          id,
		Room:        room,
		User:        model.Author{Username: "system"},
		Content:     content,
		Attachments: []model.Attachment{},
		CreatedAt:   s.now(),
		Edited:      model.EditedState{EditHistory: []model.EditRecord{}},
		Reactions:   []model.Reaction{},
		Type:        model.MessageTypeSystem,
	}
	s.appendLocked(msg)
	return msg.Clone(), nil
}

func (s *Store) appendLocked(msg *model.Message) {
	s.seq++
	msg.Seq = s.seq
	s.logs[msg.Room] = append(s.logs[msg.Room], msg)
	s.byID[msg.ID] = msg
	if len(s.recent) > 4096 {
		s.pruneRecentLocked(msg.CreatedAt)
	}
}

func (s *Store) pruneRecentLocked(now time.Time) {
	for k, v := range s.recent {
		if now.Sub(v.at) >= s.retryWindow {
			delete(s.recent, k)
		}
	}
}

// live returns a non-deleted message; deleted messages are not editable or
// reactable and behave as unknown.
func (s *Store) live(id string) (*model.Message, error) {
	msg, ok := s.byID[id]
	if !ok || msg.Deleted.IsDeleted {
		return nil, model.ErrNotFound
	}
	return msg, nil
}

// Edit replaces content; the previous version is pushed onto the edit history.
func (s *Store) Edit(id, actor, newContent string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.live(id)
	if err != nil {
		return model.Message{}, fmt.Errorf("store.Edit %s: %w", id, err)
	}
	if msg.Type != model.MessageTypeUser || msg.User.Username != actor {
		return model.Message{}, fmt.Errorf("store.Edit %s by %s: %w", id, actor, model.ErrForbidden)
	}
	if strings.TrimSpace(newContent) == "" {
		return model.Message{}, fmt.Errorf("store.Edit %s: empty content: %w", id, model.ErrInvalidMessage)
	}

	prevAt := msg.CreatedAt
	if msg.Edited.EditedAt != nil {
		prevAt = *msg.Edited.EditedAt
	}
	msg.Edited.EditHistory = append(msg.Edited.EditHistory, model.EditRecord{Content: msg.Content, EditedAt: prevAt})
	now := s.now()
	msg.Content = newContent
	msg.Edited.IsEdited = true
	msg.Edited.EditedAt = &now
	return msg.Clone(), nil
}

// ToggleReaction adds actor's emoji reaction or removes it if already present.
func (s *Store) ToggleReaction(id string, actor model.Author, emoji string) (model.Message, ReactionAction, error) {
	if strings.TrimSpace(emoji) == "" {
		return model.Message{}, "", fmt.Errorf("store.ToggleReaction %s: empty emoji: %w", id, model.ErrInvalidMessage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.live(id)
	if err != nil {
		return model.Message{}, "", fmt.Errorf("store.ToggleReaction %s: %w", id, err)
	}

	ri := -1
	for i := range msg.Reactions {
		if msg.Reactions[i].Emoji == emoji {
			ri = i
			break
		}
	}
	if ri < 0 {
		msg.Reactions = append(msg.Reactions, model.Reaction{Emoji: emoji})
		ri = len(msg.Reactions) - 1
	}
	r := &msg.Reactions[ri]

	action := ReactionAdded
	ui := -1
	for i, u := range r.Users {
		if u.Username == actor.Username {
			ui = i
			break
		}
	}
	if ui >= 0 {
		r.Users = append(r.Users[:ui], r.Users[ui+1:]...)
		action = ReactionRemoved
	} else {
		r.Users = append(r.Users, model.Reactor{Username: actor.Username, DisplayName: actor.DisplayName, ReactedAt: s.now()})
	}
	r.Count = len(r.Users)
	if r.Count == 0 {
		msg.Reactions = append(msg.Reactions[:ri], msg.Reactions[ri+1:]...)
	}
	return msg.Clone(), action, nil
}

// SoftDelete clears a message's content and marks it deleted. Deleting an
// already deleted message reports changed=false and leaves it untouched.
func (s *Store) SoftDelete(id, actor string) (msg model.Message, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, false, fmt.Errorf("store.SoftDelete %s: %w", id, model.ErrNotFound)
	}
	if m.User.Username != actor || (m.Type == model.MessageTypeSystem && !m.Deleted.IsDeleted) {
		return model.Message{}, false, fmt.Errorf("store.SoftDelete %s by %s: %w", id, actor, model.ErrForbidden)
	}
	if m.Deleted.IsDeleted {
		return m.Clone(), false, nil
	}
	now := s.now()
	m.Content = ""
	m.Attachments = []model.Attachment{}
	m.Reactions = []model.Reaction{}
	m.Type = model.MessageTypeSystem
	m.Deleted = model.DeletedState{IsDeleted: true, DeletedAt: &now, DeletedBy: actor}
	return m.Clone(), true, nil
}

// History returns the last limit messages of room in acceptance order.
// limit <= 0 returns the whole log.
func (s *Store) History(room string, limit int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[room]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]model.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of a message, deleted or not.
func (s *Store) Get(id string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, fmt.Errorf("store.Get %s: %w", id, model.ErrNotFound)
	}
	return m.Clone(), nil
}

// RoomOf returns the room that owns message id.
func (s *Store) RoomOf(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("store.RoomOf %s: %w", id, model.ErrNotFound)
	}
	return m.Room, nil
}

func (s *Store) Len(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[room])
}

// Restore seeds room's log with archived messages. Messages already present
// are skipped; new sequence numbers continue after the highest restored one.
func (s *Store) Restore(room string, msgs []model.Message) int {
	sorted := append([]model.Message{}, msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range sorted {
		m := sorted[i].Clone()
		if m.ID == "" || m.Room != room {
			continue
		}
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		if m.Seq > s.seq {
			s.seq = m.Seq
		}
		s.logs[room] = append(s.logs[room], &m)
		s.byID[m.ID] = &m
		n++
	}
	sort.SliceStable(s.logs[room], func(i, j int) bool { return s.logs[room][i].Seq < s.logs[room][j].Seq })
	return n
}
