package ws

import (
	"encoding/json"

	"github.com/campuschat/internal/model"
)

type EventType string

// Client → relay.
const (
	EventJoinRoom       EventType = "join-room"
	EventLeaveRoom      EventType = "leave-room"
	EventSendMessage    EventType = "send-message"
	EventTypingStart    EventType = "typing-start"
	EventTypingStop     EventType = "typing-stop"
	EventToggleReaction EventType = "toggle-reaction"
	EventEditMessage    EventType = "edit-message"
	EventDeleteMessage  EventType = "delete-message"
)

// Relay → client.
const (
	EventReceiveMessage   EventType = "receive-message"
	EventUserJoined       EventType = "user-joined"
	EventUserLeft         EventType = "user-left"
	EventRoomUsersUpdated EventType = "room-users-updated"
	EventUserTyping       EventType = "user-typing"
	EventUserStopTyping   EventType = "user-stop-typing"
	EventReactionUpdated  EventType = "reaction-updated"
	EventMessageEdited    EventType = "message-edited"
	EventMessageDeleted   EventType = "message-deleted"
	EventError            EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// UserRef is the user object clients attach to every action. Only the
// username is checked against the connection; the rest is profile data.
type UserRef struct {
	Username    string `json:"username" validate:"max=64"`
	DisplayName string `json:"displayName,omitempty" validate:"max=128"`
	Year        string `json:"year,omitempty" validate:"max=32"`
	Branch      string `json:"branch,omitempty" validate:"max=128"`
}

func (u UserRef) identity() model.Identity {
	return model.Identity{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Year:        u.Year,
		Branch:      u.Branch,
	}
}

// --- incoming payloads ---

type JoinRoomPayload struct {
	Room string  `json:"room"`
	User UserRef `json:"user"`
}

type LeaveRoomPayload struct {
	Room string  `json:"room"`
	User UserRef `json:"user"`
}

// ReplyPayload accepts both "messageId" (what the web client sends) and "id".
type ReplyPayload struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
}

func (r *ReplyPayload) ref() *model.ReplyRef {
	if r == nil {
		return nil
	}
	id := r.MessageID
	if id == "" {
		id = r.ID
	}
	if id == "" {
		return nil
	}
	return &model.ReplyRef{ID: id, Username: r.Username, Content: r.Content}
}

type SendMessagePayload struct {
	Room        string             `json:"room"`
	Message     string             `json:"message"`
	User        UserRef            `json:"user"`
	ReplyTo     *ReplyPayload      `json:"replyTo,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	Room string  `json:"room"`
	User UserRef `json:"user"`
}

type ToggleReactionPayload struct {
	MessageID string  `json:"messageId"`
	Emoji     string  `json:"emoji" validate:"max=64"`
	User      UserRef `json:"user"`
}

type EditMessagePayload struct {
	MessageID  string  `json:"messageId"`
	NewContent string  `json:"newContent"`
	User       UserRef `json:"user"`
}

type DeleteMessagePayload struct {
	MessageID string  `json:"messageId"`
	User      UserRef `json:"user"`
}

// --- outgoing payloads ---

// RoomUsersPayload is always the full member list, never a diff.
type RoomUsersPayload struct {
	Room  string           `json:"room"`
	Users []model.Identity `json:"users"`
	Count int              `json:"count"`
}

type UserTypingPayload struct {
	Room        string `json:"room"`
	User        string `json:"user"`
	DisplayName string `json:"displayName,omitempty"`
}

type UserStopTypingPayload struct {
	Room string `json:"room"`
	User string `json:"user"`
}

type ReactionUpdatedPayload struct {
	MessageID string           `json:"messageId"`
	Emoji     string           `json:"emoji"`
	User      model.Author     `json:"user"`
	Action    string           `json:"action"`
	Reactions []model.Reaction `json:"reactions"`
}

type MessageEditedPayload struct {
	MessageID string            `json:"messageId"`
	Content   string            `json:"content"`
	Edited    model.EditedState `json:"edited"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	DeletedBy string `json:"deletedBy"`
}

// ErrorPayload goes to the acting connection only.
type ErrorPayload struct {
	Action  EventType `json:"action,omitempty"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}
