package model

import "time"

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// Author is the identity snapshot captured when a message is accepted.
type Author struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Year        string `json:"year,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

type Attachment struct {
	Type         string `json:"type"`
	URL          string `json:"url" validate:"required"`
	OriginalName string `json:"originalName,omitempty"`
}

// ReplyRef is a weak back-reference; the target may not exist.
type ReplyRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
}

type EditRecord struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

type EditedState struct {
	IsEdited    bool         `json:"isEdited"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	EditHistory []EditRecord `json:"editHistory"`
}

type DeletedState struct {
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	DeletedBy string     `json:"deletedBy,omitempty"`
}

type Reactor struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	ReactedAt   time.Time `json:"reactedAt"`
}

// Reaction groups everyone who reacted with one emoji, in reaction order.
type Reaction struct {
	Emoji string    `json:"emoji"`
	Users []Reactor `json:"users"`
	Count int       `json:"count"`
}

type Message struct {
	ID          string       `json:"id"`
	Seq         uint64       `json:"seq"`
	Room        string       `json:"room"`
	User        Author       `json:"user"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	Edited      EditedState  `json:"edited"`
	Deleted     DeletedState `json:"deleted"`
	Reactions   []Reaction   `json:"reactions"`
	ReplyTo     *ReplyRef    `json:"replyTo,omitempty"`
	Type        MessageType  `json:"type"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m *Message) Clone() Message {
	out := *m
	out.Attachments = append([]Attachment{}, m.Attachments...)
	out.Edited.EditHistory = append([]EditRecord{}, m.Edited.EditHistory...)
	if m.Edited.EditedAt != nil {
		t := *m.Edited.EditedAt
		out.Edited.EditedAt = &t
	}
	if m.Deleted.DeletedAt != nil {
		t := *m.Deleted.DeletedAt
		out.Deleted.DeletedAt = &t
	}
	out.Reactions = make([]Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		out.Reactions[i] = Reaction{Emoji: r.Emoji, Users: append([]Reactor{}, r.Users...), Count: r.Count}
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	return out
}
