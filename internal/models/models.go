package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidMessage = errors.New("message must have an id and either content or an attachment")
	ErrClosed         = errors.New("connection closed")
)

type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindVideo AttachmentKind = "video"
)

func (k AttachmentKind) Valid() bool {
	return k == AttachmentKindImage || k == AttachmentKindVideo
}

type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
}

// Profile is the public part of a user account.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is a single chat log entry. Author is a denormalized copy of the
// author's profile taken when the message was fetched or admitted.
type Message struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId"`
	Author     Profile     `json:"author"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (m Message) Validate() error {
	if m.ID == "" {
		return ErrInvalidMessage
	}
	if m.Content == "" && m.Attachment == nil {
		return ErrInvalidMessage
	}
	if m.Attachment != nil && (m.Attachment.URL == "" || !m.Attachment.Kind.Valid()) {
		return ErrInvalidMessage
	}
	return nil
}

type ChangeKind string

const (
	ChangeKindInsert ChangeKind = "insert"
	ChangeKindDelete ChangeKind = "delete"
)

// ChangeRow is the row payload of a change notification. Inserts carry the
// author only by reference; deletes carry only the ID.
type ChangeRow struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId,omitempty"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt,omitzero"`
}

// Message assembles a full message from the row and the resolved author.
func (r ChangeRow) Message(author Profile) Message {
	return Message{
		ID:         r.ID,
		AuthorID:   r.AuthorID,
		Author:     author,
		Content:    r.Content,
		Attachment: r.Attachment,
		CreatedAt:  r.CreatedAt,
	}
}

type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	Row  ChangeRow  `json:"row"`
}

// PresenceRecord is what one client publishes about itself on the presence channel.
type PresenceRecord struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsTyping  bool   `json:"isTyping"`
}

// PresenceState maps a presence key to the raw records of every connection
// tracked under it. Records are not validated by the transport.
type PresenceState map[string][]json.RawMessage

type PresenceEventKind string

const (
	PresenceEventReady PresenceEventKind = "ready"
	PresenceEventSync  PresenceEventKind = "sync"
)

type PresenceEvent struct {
	Kind  PresenceEventKind `json:"type"`
	State PresenceState     `json:"state,omitempty"`
}

type Visibility int

const (
	Foreground Visibility = iota
	Background
)

func (v Visibility) String() string {
	if v == Background {
		return "background"
	}
	return "foreground"
}

type PresenceFrameKind string

const (
	PresenceFrameTrack   PresenceFrameKind = "track"
	PresenceFrameUntrack PresenceFrameKind = "untrack"
)

// PresenceFrame is sent by a client on a presence connection.
type PresenceFrame struct {
	Kind   PresenceFrameKind `json:"type"`
	Record json.RawMessage   `json:"record,omitempty"`
}
