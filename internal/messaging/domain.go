package messaging

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookswap/internal/exchange"
)

// Type classifies a message body.
type Type string

const (
	Text     Type = "text"
	Template Type = "template"
	System   Type = "system"
	Location Type = "location"
)

func (t Type) Valid() bool {
	switch t {
	case Text, Template, System, Location:
		return true
	}
	return false
}

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "[Message deleted]"

// TemplateData is the placeholder map a template message was rendered from.
// It is stored as a JSON object.
type TemplateData map[string]string

func (d TemplateData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *TemplateData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("template data: cannot scan %T", src)
	}
	return json.Unmarshal(raw, d)
}

// Message is one entry in an exchange's thread.
type Message struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	ExchangeID   uuid.UUID    `json:"exchange_id" db:"exchange_id"`
	SenderID     uuid.UUID    `json:"sender_id" db:"sender_id"`
	ReceiverID   uuid.UUID    `json:"receiver_id" db:"receiver_id"`
	Content      string       `json:"content" db:"content"`
	MessageType  Type         `json:"message_type" db:"message_type"`
	TemplateData TemplateData `json:"template_data,omitempty" db:"template_data"`
	IsRead       bool         `json:"is_read" db:"is_read"`
	ReadAt       *time.Time   `json:"read_at,omitempty" db:"read_at"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time   `json:"deleted_at,omitempty" db:"deleted_at"`
}

// SendInput is a new message from the caller. A zero ReceiverID addresses
// the other party of the exchange.
type SendInput struct {
	ReceiverID   uuid.UUID    `json:"receiver_id"`
	Content      string       `json:"content"`
	MessageType  Type         `json:"message_type"`
	TemplateData TemplateData `json:"template_data,omitempty"`
}

// Page is one window of a thread, oldest first.
type Page struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// Conversation summarises one exchange for a participant.
type Conversation struct {
	Exchange      exchange.Exchange `json:"exchange"`
	LatestMessage *Message          `json:"latest_message,omitempty"`
	UnreadCount   int               `json:"unread_count"`
}

// EventKind names a thread change pushed to subscribers.
type EventKind string

const (
	MessageCreated EventKind = "message.created"
	MessageRead    EventKind = "message.read"
	MessageDeleted EventKind = "message.deleted"
)

// Event is published after the change it describes has committed. For
// MessageRead, ReceiverID is the reader and Count the number of messages
// flipped.
type Event struct {
	Kind       EventKind `json:"type"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Message    *Message  `json:"message,omitempty"`
	Count      int       `json:"count,omitempty"`
}

// Publisher fans events out to live subscribers. Publish must not block
// the caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// ExchangeDirectory resolves the two parties of an exchange.
type ExchangeDirectory interface {
	Parties(ctx context.Context, id uuid.UUID) (exchange.Parties, error)
}
