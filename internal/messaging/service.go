package messaging

import (
	"context"

	"github.com/google/uuid"

	"bookswap/internal/templates"
)

// Service manages the message thread attached to each exchange. Every
// operation takes the acting user explicitly.
type Service interface {
	Send(ctx context.Context, exchangeID, caller uuid.UUID, in SendInput) (*Message, error)
	// SendTemplate renders key with data and sends it as a template message.
	SendTemplate(ctx context.Context, exchangeID, caller, receiver uuid.UUID, key templates.Key, data templates.Data) (*Message, error)
	List(ctx context.Context, exchangeID, caller uuid.UUID, limit, offset int) (*Page, error)
	// MarkRead flips every unread message addressed to caller in the thread
	// and returns how many changed.
	MarkRead(ctx context.Context, exchangeID, caller uuid.UUID) (int, error)
	SoftDelete(ctx context.Context, messageID, caller uuid.UUID) (*Message, error)
	UnreadCount(ctx context.Context, caller uuid.UUID) (int, error)
	ListConversations(ctx context.Context, caller uuid.UUID) ([]Conversation, error)
}
