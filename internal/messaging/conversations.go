package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookswap/internal/exchange"
	"bookswap/pkg/apperr"
)

// conversationRow is one exchange joined with its latest message. The msg_
// columns are NULL when the thread is empty.
type conversationRow struct {
	exchange.Exchange
	MsgID           *uuid.UUID   `db:"msg_id"`
	MsgSenderID     *uuid.UUID   `db:"msg_sender_id"`
	MsgReceiverID   *uuid.UUID   `db:"msg_receiver_id"`
	MsgContent      *string      `db:"msg_content"`
	MsgType         *string      `db:"msg_type"`
	MsgTemplateData TemplateData `db:"msg_template_data"`
	MsgIsRead       *bool        `db:"msg_is_read"`
	MsgReadAt       *time.Time   `db:"msg_read_at"`
	MsgCreatedAt    *time.Time   `db:"msg_created_at"`
	MsgDeletedAt    *time.Time   `db:"msg_deleted_at"`
	UnreadCount     int          `db:"unread_count"`
}

// The latest message and the unread count are resolved per exchange inside
// one statement rather than with a query per conversation.
const conversationsQuery = `
	SELECT e.id, e.book_id, e.owner_id, e.requester_id, e.status, e.exchange_type,
		e.meeting_location, e.meeting_datetime, e.notes, e.return_date, e.owner_rating,
		e.requester_rating, e.completed_at, e.version, e.created_at, e.updated_at,
		m.id AS msg_id, m.sender_id AS msg_sender_id, m.receiver_id AS msg_receiver_id,
		m.content AS msg_content, m.message_type AS msg_type,
		m.template_data AS msg_template_data, m.is_read AS msg_is_read,
		m.read_at AS msg_read_at, m.created_at AS msg_created_at,
		m.deleted_at AS msg_deleted_at,
		(SELECT COUNT(*) FROM messages u
			WHERE u.exchange_id = e.id AND u.receiver_id = ? AND u.is_read = ?
			AND u.deleted_at IS NULL) AS unread_count
	FROM exchanges e
	LEFT JOIN messages m ON m.id = (
		SELECT l.id FROM messages l
		WHERE l.exchange_id = e.id
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT 1
	)
	WHERE e.owner_id = ? OR e.requester_id = ?
	ORDER BY e.updated_at DESC, e.id
`

// ListConversations returns every exchange caller takes part in, most
// recently updated first, with its latest message and caller's unread count.
func (s *service) ListConversations(ctx context.Context, caller uuid.UUID) ([]Conversation, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}

	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(conversationsQuery), caller, false, caller, caller)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	conversations := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, Conversation{
			Exchange:      row.Exchange,
			LatestMessage: row.latestMessage(),
			UnreadCount:   row.UnreadCount,
		})
	}
	return conversations, nil
}

func (r conversationRow) latestMessage() *Message {
	if r.MsgID == nil {
		return nil
	}
	msg := &Message{
		ID:           *r.MsgID,
		ExchangeID:   r.ID,
		TemplateData: r.MsgTemplateData,
		ReadAt:       r.MsgReadAt,
		DeletedAt:    r.MsgDeletedAt,
	}
	if r.MsgSenderID != nil {
		msg.SenderID = *r.MsgSenderID
	}
	if r.MsgReceiverID != nil {
		msg.ReceiverID = *r.MsgReceiverID
	}
	if r.MsgContent != nil {
		msg.Content = *r.MsgContent
	}
	if r.MsgType != nil {
		msg.MessageType = Type(*r.MsgType)
	}
	if r.MsgIsRead != nil {
		msg.IsRead = *r.MsgIsRead
	}
	if r.MsgCreatedAt != nil {
		msg.CreatedAt = *r.MsgCreatedAt
	}
	return msg
}
