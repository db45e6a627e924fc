package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bookswap/internal/exchange"
	"bookswap/internal/store"
	"bookswap/internal/templates"
	"bookswap/pkg/apperr"
	"bookswap/pkg/logger"
)

const (
	messageColumns = `id, exchange_id, sender_id, receiver_id, content, message_type, template_data,
	is_read, read_at, created_at, deleted_at`

	defaultPageSize = 50
	maxPageSize     = 100
	maxContentRunes = 2000
)

type service struct {
	db        *store.DB
	exchanges ExchangeDirectory
	publisher Publisher
	tracer    trace.Tracer
	sent      metric.Int64Counter
	log       zerolog.Logger
}

// NewService creates the thread manager. A nil publisher disables push
// delivery.
func NewService(db *store.DB, exchanges ExchangeDirectory, publisher Publisher) Service {
	if publisher == nil {
		publisher = PublisherFunc(func(context.Context, Event) {})
	}
	sent, _ := otel.Meter("bookswap/messaging").Int64Counter("messaging.sent",
		metric.WithDescription("Messages appended by message type"))
	return &service{
		db:        db,
		exchanges: exchanges,
		publisher: publisher,
		tracer:    otel.Tracer("bookswap/messaging"),
		sent:      sent,
		log:       logger.Component("messaging"),
	}
}

func (s *service) Send(ctx context.Context, exchangeID, caller uuid.UUID, in SendInput) (msg *Message, err error) {
	ctx, span := s.tracer.Start(ctx, "messaging.send", trace.WithAttributes(
		attribute.String("exchange.id", exchangeID.String()),
		attribute.String("caller.id", caller.String()),
	))
	defer func() { endSpan(span, err) }()

	parties, err := s.parties(ctx, exchangeID, caller)
	if err != nil {
		return nil, err
	}

	receiver := in.ReceiverID
	if receiver == uuid.Nil {
		receiver = counterpart(parties, caller)
	}
	if !parties.Includes(receiver) {
		return nil, apperr.New(apperr.Forbidden, "The receiver is not part of this exchange.")
	}
	if receiver == caller {
		return nil, apperr.New(apperr.Validation, "You cannot message yourself.")
	}

	content := strings.TrimSpace(in.Content)
	if content == "" || utf8.RuneCountInString(content) > maxContentRunes {
		return nil, apperr.Newf(apperr.Validation, "Message must be between 1 and %d characters.", maxContentRunes)
	}
	kind := in.MessageType
	if kind == "" {
		kind = Text
	}
	if !kind.Valid() {
		return nil, apperr.New(apperr.Validation, "Message type must be text, template, system or location.")
	}

	msg = &Message{
		ID:           uuid.New(),
		ExchangeID:   exchangeID,
		SenderID:     caller,
		ReceiverID:   receiver,
		Content:      content,
		MessageType:  kind,
		TemplateData: in.TemplateData,
		CreatedAt:    store.Now(),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO messages (id, exchange_id, sender_id, receiver_id, content, message_type,
			template_data, is_read, created_at)
		VALUES (:id, :exchange_id, :sender_id, :receiver_id, :content, :message_type,
			:template_data, :is_read, :created_at)
	`, msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.log.Debug().
		Str("message_id", msg.ID.String()).
		Str("exchange_id", exchangeID.String()).
		Str("type", string(kind)).
		Msg("message sent")
	s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(kind))))
	s.publisher.Publish(ctx, Event{Kind: MessageCreated, ExchangeID: exchangeID, ReceiverID: receiver, Message: msg})
	return msg, nil
}

func (s *service) SendTemplate(ctx context.Context, exchangeID, caller, receiver uuid.UUID, key templates.Key, data templates.Data) (*Message, error) {
	content, err := templates.Render(key, data)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, exchangeID, caller, SendInput{
		ReceiverID:   receiver,
		Content:      content,
		MessageType:  Template,
		TemplateData: TemplateData(data),
	})
}

func (s *service) List(ctx context.Context, exchangeID, caller uuid.UUID, limit, offset int) (*Page, error) {
	if _, err := s.parties(ctx, exchangeID, caller); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, apperr.New(apperr.Validation, "Offset must not be negative.")
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE exchange_id = ?`), exchangeID); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	messages := []Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE exchange_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`), exchangeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return &Page{
		Messages: messages,
		Total:    total,
		HasMore:  offset+len(messages) < total,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, exchangeID, caller uuid.UUID) (int, error) {
	if _, err := s.parties(ctx, exchangeID, caller); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET is_read = ?, read_at = ?
		WHERE exchange_id = ? AND receiver_id = ? AND is_read = ?
	`), true, store.Now(), exchangeID, caller, false)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}

	if n > 0 {
		s.publisher.Publish(ctx, Event{Kind: MessageRead, ExchangeID: exchangeID, ReceiverID: caller, Count: int(n)})
	}
	return int(n), nil
}

// SoftDelete blanks a message but keeps its row so the thread order is
// unchanged. Deleting twice returns the already deleted message.
func (s *service) SoftDelete(ctx context.Context, messageID, caller uuid.UUID) (*Message, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != caller {
		return nil, apperr.New(apperr.Forbidden, "Only the sender can delete a message.")
	}
	if msg.DeletedAt != nil {
		return msg, nil
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE messages SET content = ?, template_data = NULL, deleted_at = ?
		WHERE id = ? AND sender_id = ? AND deleted_at IS NULL
	`), DeletedPlaceholder, store.Now(), messageID, caller)
	if err != nil {
		return nil, fmt.Errorf("delete message %s: %w", messageID, err)
	}

	if msg, err = s.find(ctx, messageID); err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, Event{Kind: MessageDeleted, ExchangeID: msg.ExchangeID, ReceiverID: msg.ReceiverID, Message: msg})
	return msg, nil
}

// UnreadCount counts unread, undeleted messages addressed to caller across
// all threads.
func (s *service) UnreadCount(ctx context.Context, caller uuid.UUID) (int, error) {
	if caller == uuid.Nil {
		return 0, apperr.New(apperr.NotAuthenticated, "")
	}
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND is_read = ? AND deleted_at IS NULL
	`), caller, false)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

// parties loads the exchange's parties and requires caller to be one.
func (s *service) parties(ctx context.Context, exchangeID, caller uuid.UUID) (exchange.Parties, error) {
	if caller == uuid.Nil {
		return exchange.Parties{}, apperr.New(apperr.NotAuthenticated, "")
	}
	p, err := s.exchanges.Parties(ctx, exchangeID)
	if err != nil {
		return exchange.Parties{}, err
	}
	if !p.Includes(caller) {
		return exchange.Parties{}, apperr.New(apperr.Forbidden, "You are not part of this exchange.")
	}
	return p, nil
}

func (s *service) find(ctx context.Context, id uuid.UUID) (*Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, s.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "Message not found.")
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return &msg, nil
}

func counterpart(p exchange.Parties, user uuid.UUID) uuid.UUID {
	if user == p.OwnerID {
		return p.RequesterID
	}
	return p.OwnerID
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
