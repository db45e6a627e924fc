package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bookswap/internal/catalog"
	"bookswap/internal/store"
	"bookswap/pkg/apperr"
	"bookswap/pkg/eventstore"
	"bookswap/pkg/logger"
)

const (
	aggregateType = "exchange"

	exchangeColumns = `id, book_id, owner_id, requester_id, status, exchange_type, meeting_location,
	meeting_datetime, notes, return_date, owner_rating, requester_rating, completed_at, version,
	created_at, updated_at`

	defaultListLimit = 20
	maxListLimit     = 100
)

// service implements the Service interface.
type service struct {
	db          *store.DB
	eventStore  *eventstore.EventStore
	sync        *Synchronizer
	tracer      trace.Tracer
	log         zerolog.Logger
	transitions metric.Int64Counter
}

// NewService creates a new exchange service instance.
func NewService(db *store.DB, es *eventstore.EventStore, sync *Synchronizer) Service {
	transitions, _ := otel.Meter("bookswap/exchange").Int64Counter("exchange.transitions",
		metric.WithDescription("Exchange status changes by target status"))

	return &service{
		db:          db,
		eventStore:  es,
		sync:        sync,
		tracer:      otel.Tracer("bookswap/exchange"),
		log:         logger.Component("exchange"),
		transitions: transitions,
	}
}

// Create opens a pending exchange and claims the book in one transaction.
// The conditional claim decides races between concurrent requests.
func (s *service) Create(ctx context.Context, caller uuid.UUID, in CreateInput) (ex *Exchange, err error) {
	ctx, span := s.start(ctx, "exchange.create", caller, attribute.String("book.id", in.BookID.String()))
	defer func() { endSpan(span, err) }()

	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	book, err := catalog.FindBook(ctx, s.db, in.BookID)
	if err != nil {
		return nil, err
	}
	if book.OwnerID == caller {
		return nil, apperr.New(apperr.SelfRequest, "")
	}
	if book.AvailabilityStatus != catalog.Available {
		return nil, apperr.New(apperr.NotAvailable, "")
	}

	now := store.Now()
	ex = &Exchange{
		ID:              uuid.New(),
		BookID:          book.ID,
		OwnerID:         book.OwnerID,
		RequesterID:     caller,
		Status:          Pending,
		ExchangeType:    in.ExchangeType,
		MeetingLocation: in.MeetingLocation,
		MeetingDatetime: utc(in.MeetingDatetime),
		Notes:           in.Notes,
		ReturnDate:      utc(in.ReturnDate),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO exchanges (id, book_id, owner_id, requester_id, status, exchange_type,
				meeting_location, meeting_datetime, notes, return_date, version, created_at, updated_at)
			VALUES (:id, :book_id, :owner_id, :requester_id, :status, :exchange_type,
				:meeting_location, :meeting_datetime, :notes, :return_date, :version, :created_at, :updated_at)
		`, ex)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.New(apperr.NotAvailable, "")
			}
			return fmt.Errorf("insert exchange: %w", err)
		}

		if err := s.sync.Claim(ctx, tx, book.ID); err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, ex, 0, eventRequested, LifecycleEvent{
			ExchangeID: ex.ID,
			BookID:     ex.BookID,
			Actor:      caller,
			To:         Pending,
		})
	})
	if err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(Pending))))
	s.log.Info().
		Str("exchange_id", ex.ID.String()).
		Str("book_id", ex.BookID.String()).
		Str("requester_id", caller.String()).
		Msg("exchange requested")
	return ex, nil
}

func (s *service) Accept(ctx context.Context, id, caller uuid.UUID, meeting Meeting) (*Exchange, error) {
	status := Accepted
	return s.Update(ctx, id, caller, Patch{
		Status:          &status,
		MeetingLocation: meeting.Location,
		MeetingDatetime: meeting.Datetime,
	})
}

func (s *service) Reject(ctx context.Context, id, caller uuid.UUID) (*Exchange, error) {
	status := Rejected
	return s.Update(ctx, id, caller, Patch{Status: &status})
}

func (s *service) Cancel(ctx context.Context, id, caller uuid.UUID) (*Exchange, error) {
	status := Cancelled
	return s.Update(ctx, id, caller, Patch{Status: &status})
}

func (s *service) Complete(ctx context.Context, id, caller uuid.UUID, rating *int) (*Exchange, error) {
	status := Completed
	return s.Update(ctx, id, caller, Patch{Status: &status, Rating: rating})
}

// Update applies patch as one conditional write on the exchange's current
// status, records the lifecycle event in the same transaction and then, if
// the status changed, synchronizes the book.
func (s *service) Update(ctx context.Context, id, caller uuid.UUID, patch Patch) (updated *Exchange, err error) {
	name := "exchange.update"
	if patch.Status != nil {
		name = "exchange.transition." + string(*patch.Status)
	}
	ctx, span := s.start(ctx, name, caller, attribute.String("exchange.id", id.String()))
	defer func() { endSpan(span, err) }()

	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := findExchange(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	role := current.RoleOf(caller)
	if role == RoleNone {
		return nil, apperr.New(apperr.Forbidden, "You are not part of this exchange.")
	}

	statusChange := patch.Status != nil && *patch.Status != current.Status
	if patch.Status != nil {
		if err := CheckTransition(current.Status, *patch.Status, role); err != nil {
			return nil, err
		}
	} else if current.Status.Terminal() {
		return nil, apperr.Newf(apperr.InvalidTransition, "A %s exchange can no longer be edited.", current.Status)
	}

	sets, args, fields := patchAssignments(patch, role)
	if len(sets) == 0 {
		return current, nil
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		query := `UPDATE exchanges SET ` + strings.Join(sets, ", ") + `, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ?`
		args = append(args, store.Now(), current.ID, current.Status)

		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("update exchange %s: %w", current.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.New(apperr.InvalidTransition, "This exchange was changed by someone else. Reload and try again.")
		}

		updated, err = findExchange(ctx, tx, current.ID)
		if err != nil {
			return err
		}

		eventType := eventUpdated
		if statusChange {
			eventType = eventTypeFor(updated.Status)
		}
		return s.appendEvent(ctx, tx, updated, updated.Version-1, eventType, LifecycleEvent{
			ExchangeID: updated.ID,
			BookID:     updated.BookID,
			Actor:      caller,
			From:       current.Status,
			To:         updated.Status,
			Rating:     patch.Rating,
			Fields:     fields,
		})
	})
	if err != nil {
		return nil, err
	}

	if !statusChange {
		return updated, nil
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(updated.Status))))
	s.log.Info().
		Str("exchange_id", updated.ID.String()).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Str("actor_role", role.String()).
		Msg("exchange transitioned")

	if err := s.sync.Apply(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// patchAssignments turns the set fields of patch into SET clauses. Moving
// to Completed stamps completed_at and files the rating under role.
func patchAssignments(patch Patch, role Role) (sets []string, args []any, fields []string) {
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
		fields = append(fields, column)
	}

	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.MeetingLocation != nil {
		set("meeting_location", *patch.MeetingLocation)
	}
	if patch.MeetingDatetime != nil {
		set("meeting_datetime", patch.MeetingDatetime.UTC())
	}
	if patch.Notes != nil {
		set("notes", *patch.Notes)
	}
	if patch.ReturnDate != nil {
		set("return_date", patch.ReturnDate.UTC())
	}
	if patch.Status != nil && *patch.Status == Completed {
		set("completed_at", store.Now())
		if patch.Rating != nil {
			if role == RoleOwner {
				set("owner_rating", *patch.Rating)
			} else {
				set("requester_rating", *patch.Rating)
			}
		}
	}
	return sets, args, fields
}

func (s *service) Get(ctx context.Context, id, caller uuid.UUID) (*Exchange, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	ex, err := findExchange(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ex.RoleOf(caller) == RoleNone {
		return nil, apperr.New(apperr.Forbidden, "You are not part of this exchange.")
	}
	return ex, nil
}

func (s *service) List(ctx context.Context, caller uuid.UUID, filter ListFilter) (*Page, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperr.New(apperr.Validation, "Unknown exchange status.")
	}
	if filter.Offset < 0 {
		return nil, apperr.New(apperr.Validation, "Offset must not be negative.")
	}
	limit := clampLimit(filter.Limit, defaultListLimit, maxListLimit)

	where := `(owner_id = ? OR requester_id = ?)`
	args := []any{caller, caller}
	if filter.Status != nil {
		where += ` AND status = ?`
		args = append(args, *filter.Status)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM exchanges WHERE `+where), args...); err != nil {
		return nil, fmt.Errorf("count exchanges: %w", err)
	}

	exchanges := []Exchange{}
	err := s.db.SelectContext(ctx, &exchanges, s.db.Rebind(`
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE `+where+`
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`), append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}

	return &Page{
		Exchanges: exchanges,
		Total:     total,
		HasMore:   filter.Offset+len(exchanges) < total,
	}, nil
}

func (s *service) History(ctx context.Context, id, caller uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.Get(ctx, id, caller); err != nil {
		return nil, err
	}
	events, err := s.eventStore.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	return events, nil
}

func (s *service) Parties(ctx context.Context, id uuid.UUID) (Parties, error) {
	var p Parties
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT id, book_id, owner_id, requester_id FROM exchanges WHERE id = ?
	`), id).Scan(&p.ExchangeID, &p.BookID, &p.OwnerID, &p.RequesterID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Parties{}, apperr.New(apperr.NotFound, "Exchange not found.")
		}
		return Parties{}, fmt.Errorf("get parties of exchange %s: %w", id, err)
	}
	return p, nil
}

func (s *service) appendEvent(ctx context.Context, tx sqlx.ExtContext, ex *Exchange, expectedVersion int, eventType string, payload LifecycleEvent) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	err = s.eventStore.AppendEvents(ctx, tx, ex.ID, aggregateType, expectedVersion, []eventstore.Event{{
		EventType: eventType,
		EventData: data,
		Metadata:  map[string]any{"actor": payload.Actor.String()},
	}})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return apperr.Wrap(apperr.InvalidTransition, "This exchange was changed by someone else. Reload and try again.", err)
	}
	return err
}

func (s *service) start(ctx context.Context, name string, caller uuid.UUID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("caller.id", caller.String()))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}

func findExchange(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Exchange, error) {
	var ex Exchange
	err := sqlx.GetContext(ctx, q, &ex, q.Rebind(`SELECT `+exchangeColumns+` FROM exchanges WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "Exchange not found.")
		}
		return nil, fmt.Errorf("get exchange %s: %w", id, err)
	}
	return &ex, nil
}

func validateCreate(in CreateInput) error {
	if in.BookID == uuid.Nil {
		return apperr.New(apperr.Validation, "book_id is required.")
	}
	if !in.ExchangeType.Valid() {
		return apperr.New(apperr.Validation, "Exchange type must be borrow, swap or give_away.")
	}
	return validateFields(in.MeetingLocation, in.Notes)
}

func validatePatch(p Patch) error {
	if p.Status != nil && !p.Status.Valid() {
		return apperr.New(apperr.Validation, "Unknown exchange status.")
	}
	if p.Rating != nil {
		if p.Status == nil || *p.Status != Completed {
			return apperr.New(apperr.Validation, "A rating can only be given when completing an exchange.")
		}
		if *p.Rating < 1 || *p.Rating > 5 {
			return apperr.New(apperr.Validation, "Rating must be between 1 and 5.")
		}
	}
	return validateFields(p.MeetingLocation, p.Notes)
}

func validateFields(location, notes *string) error {
	if location != nil && utf8.RuneCountInString(*location) > 500 {
		return apperr.New(apperr.Validation, "Meeting location must be at most 500 characters.")
	}
	if notes != nil && utf8.RuneCountInString(*notes) > 1000 {
		return apperr.New(apperr.Validation, "Notes must be at most 1000 characters.")
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
