package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bookswap/internal/catalog"
	"bookswap/internal/store"
	"bookswap/pkg/apperr"
	"bookswap/pkg/logger"
)

// AvailabilityStore performs the book writes the synchronizer needs.
type AvailabilityStore interface {
	// Claim moves an available book to exchanging. It reports false when the
	// book is not available.
	Claim(ctx context.Context, q sqlx.ExtContext, bookID uuid.UUID) (bool, error)
	// Settle moves ex's book to target unless a newer exchange already
	// decides the book's availability. It is idempotent.
	Settle(ctx context.Context, q sqlx.ExtContext, ex *Exchange, target catalog.Availability) error
}

type sqlAvailability struct{}

// NewSQLAvailabilityStore returns the AvailabilityStore backed by the books
// and exchanges tables.
func NewSQLAvailabilityStore() AvailabilityStore {
	return sqlAvailability{}
}

func (sqlAvailability) Claim(ctx context.Context, q sqlx.ExtContext, bookID uuid.UUID) (bool, error) {
	return catalog.CompareAndSetAvailability(ctx, q, bookID, catalog.Exchanging, catalog.Available)
}

// The EXISTS guards stop a late retry for an old exchange from overwriting
// availability owned by the book's current exchange.
func (sqlAvailability) Settle(ctx context.Context, q sqlx.ExtContext, ex *Exchange, target catalog.Availability) error {
	var query string
	var args []any

	switch target {
	case catalog.Exchanging:
		query = `
			UPDATE books
			SET availability_status = ?, updated_at = ?
			WHERE id = ? AND availability_status <> ?
			AND EXISTS (SELECT 1 FROM exchanges WHERE id = ? AND status IN (?))`
		args = []any{catalog.Exchanging, store.Now(), ex.BookID, catalog.Exchanging, ex.ID, OpenStatuses}
	case catalog.Available:
		query = `
			UPDATE books
			SET availability_status = ?, updated_at = ?
			WHERE id = ? AND availability_status = ?
			AND NOT EXISTS (SELECT 1 FROM exchanges WHERE book_id = ? AND status IN (?))`
		args = []any{catalog.Available, store.Now(), ex.BookID, catalog.Exchanging, ex.BookID, OpenStatuses}
	default:
		return fmt.Errorf("settle: unsupported target %q", target)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("build settle query: %w", err)
	}
	if _, err := q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("settle book %s to %s: %w", ex.BookID, target, err)
	}
	return nil
}

// SyncOptions bounds the retry of the post-commit availability write.
type SyncOptions struct {
	MaxTries uint
	Interval time.Duration
}

// Synchronizer keeps a book's availability in step with its exchange.
type Synchronizer struct {
	db              *store.DB
	books           AvailabilityStore
	opts            SyncOptions
	log             zerolog.Logger
	inconsistencies metric.Int64Counter
}

func NewSynchronizer(db *store.DB, books AvailabilityStore, opts SyncOptions) *Synchronizer {
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = 50 * time.Millisecond
	}
	inconsistencies, _ := otel.Meter("bookswap/exchange").Int64Counter("exchange.inconsistencies",
		metric.WithDescription("Exchanges whose book availability could not be synchronized"))

	return &Synchronizer{
		db:              db,
		books:           books,
		opts:            opts,
		log:             logger.Component("synchronizer"),
		inconsistencies: inconsistencies,
	}
}

// Claim takes the book for a new exchange inside the creating transaction.
// Losing the race to another request surfaces as NotAvailable.
func (s *Synchronizer) Claim(ctx context.Context, tx sqlx.ExtContext, bookID uuid.UUID) error {
	ok, err := s.books.Claim(ctx, tx, bookID)
	if err != nil {
		return fmt.Errorf("claim book %s: %w", bookID, err)
	}
	if !ok {
		return apperr.New(apperr.NotAvailable, "")
	}
	return nil
}

// Apply writes the availability implied by ex.Status after the exchange row
// has committed. The target is computed once and retried unchanged; if every
// attempt fails the exchange and its book disagree and Inconsistent is
// returned. The exchange row is already committed, so the retries outlive a
// cancelled caller; MaxTries bounds them.
func (s *Synchronizer) Apply(ctx context.Context, ex *Exchange) error {
	ctx = context.WithoutCancel(ctx)
	target := AvailabilityFor(ex.Status)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.Interval
	b.MaxInterval = 20 * s.opts.Interval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, s.books.Settle(ctx, s.db, ex, target)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn().Err(err).
				Str("exchange_id", ex.ID.String()).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("availability write failed, retrying")
		}),
	)
	if err == nil {
		return nil
	}

	s.inconsistencies.Add(ctx, 1, metric.WithAttributes(attribute.String("target", string(target))))
	s.log.Error().Err(err).
		Str("exchange_id", ex.ID.String()).
		Str("book_id", ex.BookID.String()).
		Str("status", string(ex.Status)).
		Str("target_availability", string(target)).
		Int("attempts", attempt).
		Msg("exchange and book availability are inconsistent; reconciliation required")

	return apperr.Wrap(apperr.Inconsistent, "", fmt.Errorf("exchange %s is %s but book %s could not be set %s: %w",
		ex.ID, ex.Status, ex.BookID, target, err))
}
