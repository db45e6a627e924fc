package chaos

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"bookswap/internal/catalog"
	"bookswap/internal/exchange"
	"bookswap/internal/messaging"
	"bookswap/internal/realtime"
	"bookswap/internal/store"
	"bookswap/pkg/eventstore"
)

var errInjected = errors.New("chaos: injected availability write failure")

// FaultyAvailability fails Settle on demand. Claim is never faulted since
// it runs inside the creating transaction and cannot leave partial state.
type FaultyAvailability struct {
	exchange.AvailabilityStore
	failing atomic.Bool
}

func (f *FaultyAvailability) SetFailing(on bool) { f.failing.Store(on) }

func (f *FaultyAvailability) Settle(ctx context.Context, q sqlx.ExtContext, ex *exchange.Exchange, target catalog.Availability) error {
	if f.failing.Load() {
		return errInjected
	}
	return f.AvailabilityStore.Settle(ctx, q, ex, target)
}

// Target is the wired exchange core that experiments run against.
type Target struct {
	DB         *store.DB
	Books      catalog.Service
	Exchanges  exchange.Service
	Messages   messaging.Service
	Hub        *realtime.Hub
	Reconciler *exchange.Reconciler
	Faults     *FaultyAvailability
}

func NewTarget(db *store.DB, opts exchange.SyncOptions) *Target {
	faults := &FaultyAvailability{AvailabilityStore: exchange.NewSQLAvailabilityStore()}
	exchanges := exchange.NewService(db, eventstore.NewEventStore(db), exchange.NewSynchronizer(db, faults, opts))
	hub := realtime.NewHub()

	return &Target{
		DB:         db,
		Books:      catalog.NewService(db),
		Exchanges:  exchanges,
		Messages:   messaging.NewService(db, exchanges, hub),
		Hub:        hub,
		Reconciler: exchange.NewReconciler(db),
		Faults:     faults,
	}
}

// Violations is the availability invariant metric: books whose status
// disagrees with their open exchanges.
func (t *Target) Violations(ctx context.Context) (float64, error) {
	n, err := t.Reconciler.Violations(ctx)
	return float64(n), err
}
