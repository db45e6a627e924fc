package chaos

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bookswap/internal/catalog"
	"bookswap/internal/exchange"
	"bookswap/internal/messaging"
	"bookswap/internal/realtime"
	"bookswap/pkg/apperr"
)

const invariantMetric = "availability_invariant_violations"

// Register adds every experiment against t to the engine.
func (t *Target) Register(e *Engine, duration time.Duration) {
	e.Register(
		t.ConcurrentCreateRace(16, duration),
		t.SynchronizerWriteFailure(duration),
		t.StalledSubscriberBurst(200, 250*time.Millisecond, duration),
	)
}

func (t *Target) invariant() Metric {
	return Metric{
		Name:      invariantMetric,
		Query:     t.Violations,
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func invariantHolds() Assertion {
	return Assertion{
		Metric:    invariantMetric,
		Condition: func(v float64) bool { return v == 0 },
		Message:   "Every exchanging book has exactly the open exchanges it should",
	}
}

func (t *Target) addBook(ctx context.Context, owner uuid.UUID, title string) (*catalog.Book, error) {
	return t.Books.AddBook(ctx, owner, catalog.NewBook{
		Title:        title,
		Author:       "Chaos Monkey",
		Condition:    catalog.ConditionFair,
		ExchangeType: catalog.Borrow,
	})
}

// ConcurrentCreateRace fires requesters simultaneous requests at one book.
func (t *Target) ConcurrentCreateRace(requesters int, duration time.Duration) Experiment {
	owner := uuid.New()
	var winners atomic.Int64
	var winner atomic.Value

	return Experiment{
		Name:       "concurrent-create-race",
		Hypothesis: fmt.Sprintf("Exactly one of %d simultaneous requests for a book wins and the rest see NotAvailable", requesters),
		SteadyState: []Metric{
			t.invariant(),
			{
				Name:      "race_winners",
				Query:     func(context.Context) (float64, error) { return float64(winners.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "exchanges",
			Execute: func(ctx context.Context) error {
				book, err := t.addBook(ctx, owner, "Race Condition")
				if err != nil {
					return err
				}

				start := make(chan struct{})
				errs := make(chan error, requesters)
				var wg sync.WaitGroup
				for i := 0; i < requesters; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						ex, err := t.Exchanges.Create(ctx, uuid.New(), exchange.CreateInput{BookID: book.ID, ExchangeType: catalog.Borrow})
						if err == nil {
							winners.Add(1)
							winner.Store(ex.ID)
							return
						}
						if apperr.KindOf(err) != apperr.NotAvailable {
							errs <- err
						}
					}()
				}
				close(start)
				wg.Wait()
				close(errs)

				for err := range errs {
					return fmt.Errorf("losing request failed with unexpected error: %w", err)
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "reject-winner",
			Target: "exchanges",
			Execute: func(ctx context.Context) error {
				id, ok := winner.Load().(uuid.UUID)
				if !ok {
					return nil
				}
				_, err := t.Exchanges.Reject(ctx, id, owner)
				return err
			},
		}},
		Validation: []Assertion{
			invariantHolds(),
			{
				Metric:    "race_winners",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one request won the book",
			},
		},
		Duration: duration,
	}
}

// SynchronizerWriteFailure makes every availability write fail while an
// owner rejects a request, then repairs the drift.
func (t *Target) SynchronizerWriteFailure(duration time.Duration) Experiment {
	owner := uuid.New()

	return Experiment{
		Name:        "synchronizer-write-failure",
		Hypothesis:  "A failed availability write surfaces as Inconsistent and reconciliation restores the invariant",
		SteadyState: []Metric{t.invariant()},
		Method: []Action{{
			Type:   "fail-availability-writes",
			Target: "synchronizer",
			Execute: func(ctx context.Context) error {
				book, err := t.addBook(ctx, owner, "Partial Failure")
				if err != nil {
					return err
				}
				ex, err := t.Exchanges.Create(ctx, uuid.New(), exchange.CreateInput{BookID: book.ID, ExchangeType: catalog.Borrow})
				if err != nil {
					return err
				}

				t.Faults.SetFailing(true)
				_, err = t.Exchanges.Reject(ctx, ex.ID, owner)
				if apperr.KindOf(err) != apperr.Inconsistent {
					return fmt.Errorf("reject under write failure: want %s, got %v", apperr.Inconsistent, err)
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "reconcile",
			Target: "reconciler",
			Execute: func(ctx context.Context) error {
				t.Faults.SetFailing(false)
				_, err := t.Reconciler.Repair(ctx)
				return err
			},
		}},
		Validation: []Assertion{invariantHolds()},
		Duration:   duration,
	}
}

// StalledSubscriberBurst sends a burst of messages while one live
// subscriber never reads.
func (t *Target) StalledSubscriberBurst(messages int, budget, duration time.Duration) Experiment {
	owner, requester := uuid.New(), uuid.New()
	var slowest atomic.Int64
	var stalled *realtime.Subscription
	var exchangeID uuid.UUID

	return Experiment{
		Name:       "stalled-subscriber-burst",
		Hypothesis: fmt.Sprintf("Sending %d messages stays under %s each while a subscriber is stalled", messages, budget),
		SteadyState: []Metric{
			t.invariant(),
			{
				Name: "max_send_latency_ms",
				Query: func(context.Context) (float64, error) {
					return float64(time.Duration(slowest.Load())) / float64(time.Millisecond), nil
				},
				Threshold: Threshold{Operator: "<", Value: float64(budget) / float64(time.Millisecond)},
			},
		},
		Method: []Action{{
			Type:   "stall-subscriber",
			Target: "realtime",
			Execute: func(ctx context.Context) error {
				book, err := t.addBook(ctx, owner, "Slow Reader")
				if err != nil {
					return err
				}
				ex, err := t.Exchanges.Create(ctx, requester, exchange.CreateInput{BookID: book.ID, ExchangeType: catalog.Borrow})
				if err != nil {
					return err
				}
				exchangeID = ex.ID
				stalled = t.Hub.Subscribe(realtime.Filter{ExchangeID: ex.ID}, 1)

				for i := 0; i < messages; i++ {
					start := time.Now()
					_, err := t.Messages.Send(ctx, ex.ID, requester, messaging.SendInput{Content: fmt.Sprintf("message %d", i)})
					if err != nil {
						return err
					}
					if d := int64(time.Since(start)); d > slowest.Load() {
						slowest.Store(d)
					}
				}
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "release-subscriber",
			Target: "realtime",
			Execute: func(ctx context.Context) error {
				if stalled != nil {
					stalled.Close()
				}
				if exchangeID == uuid.Nil {
					return nil
				}
				_, err := t.Exchanges.Cancel(ctx, exchangeID, requester)
				return err
			},
		}},
		Validation: []Assertion{
			invariantHolds(),
			{
				Metric:    "max_send_latency_ms",
				Condition: func(v float64) bool { return v < float64(budget)/float64(time.Millisecond) },
				Message:   "No send waited on the stalled subscriber",
			},
		},
		Duration: duration,
	}
}
