package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bookswap/internal/catalog"
	"bookswap/internal/store"
	"bookswap/pkg/logger"
)

// Drift is a book whose availability disagrees with its exchanges.
type Drift struct {
	BookID   uuid.UUID            `json:"book_id"`
	Actual   catalog.Availability `json:"actual"`
	Expected catalog.Availability `json:"expected"`
}

// Reconciler repairs books left inconsistent by a failed synchronizer write.
// The exchanges table is the source of truth.
type Reconciler struct {
	db *store.DB
}

func NewReconciler(db *store.DB) *Reconciler {
	return &Reconciler{db: db}
}

type bookState struct {
	ID           uuid.UUID            `db:"id"`
	Availability catalog.Availability `db:"availability_status"`
	HasOpen      int                  `db:"has_open"`
}

// Scan lists every live book whose availability violates the invariant
// "exchanging iff an open exchange references it".
func (r *Reconciler) Scan(ctx context.Context) ([]Drift, error) {
	query, args, err := sqlx.In(`
		SELECT b.id, b.availability_status,
			CASE WHEN EXISTS (
				SELECT 1 FROM exchanges e WHERE e.book_id = b.id AND e.status IN (?)
			) THEN 1 ELSE 0 END AS has_open
		FROM books b
		WHERE b.deleted_at IS NULL
		ORDER BY b.id
	`, OpenStatuses)
	if err != nil {
		return nil, fmt.Errorf("build scan query: %w", err)
	}

	var states []bookState
	if err := r.db.SelectContext(ctx, &states, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("scan books: %w", err)
	}

	drifts := []Drift{}
	for _, st := range states {
		hasOpen := st.HasOpen == 1
		switch {
		case hasOpen && st.Availability != catalog.Exchanging:
			drifts = append(drifts, Drift{BookID: st.ID, Actual: st.Availability, Expected: catalog.Exchanging})
		case !hasOpen && st.Availability == catalog.Exchanging:
			drifts = append(drifts, Drift{BookID: st.ID, Actual: st.Availability, Expected: catalog.Available})
		}
	}
	return drifts, nil
}

// Violations counts drifted books.
func (r *Reconciler) Violations(ctx context.Context) (int, error) {
	drifts, err := r.Scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(drifts), nil
}

// Repair rewrites each drifted book to its expected availability. Each write
// is conditional on the drifted value so a concurrent transition wins.
func (r *Reconciler) Repair(ctx context.Context) ([]Drift, error) {
	drifts, err := r.Scan(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Component("reconciler")
	repaired := []Drift{}
	for _, d := range drifts {
		ok, err := catalog.CompareAndSetAvailability(ctx, r.db, d.BookID, d.Expected, d.Actual)
		if err != nil {
			return repaired, fmt.Errorf("repair book %s: %w", d.BookID, err)
		}
		if !ok {
			log.Info().Str("book_id", d.BookID.String()).Msg("book changed during repair, skipped")
			continue
		}
		log.Warn().
			Str("book_id", d.BookID.String()).
			Str("from", string(d.Actual)).
			Str("to", string(d.Expected)).
			Msg("repaired book availability")
		repaired = append(repaired, d)
	}
	return repaired, nil
}
