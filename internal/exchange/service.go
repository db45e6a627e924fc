package exchange

import (
	"context"

	"github.com/google/uuid"

	"bookswap/pkg/eventstore"
)

// Service defines the exchange state machine. Every method takes the
// acting user explicitly; uuid.Nil is an unauthenticated caller.
type Service interface {
	Create(ctx context.Context, caller uuid.UUID, in CreateInput) (*Exchange, error)
	Accept(ctx context.Context, id, caller uuid.UUID, meeting Meeting) (*Exchange, error)
	Reject(ctx context.Context, id, caller uuid.UUID) (*Exchange, error)
	Cancel(ctx context.Context, id, caller uuid.UUID) (*Exchange, error)
	// Complete closes an open exchange; rating, if given, is stored under
	// the caller's role.
	Complete(ctx context.Context, id, caller uuid.UUID, rating *int) (*Exchange, error)
	Update(ctx context.Context, id, caller uuid.UUID, patch Patch) (*Exchange, error)

	Get(ctx context.Context, id, caller uuid.UUID) (*Exchange, error)
	List(ctx context.Context, caller uuid.UUID, filter ListFilter) (*Page, error)
	History(ctx context.Context, id, caller uuid.UUID) ([]eventstore.Event, error)
	Parties(ctx context.Context, id uuid.UUID) (Parties, error)
}
