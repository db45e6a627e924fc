package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, owner uuid.UUID, in NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]Book, error)
	UpdateBook(ctx context.Context, id, caller uuid.UUID, in BookUpdate) (*Book, error)
	// SetAvailability lets the owner withdraw or relist a book. Books tied to
	// an open exchange cannot be toggled.
	SetAvailability(ctx context.Context, id, caller uuid.UUID, to Availability) (*Book, error)
	RemoveBook(ctx context.Context, id, caller uuid.UUID) error
}
