package exchange

import (
	"time"

	"github.com/google/uuid"

	"bookswap/internal/catalog"
)

// Status is the lifecycle state of an exchange.
type Status string

const (
	Pending  Status = "pending"
	Accepted Status = "accepted"
	// InProgress is accepted by the schema but no transition produces it.
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Rejected   Status = "rejected"
	Cancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Accepted, InProgress, Completed, Rejected, Cancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	return s == Completed || s == Rejected || s == Cancelled
}

// OpenStatuses are the non-terminal statuses, as stored.
var OpenStatuses = []Status{Pending, Accepted, InProgress}

// Role is a user's relation to one exchange.
type Role int

const (
	RoleNone Role = iota
	RoleOwner
	RoleRequester
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleRequester:
		return "requester"
	default:
		return "none"
	}
}

// Exchange is a negotiation between a requester and a book's owner.
type Exchange struct {
	ID              uuid.UUID            `json:"id" db:"id"`
	BookID          uuid.UUID            `json:"book_id" db:"book_id"`
	OwnerID         uuid.UUID            `json:"owner_id" db:"owner_id"`
	RequesterID     uuid.UUID            `json:"requester_id" db:"requester_id"`
	Status          Status               `json:"status" db:"status"`
	ExchangeType    catalog.ExchangeType `json:"exchange_type" db:"exchange_type"`
	MeetingLocation *string              `json:"meeting_location,omitempty" db:"meeting_location"`
	MeetingDatetime *time.Time           `json:"meeting_datetime,omitempty" db:"meeting_datetime"`
	Notes           *string              `json:"notes,omitempty" db:"notes"`
	ReturnDate      *time.Time           `json:"return_date,omitempty" db:"return_date"`
	OwnerRating     *int                 `json:"owner_rating,omitempty" db:"owner_rating"`
	RequesterRating *int                 `json:"requester_rating,omitempty" db:"requester_rating"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty" db:"completed_at"`
	Version         int                  `json:"version" db:"version"`
	CreatedAt       time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at" db:"updated_at"`
}

// RoleOf returns user's role in the exchange.
func (e *Exchange) RoleOf(user uuid.UUID) Role {
	switch {
	case user == uuid.Nil:
		return RoleNone
	case user == e.OwnerID:
		return RoleOwner
	case user == e.RequesterID:
		return RoleRequester
	default:
		return RoleNone
	}
}

// Parties are the two users allowed to act on and message about an exchange.
type Parties struct {
	ExchangeID  uuid.UUID
	BookID      uuid.UUID
	OwnerID     uuid.UUID
	RequesterID uuid.UUID
}

// Includes reports whether user is the owner or the requester.
func (p Parties) Includes(user uuid.UUID) bool {
	return user != uuid.Nil && (user == p.OwnerID || user == p.RequesterID)
}

// CreateInput is a requester's ask for a book.
type CreateInput struct {
	BookID          uuid.UUID            `json:"book_id"`
	ExchangeType    catalog.ExchangeType `json:"exchange_type"`
	ReturnDate      *time.Time           `json:"return_date,omitempty"`
	MeetingLocation *string              `json:"meeting_location,omitempty"`
	MeetingDatetime *time.Time           `json:"meeting_datetime,omitempty"`
	Notes           *string              `json:"notes,omitempty"`
}

// Meeting is what an owner proposes when accepting.
type Meeting struct {
	Location *string    `json:"meeting_location,omitempty"`
	Datetime *time.Time `json:"meeting_datetime,omitempty"`
}

// Patch is a partial update. A nil field is left unchanged. Availability
// side effects follow only from Status; Rating is recorded under the
// caller's role and only together with a move to Completed.
type Patch struct {
	Status          *Status    `json:"status,omitempty"`
	MeetingLocation *string    `json:"meeting_location,omitempty"`
	MeetingDatetime *time.Time `json:"meeting_datetime,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	ReturnDate      *time.Time `json:"return_date,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
}

// ListFilter narrows a caller's exchanges.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// Page is one window of a caller's exchanges.
type Page struct {
	Exchanges []Exchange `json:"exchanges"`
	Total     int        `json:"total"`
	HasMore   bool       `json:"has_more"`
}

// LifecycleEvent is the payload recorded for every exchange write.
type LifecycleEvent struct {
	ExchangeID uuid.UUID `json:"exchange_id"`
	BookID     uuid.UUID `json:"book_id"`
	Actor      uuid.UUID `json:"actor"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	Rating     *int      `json:"rating,omitempty"`
	Fields     []string  `json:"fields,omitempty"`
}
