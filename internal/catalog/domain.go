package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Condition is the physical state of a copy.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}

// ExchangeType is how a book changes hands. Books carry the owner's
// preference; exchanges carry what was requested.
type ExchangeType string

const (
	Borrow   ExchangeType = "borrow"
	Swap     ExchangeType = "swap"
	GiveAway ExchangeType = "give_away"
)

func (t ExchangeType) Valid() bool {
	switch t {
	case Borrow, Swap, GiveAway:
		return true
	}
	return false
}

// Availability is whether a book can take a new exchange request.
// Exchanging is owned by the exchange synchronizer; owners toggle only
// between Available and Unavailable.
type Availability string

const (
	Available   Availability = "available"
	Exchanging  Availability = "exchanging"
	Unavailable Availability = "unavailable"
)

func (a Availability) Valid() bool {
	switch a {
	case Available, Exchanging, Unavailable:
		return true
	}
	return false
}

// Book is a physical copy owned by one user.
type Book struct {
	ID                 uuid.UUID    `json:"id" db:"id"`
	OwnerID            uuid.UUID    `json:"owner_id" db:"owner_id"`
	Title              string       `json:"title" db:"title"`
	Author             string       `json:"author" db:"author"`
	ISBN               string       `json:"isbn,omitempty" db:"isbn"`
	Description        string       `json:"description,omitempty" db:"description"`
	Genre              string       `json:"genre,omitempty" db:"genre"`
	Language           string       `json:"language,omitempty" db:"language"`
	Condition          Condition    `json:"condition" db:"condition"`
	ExchangeType       ExchangeType `json:"exchange_type" db:"exchange_type"`
	AvailabilityStatus Availability `json:"availability_status" db:"availability_status"`
	MaxBorrowDays      *int         `json:"max_borrow_days,omitempty" db:"max_borrow_days"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time   `json:"-" db:"deleted_at"`
}

// NewBook is the owner-supplied part of a Book.
type NewBook struct {
	Title         string       `json:"title"`
	Author        string       `json:"author"`
	ISBN          string       `json:"isbn"`
	Description   string       `json:"description"`
	Genre         string       `json:"genre"`
	Language      string       `json:"language"`
	Condition     Condition    `json:"condition"`
	ExchangeType  ExchangeType `json:"exchange_type"`
	MaxBorrowDays *int         `json:"max_borrow_days"`
}

// BookUpdate patches a book's metadata. Nil fields are left unchanged;
// availability is never touched.
type BookUpdate struct {
	Title         *string       `json:"title"`
	Author        *string       `json:"author"`
	ISBN          *string       `json:"isbn"`
	Description   *string       `json:"description"`
	Genre         *string       `json:"genre"`
	Language      *string       `json:"language"`
	Condition     *Condition    `json:"condition"`
	ExchangeType  *ExchangeType `json:"exchange_type"`
	MaxBorrowDays *int          `json:"max_borrow_days"`
}

// apply returns the book's metadata with u laid over it.
func (u BookUpdate) apply(b *Book) NewBook {
	out := NewBook{
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		Description:   b.Description,
		Genre:         b.Genre,
		Language:      b.Language,
		Condition:     b.Condition,
		ExchangeType:  b.ExchangeType,
		MaxBorrowDays: b.MaxBorrowDays,
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&out.Title, u.Title)
	set(&out.Author, u.Author)
	set(&out.ISBN, u.ISBN)
	set(&out.Description, u.Description)
	set(&out.Genre, u.Genre)
	set(&out.Language, u.Language)
	if u.Condition != nil {
		out.Condition = *u.Condition
	}
	if u.ExchangeType != nil {
		out.ExchangeType = *u.ExchangeType
	}
	if u.MaxBorrowDays != nil {
		out.MaxBorrowDays = u.MaxBorrowDays
	}
	return out
}
