package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bookswap/internal/store"
	"bookswap/pkg/apperr"
)

const bookColumns = `id, owner_id, title, author, isbn, description, genre, language, condition,
	exchange_type, availability_status, max_borrow_days, created_at, updated_at, deleted_at`

// service implements the Service interface.
type service struct {
	db *store.DB
}

// NewService creates a new catalog service instance.
func NewService(db *store.DB) Service {
	return &service{db: db}
}

func (s *service) AddBook(ctx context.Context, owner uuid.UUID, in NewBook) (*Book, error) {
	if owner == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	if err := validateNewBook(in); err != nil {
		return nil, err
	}

	now := store.Now()
	book := &Book{
		ID:                 uuid.New(),
		OwnerID:            owner,
		Title:              in.Title,
		Author:             in.Author,
		ISBN:               in.ISBN,
		Description:        in.Description,
		Genre:              in.Genre,
		Language:           in.Language,
		Condition:          in.Condition,
		ExchangeType:       in.ExchangeType,
		AvailabilityStatus: Available,
		MaxBorrowDays:      in.MaxBorrowDays,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO books (id, owner_id, title, author, isbn, description, genre, language, condition,
			exchange_type, availability_status, max_borrow_days, created_at, updated_at)
		VALUES (:id, :owner_id, :title, :author, :isbn, :description, :genre, :language, :condition,
			:exchange_type, :availability_status, :max_borrow_days, :created_at, :updated_at)
	`, book)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return FindBook(ctx, s.db, id)
}

func (s *service) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Book, error) {
	if owner == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	books := []Book{}
	err := s.db.SelectContext(ctx, &books, s.db.Rebind(`
		SELECT `+bookColumns+`
		FROM books
		WHERE owner_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id
	`), owner)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

func (s *service) UpdateBook(ctx context.Context, id, caller uuid.UUID, in BookUpdate) (*Book, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	book, err := s.ownedBook(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	next := in.apply(book)
	next.Title = strings.TrimSpace(next.Title)
	next.Author = strings.TrimSpace(next.Author)
	if err := validateNewBook(next); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE books
		SET title = ?, author = ?, isbn = ?, description = ?, genre = ?, language = ?, condition = ?,
			exchange_type = ?, max_borrow_days = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`), next.Title, next.Author, next.ISBN, next.Description, next.Genre, next.Language, next.Condition,
		next.ExchangeType, next.MaxBorrowDays, store.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("update book %s: %w", id, err)
	}

	return FindBook(ctx, s.db, id)
}

func (s *service) SetAvailability(ctx context.Context, id, caller uuid.UUID, to Availability) (*Book, error) {
	if caller == uuid.Nil {
		return nil, apperr.New(apperr.NotAuthenticated, "")
	}
	if to != Available && to != Unavailable {
		return nil, apperr.New(apperr.Validation, "Availability must be available or unavailable.")
	}

	book, err := s.ownedBook(ctx, id, caller)
	if err != nil {
		return nil, err
	}

	ok, err := CompareAndSetAvailability(ctx, s.db, id, to, Available, Unavailable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.InvalidTransition, "This book is part of an active exchange.")
	}

	return FindBook(ctx, s.db, book.ID)
}

func (s *service) RemoveBook(ctx context.Context, id, caller uuid.UUID) error {
	if caller == uuid.Nil {
		return apperr.New(apperr.NotAuthenticated, "")
	}
	if _, err := s.ownedBook(ctx, id, caller); err != nil {
		return err
	}

	now := store.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE books
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND availability_status <> ?
	`), now, now, id, Exchanging)
	if err != nil {
		return fmt.Errorf("remove book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.InvalidTransition, "This book is part of an active exchange.")
	}
	return nil
}

func (s *service) ownedBook(ctx context.Context, id, caller uuid.UUID) (*Book, error) {
	book, err := FindBook(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if book.OwnerID != caller {
		return nil, apperr.New(apperr.Forbidden, "Only the owner can change this book.")
	}
	return book, nil
}

// FindBook reads a live book through q, which may be a transaction.
// Soft-deleted books are NotFound.
func FindBook(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Book, error) {
	var book Book
	err := sqlx.GetContext(ctx, q, &book, q.Rebind(`
		SELECT `+bookColumns+`
		FROM books
		WHERE id = ? AND deleted_at IS NULL
	`), id)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "Book not found.")
		}
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return &book, nil
}

// CompareAndSetAvailability moves a live book to `to` only if its current
// availability is one of from. It reports whether the row changed.
func CompareAndSetAvailability(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, to Availability, from ...Availability) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("compare-and-set availability: no expected state")
	}
	query, args, err := sqlx.In(`
		UPDATE books
		SET availability_status = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND availability_status IN (?)
	`, to, store.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("build availability update: %w", err)
	}

	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("update availability of book %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func validateNewBook(in NewBook) error {
	switch {
	case in.Title == "":
		return apperr.New(apperr.Validation, "Title is required.")
	case utf8.RuneCountInString(in.Title) > 255:
		return apperr.New(apperr.Validation, "Title must be at most 255 characters.")
	case in.Author == "":
		return apperr.New(apperr.Validation, "Author is required.")
	case utf8.RuneCountInString(in.Author) > 255:
		return apperr.New(apperr.Validation, "Author must be at most 255 characters.")
	case len(in.ISBN) > 20:
		return apperr.New(apperr.Validation, "ISBN must be at most 20 characters.")
	case utf8.RuneCountInString(in.Description) > 2000:
		return apperr.New(apperr.Validation, "Description must be at most 2000 characters.")
	case !in.Condition.Valid():
		return apperr.New(apperr.Validation, "Condition must be excellent, good, fair or poor.")
	case !in.ExchangeType.Valid():
		return apperr.New(apperr.Validation, "Exchange type must be borrow, swap or give_away.")
	case in.MaxBorrowDays != nil && (*in.MaxBorrowDays < 1 || *in.MaxBorrowDays > 365):
		return apperr.New(apperr.Validation, "Max borrow days must be between 1 and 365.")
	}
	return nil
}
