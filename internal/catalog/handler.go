package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookswap/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the book endpoints under /books.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.handleAddBook)
	r.Get("/mine", h.handleListMine)
	r.Get("/{bookID}", h.handleGetBook)
	r.Patch("/{bookID}", h.handleUpdateBook)
	r.Patch("/{bookID}/availability", h.handleSetAvailability)
	r.Delete("/{bookID}", h.handleRemoveBook)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req NewBook
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), web.Caller(r.Context()), req)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, "book", book)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListByOwner(r.Context(), web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "books", books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathUUID(r, "bookID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "book", book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathUUID(r, "bookID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	var req BookUpdate
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, web.Caller(r.Context()), req)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "book", book)
}

func (h *Handler) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathUUID(r, "bookID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	var req struct {
		AvailabilityStatus Availability `json:"availability_status"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	book, err := h.service.SetAvailability(r.Context(), id, web.Caller(r.Context()), req.AvailabilityStatus)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "book", book)
}

func (h *Handler) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathUUID(r, "bookID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id, web.Caller(r.Context())); err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "", nil)
}
