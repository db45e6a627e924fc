package exchange

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookswap/internal/web"
	"bookswap/pkg/apperr"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the exchange endpoints under /exchanges.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{exchangeID}", h.handleGet)
	r.Patch("/{exchangeID}", h.handleUpdate)
	r.Post("/{exchangeID}/accept", h.handleAccept)
	r.Post("/{exchangeID}/reject", h.handleReject)
	r.Post("/{exchangeID}/cancel", h.handleCancel)
	r.Post("/{exchangeID}/complete", h.handleComplete)
	r.Get("/{exchangeID}/history", h.handleHistory)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	ex, err := h.service.Create(r.Context(), web.Caller(r.Context()), req)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, "exchange", ex)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = web.QueryInt(r, "limit", 0); err != nil {
		web.Fail(w, r, err)
		return
	}
	if filter.Offset, err = web.QueryInt(r, "offset", 0); err != nil {
		web.Fail(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), web.Caller(r.Context()), filter)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.RespondFields(w, http.StatusOK, map[string]any{
		"exchanges": page.Exchanges,
		"total":     page.Total,
		"has_more":  page.HasMore,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Get(r.Context(), id, web.Caller(r.Context()))
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := web.Decode(r, &patch); err != nil {
		web.Fail(w, r, err)
		return
	}
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Update(r.Context(), id, web.Caller(r.Context()), patch)
	})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	var meeting Meeting
	if err := web.Decode(r, &meeting); err != nil {
		web.Fail(w, r, err)
		return
	}
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Accept(r.Context(), id, web.Caller(r.Context()), meeting)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Reject(r.Context(), id, web.Caller(r.Context()))
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Cancel(r.Context(), id, web.Caller(r.Context()))
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating *int `json:"rating"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}
	h.withExchange(w, r, func(id uuid.UUID) (*Exchange, error) {
		return h.service.Complete(r.Context(), id, web.Caller(r.Context()), req.Rating)
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	events, err := h.service.History(r.Context(), id, web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "events", events)
}

func (h *Handler) withExchange(w http.ResponseWriter, r *http.Request, op func(id uuid.UUID) (*Exchange, error)) {
	id, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	ex, err := op(id)
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	if ex == nil {
		web.Fail(w, r, apperr.New(apperr.Internal, ""))
		return
	}

	web.Respond(w, http.StatusOK, "exchange", ex)
}
