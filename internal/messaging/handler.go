package messaging

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookswap/internal/templates"
	"bookswap/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// ThreadRoutes mounts the per-exchange thread endpoints on the /exchanges
// router.
func (h *Handler) ThreadRoutes(r chi.Router) {
	r.Get("/{exchangeID}/messages", h.handleList)
	r.Post("/{exchangeID}/messages", h.handleSend)
	r.Post("/{exchangeID}/messages/template", h.handleSendTemplate)
	r.Post("/{exchangeID}/messages/read", h.handleMarkRead)
}

// Routes mounts the message endpoints under /messages.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/unread-count", h.handleUnreadCount)
	r.Delete("/{messageID}", h.handleDelete)
}

// ConversationRoutes mounts the inbox under /conversations.
func (h *Handler) ConversationRoutes(r chi.Router) {
	r.Get("/", h.handleConversations)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	limit, err := web.QueryInt(r, "limit", 0)
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	offset, err := web.QueryInt(r, "offset", 0)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), exchangeID, web.Caller(r.Context()), limit, offset)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.RespondFields(w, http.StatusOK, map[string]any{
		"messages": page.Messages,
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	var req SendInput
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	msg, err := h.service.Send(r.Context(), exchangeID, web.Caller(r.Context()), req)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, "message", msg)
}

func (h *Handler) handleSendTemplate(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	var req struct {
		ReceiverID   uuid.UUID      `json:"receiver_id"`
		TemplateType templates.Key  `json:"template_type"`
		TemplateData templates.Data `json:"template_data"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Fail(w, r, err)
		return
	}

	msg, err := h.service.SendTemplate(r.Context(), exchangeID, web.Caller(r.Context()), req.ReceiverID, req.TemplateType, req.TemplateData)
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusCreated, "message", msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := web.PathUUID(r, "exchangeID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	n, err := h.service.MarkRead(r.Context(), exchangeID, web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "marked", n)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	messageID, err := web.PathUUID(r, "messageID")
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	msg, err := h.service.SoftDelete(r.Context(), messageID, web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}

	web.Respond(w, http.StatusOK, "message", msg)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	web.Respond(w, http.StatusOK, "count", n)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.service.ListConversations(r.Context(), web.Caller(r.Context()))
	if err != nil {
		web.Fail(w, r, err)
		return
	}
	web.Respond(w, http.StatusOK, "conversations", conversations)
}
