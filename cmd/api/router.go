package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookswap/internal/catalog"
	"bookswap/internal/exchange"
	"bookswap/internal/messaging"
	"bookswap/internal/realtime"
	"bookswap/internal/store"
	"bookswap/internal/templates"
	"bookswap/internal/web"
	"bookswap/pkg/apperr"
)

type services struct {
	db        *store.DB
	verifier  web.TokenVerifier
	limiter   *web.CallerRateLimiter
	books     catalog.Service
	exchanges exchange.Service
	messages  messaging.Service
	hub       *realtime.Hub
}

func newRouter(s services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(web.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		version, err := s.db.SchemaVersion(r.Context())
		if err != nil {
			web.Fail(w, r, apperr.Wrap(apperr.Internal, "Database unavailable.", err))
			return
		}
		web.RespondFields(w, http.StatusOK, map[string]any{"status": "ok", "schema_version": version})
	})

	messages := messaging.NewHandler(s.messages)
	r.Group(func(r chi.Router) {
		r.Use(web.Authenticate(s.verifier))
		r.Use(s.limiter.Middleware)

		r.Route("/books", catalog.NewHandler(s.books).Routes)
		r.Route("/exchanges", func(r chi.Router) {
			exchange.NewHandler(s.exchanges).Routes(r)
			messages.ThreadRoutes(r)
		})
		r.Route("/messages", messages.Routes)
		r.Route("/conversations", messages.ConversationRoutes)
		r.Route("/templates", templates.Routes)
		r.Handle("/ws", realtime.NewHandler(s.hub, s.exchanges))
	})

	return r
}
