package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bookswap/internal/messaging"
	"bookswap/internal/web"
	"bookswap/pkg/apperr"
	"bookswap/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxReadBytes   = 1024
	subscriberSize = 64
)

// Tokens travel as bearer headers or query parameters, never cookies, so
// the origin check does not guard anything.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler streams message events over a websocket. With ?exchange_id= it
// follows one thread; without it, everything addressed to the caller.
type Handler struct {
	hub       *Hub
	exchanges messaging.ExchangeDirectory
	log       zerolog.Logger
}

func NewHandler(hub *Hub, exchanges messaging.ExchangeDirectory) *Handler {
	return &Handler{hub: hub, exchanges: exchanges, log: logger.Component("websocket")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caller := web.Caller(r.Context())
	if caller == uuid.Nil {
		web.Fail(w, r, apperr.New(apperr.NotAuthenticated, ""))
		return
	}

	filter := Filter{ReceiverID: caller}
	if raw := r.URL.Query().Get("exchange_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			web.Fail(w, r, apperr.New(apperr.Validation, "exchange_id must be a UUID."))
			return
		}
		parties, err := h.exchanges.Parties(r.Context(), id)
		if err != nil {
			web.Fail(w, r, err)
			return
		}
		if !parties.Includes(caller) {
			web.Fail(w, r, apperr.New(apperr.Forbidden, "You are not part of this exchange."))
			return
		}
		filter = Filter{ExchangeID: id}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := h.hub.Subscribe(filter, subscriberSize)
	h.log.Debug().
		Str("caller_id", caller.String()).
		Str("exchange_id", filter.ExchangeID.String()).
		Msg("websocket subscribed")

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client frames and keeps the read deadline fresh. Any
// read error ends the subscription.
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
