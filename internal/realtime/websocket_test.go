package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/exchange"
	"bookswap/internal/messaging"
	"bookswap/internal/web"
	"bookswap/pkg/apperr"
)

type directory map[uuid.UUID]exchange.Parties

func (d directory) Parties(_ context.Context, id uuid.UUID) (exchange.Parties, error) {
	p, ok := d[id]
	if !ok {
		return exchange.Parties{}, apperr.New(apperr.NotFound, "Exchange not found.")
	}
	return p, nil
}

// asCaller stands in for the token middleware.
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(r.Header.Get("X-Test-Caller")); err == nil {
			r = r.WithContext(web.WithCaller(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

type wsFixture struct {
	hub      *Hub
	server   *httptest.Server
	exchange exchange.Parties
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	p := exchange.Parties{ExchangeID: uuid.New(), BookID: uuid.New(), OwnerID: uuid.New(), RequesterID: uuid.New()}
	hub := NewHub()
	server := httptest.NewServer(asCaller(NewHandler(hub, directory{p.ExchangeID: p})))
	t.Cleanup(server.Close)
	return &wsFixture{hub: hub, server: server, exchange: p}
}

func (f *wsFixture) dial(caller uuid.UUID, query string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/" + query
	header := http.Header{}
	if caller != uuid.Nil {
		header.Set("X-Test-Caller", caller.String())
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWebsocketStreamsThreadEvents(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(f.exchange.RequesterID, "?exchange_id="+f.exchange.ExchangeID.String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	msg := &messaging.Message{ID: uuid.New(), ExchangeID: f.exchange.ExchangeID, Content: "hello"}
	f.hub.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, ExchangeID: uuid.New()})
	f.hub.Publish(context.Background(), messaging.Event{
		Kind:       messaging.MessageCreated,
		ExchangeID: f.exchange.ExchangeID,
		ReceiverID: f.exchange.OwnerID,
		Message:    msg,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got messaging.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, messaging.MessageCreated, got.Kind)
	assert.Equal(t, f.exchange.ExchangeID, got.ExchangeID)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hello", got.Message.Content)
}

func TestWebsocketInboxFollowsCaller(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(f.exchange.OwnerID, "")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	f.hub.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, ReceiverID: f.exchange.RequesterID})
	f.hub.Publish(context.Background(), messaging.Event{Kind: messaging.MessageRead, ReceiverID: f.exchange.OwnerID, Count: 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got messaging.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, messaging.MessageRead, got.Kind)
	assert.Equal(t, 3, got.Count)
}

func TestWebsocketRejectsBeforeUpgrade(t *testing.T) {
	f := newWSFixture(t)

	cases := []struct {
		name   string
		caller uuid.UUID
		query  string
		status int
	}{
		{"anonymous", uuid.Nil, "", http.StatusUnauthorized},
		{"stranger", uuid.New(), "?exchange_id=" + f.exchange.ExchangeID.String(), http.StatusForbidden},
		{"unknown exchange", f.exchange.OwnerID, "?exchange_id=" + uuid.NewString(), http.StatusNotFound},
		{"malformed id", f.exchange.OwnerID, "?exchange_id=42", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := f.dial(tc.caller, tc.query)
			if conn != nil {
				conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
	assert.Zero(t, f.hub.Len())
}

func TestWebsocketUnsubscribesOnDisconnect(t *testing.T) {
	f := newWSFixture(t)

	conn, _, err := f.dial(f.exchange.OwnerID, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
