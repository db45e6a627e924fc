package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookswap/internal/messaging"
)

// runBroker starts b.Run and stops it when the test ends.
func runBroker(t *testing.T, b *RedisBroker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("broker did not stop")
		}
	})
}

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping: redis not reachable at %s: %v", addr, err)
	}
	return addr
}

func TestBrokerFallsBackToLocalDelivery(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	hub := NewHub()
	broker := NewRedisBroker(rdb, "bookswap:test", hub)
	broker.retry = 10 * time.Millisecond
	sub := hub.Subscribe(Filter{}, 16)
	defer sub.Close()
	runBroker(t, broker)

	for i := 0; i < 6; i++ {
		broker.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, Count: i})
	}
	for i := 0; i < 6; i++ {
		assert.Equal(t, i, receive(t, sub).Count)
	}
	assert.Eventually(t, func() bool {
		return broker.State() == gobreaker.StateOpen
	}, time.Second, 10*time.Millisecond)
	assert.False(t, broker.Relaying())
}

func TestPublishQueueOverflowDeliversLocally(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	hub := NewHub()
	broker := NewRedisBroker(rdb, "bookswap:test", hub)
	sub := hub.Subscribe(Filter{}, 4)
	defer sub.Close()

	for i := 0; i <= publishQueueSize; i++ {
		broker.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, Count: i})
	}
	assert.Equal(t, publishQueueSize, receive(t, sub).Count)
	assertNothing(t, sub)
}

func TestPublishDoesNotWaitOnStalledRedis(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:        ln.Addr().String(),
		ReadTimeout: time.Second,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	hub := NewHub()
	broker := NewRedisBroker(rdb, "bookswap:test", hub)
	sub := hub.Subscribe(Filter{}, 16)
	defer sub.Close()
	runBroker(t, broker)

	start := time.Now()
	for i := 0; i < 10; i++ {
		broker.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, Count: i})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, receive(t, sub).Count)
}

// flakyProxy forwards to target, closing new connections while down.
type flakyProxy struct {
	ln     net.Listener
	target string
	down   atomic.Bool
}

func newFlakyProxy(t *testing.T, target string) *flakyProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &flakyProxy{ln: ln, target: target}
	t.Cleanup(func() { ln.Close() })
	go p.serve()
	return p
}

func (p *flakyProxy) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		if p.down.Load() {
			conn.Close()
			continue
		}
		upstream, err := net.Dial("tcp", p.target)
		if err != nil {
			conn.Close()
			continue
		}
		go func() {
			io.Copy(upstream, conn)
			upstream.Close()
		}()
		go func() {
			io.Copy(conn, upstream)
			conn.Close()
		}()
	}
}

func TestBrokerResubscribesAfterRedisRecovers(t *testing.T) {
	addr := redisAddr(t)
	proxy := newFlakyProxy(t, addr)
	proxy.down.Store(true)

	rdb := redis.NewClient(&redis.Options{
		Addr:        proxy.ln.Addr().String(),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	direct := redis.NewClient(&redis.Options{Addr: addr})
	defer direct.Close()

	channel := "bookswap:test:" + uuid.NewString()
	hub := NewHub()
	broker := NewRedisBroker(rdb, channel, hub)
	broker.retry = 10 * time.Millisecond
	sub := hub.Subscribe(Filter{}, 16)
	defer sub.Close()
	runBroker(t, broker)

	broker.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, Count: 1})
	assert.Equal(t, 1, receive(t, sub).Count, "delivered locally while redis is down")
	assert.False(t, broker.Relaying())

	proxy.down.Store(false)
	require.Eventually(t, broker.Relaying, 5*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(messaging.Event{Kind: messaging.MessageCreated, Count: 2})
	require.NoError(t, err)
	require.NoError(t, direct.Publish(context.Background(), channel, payload).Err())
	assert.Equal(t, 2, receive(t, sub).Count, "another instance's event is relayed")

	broker.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, Count: 3})
	assert.Equal(t, 3, receive(t, sub).Count)
	assertNothing(t, sub)
}

func TestBrokerRelaysThroughRedis(t *testing.T) {
	addr := redisAddr(t)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	channel := "bookswap:test:" + uuid.NewString()
	local, remote := NewHub(), NewHub()
	publisher := NewRedisBroker(rdb, channel, local)
	relay := NewRedisBroker(rdb, channel, remote)

	sub := remote.Subscribe(Filter{}, 4)
	defer sub.Close()
	runBroker(t, publisher)
	runBroker(t, relay)
	require.Eventually(t, relay.Relaying, 3*time.Second, 10*time.Millisecond)

	exchangeID := uuid.New()
	require.Eventually(t, func() bool {
		publisher.Publish(context.Background(), messaging.Event{Kind: messaging.MessageCreated, ExchangeID: exchangeID})
		select {
		case ev := <-sub.C:
			return ev.ExchangeID == exchangeID
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
