package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"bookswap/internal/messaging"
	"bookswap/pkg/logger"
)

const publishQueueSize = 256

// RedisBroker publishes events on a Redis channel that every instance relays
// into its local Hub. Publish only enqueues; Run drains the queue and keeps
// the relay subscribed. While this instance is not relaying, or Redis is
// failing, events go straight to the local Hub.
type RedisBroker struct {
	rdb      redis.UniversalClient
	channel  string
	hub      *Hub
	breaker  *gobreaker.CircuitBreaker
	queue    chan messaging.Event
	relaying atomic.Bool
	retry    time.Duration
	log      zerolog.Logger
}

func NewRedisBroker(rdb redis.UniversalClient, channel string, hub *Hub) *RedisBroker {
	log := logger.Component("broker")
	b := &RedisBroker{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		queue:   make(chan messaging.Event, publishQueueSize),
		retry:   time.Second,
		log:     log,
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "redis-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return b
}

// Publish queues ev for Redis and returns immediately. A full queue delivers
// locally instead.
func (b *RedisBroker) Publish(ctx context.Context, ev messaging.Event) {
	select {
	case b.queue <- ev:
	default:
		b.log.Warn().Str("event", string(ev.Kind)).Msg("publish queue full, delivering locally")
		b.hub.Publish(ctx, ev)
	}
}

// State reports the publish breaker's state.
func (b *RedisBroker) State() gobreaker.State {
	return b.breaker.State()
}

// Relaying reports whether the Redis subscription is live.
func (b *RedisBroker) Relaying() bool {
	return b.relaying.Load()
}

// Run drains the publish queue and relays the channel into the hub until ctx
// is cancelled, re-subscribing with exponential backoff whenever the
// subscription fails.
func (b *RedisBroker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.drain(ctx)
	}()
	defer wg.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retry
	bo.MaxInterval = 30 * b.retry

	for {
		err := b.relay(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		b.log.Warn().Err(err).Dur("retry_in", wait).Msg("redis relay down, delivering locally")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *RedisBroker) relay(ctx context.Context, bo backoff.BackOff) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.relaying.Store(true)
	defer b.relaying.Store(false)
	bo.Reset()
	b.log.Info().Str("channel", b.channel).Msg("relaying events from redis")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			var ev messaging.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn().Err(err).Msg("discarding malformed event")
				continue
			}
			b.hub.Publish(ctx, ev)
		}
	}
}

func (b *RedisBroker) drain(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			if ctx.Err() != nil {
				b.hub.Publish(context.Background(), ev)
				continue
			}
			b.forward(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.queue:
					b.hub.Publish(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (b *RedisBroker) forward(ctx context.Context, ev messaging.Event) {
	local := !b.relaying.Load()
	if local {
		b.hub.Publish(ctx, ev)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Msg("encode event")
		return
	}
	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.rdb.Publish(ctx, b.channel, payload).Err()
	})
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("redis publish failed")
		if !local {
			b.hub.Publish(ctx, ev)
		}
	}
}
