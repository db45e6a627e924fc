package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"bookswap/internal/catalog"
	"bookswap/internal/config"
	"bookswap/internal/exchange"
	"bookswap/internal/identity"
	"bookswap/internal/messaging"
	"bookswap/internal/realtime"
	"bookswap/internal/store"
	"bookswap/internal/telemetry"
	"bookswap/internal/web"
	"bookswap/pkg/eventstore"
	"bookswap/pkg/logger"
)

func main() {
	logger.Init(envOr("APP_ENV", "development"))
	cfg, err := config.Load(envOr("ENV_FILE", ".env"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "bookswap-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	hub := realtime.NewHub()
	var publisher messaging.Publisher = hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		broker := realtime.NewRedisBroker(rdb, cfg.RedisChannel, hub)
		go func() {
			if err := broker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("redis broker stopped")
			}
		}()
		publisher = broker
	}

	if cfg.JWTSecret == config.DevJWTSecret {
		logger.Warn().Msg("JWT_SECRET not set, using the development secret")
	}

	exchanges := exchange.NewService(db, eventstore.NewEventStore(db), exchange.NewSynchronizer(db,
		exchange.NewSQLAvailabilityStore(),
		exchange.SyncOptions{MaxTries: cfg.SyncMaxRetries, Interval: cfg.SyncRetryInterval}))

	limiter := web.NewCallerRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(services{
			db:        db,
			verifier:  identity.NewJWT(cfg.JWTSecret, ""),
			limiter:   limiter,
			books:     catalog.NewService(db),
			exchanges: exchanges,
			messages:  messaging.NewService(db, exchanges, publisher),
			hub:       hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("driver", cfg.DatabaseDriver).Msg("bookswap api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush traces")
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
