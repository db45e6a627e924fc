package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bookswap/pkg/apperr"
	"bookswap/pkg/logger"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Authenticate resolves the Authorization header into the request's caller.
// Requests without a token proceed anonymously and the core rejects them
// where identity is required; a malformed or expired token is rejected here.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				Fail(w, r, apperr.Wrap(apperr.NotAuthenticated, "", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), userID)))
		})
	}
}

// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as ?access_token=.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// CallerRateLimiter keeps one token bucket per caller, keyed by user id for
// authenticated requests and by remote address otherwise.
type CallerRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	r       rate.Limit
	burst   int
	idle    time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewCallerRateLimiter(r rate.Limit, burst int) *CallerRateLimiter {
	return &CallerRateLimiter{
		entries: make(map[string]*limiterEntry),
		r:       r,
		burst:   burst,
		idle:    3 * time.Minute,
	}
}

func (rl *CallerRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Prune drops buckets idle for longer than the idle window.
func (rl *CallerRateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if time.Since(entry.lastSeen) > rl.idle {
			delete(rl.entries, key)
		}
	}
}

// Middleware rejects requests over the caller's budget with RateLimited.
// It must run after Authenticate.
func (rl *CallerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if caller := Caller(r.Context()); caller != uuid.Nil {
			key = caller.String()
		}
		if !rl.limiter(key).Allow() {
			w.Header().Set("Retry-After", "1")
			Fail(w, r, apperr.New(apperr.RateLimited, ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with status and latency.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
