package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]windowEntry
}

type windowEntry struct {
	count int
	reset time.Time
}

// NewMemoryLimiter returns nil when limit or window is not positive, which disables limiting.
func NewMemoryLimiter(limit int, window time.Duration, clock func() time.Time) *MemoryLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowEntry),
	}
}

// Allow never fails.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true, Remaining: math.MaxInt}, nil
	}
	key = normaliseKey(key)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.pruneExpiredLocked(now)
		entry = windowEntry{reset: now.Add(l.window)}
	}
	if entry.count >= l.limit {
		return Decision{RetryAfter: entry.reset.Sub(now)}, nil
	}
	entry.count++
	l.store[key] = entry
	return Decision{Allowed: true, Remaining: l.limit - entry.count}, nil
}

func (l *MemoryLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

func normaliseKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// ByOwner keys on the signed-in user or guest id, falling back to the client address.
func ByOwner(r *http.Request) string {
	if owner, ok := requestctx.OwnerFrom(r.Context()); ok {
		if owner.UserID != "" {
			return "user:" + owner.UserID
		}
		if owner.GuestID != "" {
			return "guest:" + owner.GuestID
		}
	}
	return ByClientIP(r)
}

// ByClientIP keys on the remote address. chi's RealIP middleware is expected to run first.
func ByClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return "ip:" + addr
}

// Middleware rejects requests over the limit with 429 and a Retry-After header. A limiter error
// lets the request through; throttling is not worth failing checkout over.
func Middleware(scope string, limiter Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := limiter.Allow(ctx, scope+":"+key(r))
			if err != nil {
				requestctx.Logger(ctx).Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
