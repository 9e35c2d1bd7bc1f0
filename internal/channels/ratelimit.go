package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps tracked senders so address rotation cannot grow the map unbounded.
	maxTrackedKeys = 4096

	// rateLimitWindow is the period the per-key budget refills over.
	rateLimitWindow = time.Minute

	// DefaultRateLimitRPM is the per-key budget when none is configured.
	DefaultRateLimitRPM = 30
)

type senderLimit struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter gives every key (recipient:sender) a token bucket of rpm
// messages refilled over a minute. Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*senderLimit
	rpm     int
	now     func() time.Time
}

// NewWebhookRateLimiter creates a limiter allowing rpm hits per key per minute.
// rpm <= 0 uses DefaultRateLimitRPM.
func NewWebhookRateLimiter(rpm int) *WebhookRateLimiter {
	if rpm <= 0 {
		rpm = DefaultRateLimitRPM
	}
	return &WebhookRateLimiter{
		entries: make(map[string]*senderLimit),
		rpm:     rpm,
		now:     time.Now,
	}
}

// Allow reports whether key still has budget, spending one token if so.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= maxTrackedKeys {
			r.evict(now)
		}
		e = &senderLimit{lim: rate.NewLimiter(rate.Every(rateLimitWindow/time.Duration(r.rpm)), r.rpm)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// evict drops keys idle for a full window, which have a full bucket anyway.
// If none are idle the least recently seen key goes.
func (r *WebhookRateLimiter) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= rateLimitWindow {
			delete(r.entries, k)
			continue
		}
		if oldestKey == "" || e.lastSeen.Before(oldest) {
			oldestKey, oldest = k, e.lastSeen
		}
	}
	if len(r.entries) >= maxTrackedKeys {
		delete(r.entries, oldestKey)
	}
}
