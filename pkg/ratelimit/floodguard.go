package ratelimit

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/admission-gateway/pkg/apiresponses"
	"github.com/telekom/admission-gateway/pkg/metrics"
)

// FloodGuardConfig holds token-bucket configuration for the flood guard
type FloodGuardConfig struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// DefaultFloodGuardConfig returns the default flood guard config:
// 50 req/s per address, burst of 100
func DefaultFloodGuardConfig() FloodGuardConfig {
	return FloodGuardConfig{
		Rate:            50,
		Burst:           100,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// KeyFunc extracts the flood guard key (usually the client address) from a request.
type KeyFunc func(c *gin.Context) string

// bucket holds rate limiter and last access time for an address
type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// FloodGuard rejects request floods per client address with a token bucket,
// before any admission policy work is done.
type FloodGuard struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	config  FloodGuardConfig
	done    chan struct{}
	once    sync.Once
}

// NewFloodGuard creates a flood guard and starts its cleanup goroutine.
func NewFloodGuard(cfg FloodGuardConfig) *FloodGuard {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	fg := &FloodGuard{
		buckets: make(map[string]*bucket),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go fg.cleanup()

	return fg
}

// Allow checks if a request from the given address should be allowed
func (fg *FloodGuard) Allow(key string) bool {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	b, exists := fg.buckets[key]
	if !exists {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(fg.config.Rate), fg.config.Burst),
		}
		fg.buckets[key] = b
	}
	b.lastAccess = time.Now()

	return b.limiter.Allow()
}

// Middleware returns a Gin middleware that rejects floods with 429.
// Requests for exactly one of exemptPaths are never limited.
func (fg *FloodGuard) Middleware(keyFn KeyFunc, exemptPaths ...string) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = func(c *gin.Context) string { return c.ClientIP() }
	}
	retryAfter := 1
	if fg.config.Rate > 0 {
		retryAfter = int(math.Ceil(1 / fg.config.Rate))
	}
	return func(c *gin.Context) {
		if slices.Contains(exemptPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		if !fg.Allow(keyFn(c)) {
			metrics.FloodGuardRejected.Inc()
			apiresponses.RespondTooManyRequests(c, "", retryAfter)
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine
func (fg *FloodGuard) Stop() {
	fg.once.Do(func() { close(fg.done) })
}

// cleanup periodically removes stale entries
func (fg *FloodGuard) cleanup() {
	ticker := time.NewTicker(fg.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fg.done:
			return
		case <-ticker.C:
			fg.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (fg *FloodGuard) cleanupStaleEntries() {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	now := time.Now()
	for key, b := range fg.buckets {
		if now.Sub(b.lastAccess) > fg.config.MaxAge {
			delete(fg.buckets, key)
		}
	}
}

// Len returns the current number of tracked addresses (for testing/metrics)
func (fg *FloodGuard) Len() int {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return len(fg.buckets)
}

// Config returns a copy of the current configuration (for testing)
func (fg *FloodGuard) Config() FloodGuardConfig {
	return fg.config
}
