package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultFloodGuardConfig(t *testing.T) {
	cfg := DefaultFloodGuardConfig()
	assert.Equal(t, float64(50), cfg.Rate)
	assert.Equal(t, 100, cfg.Burst)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.MaxAge)
}

func TestNewFloodGuard(t *testing.T) {
	t.Run("sets default cleanup interval if zero", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 10, Burst: 20})
		defer fg.Stop()

		assert.Equal(t, time.Minute, fg.Config().CleanupInterval)
		assert.Equal(t, 5*time.Minute, fg.Config().MaxAge)
	})

	t.Run("Stop is idempotent", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 10, Burst: 20})
		fg.Stop()
		assert.NotPanics(t, fg.Stop)
	})
}

func TestFloodGuardAllow(t *testing.T) {
	t.Run("blocks requests exceeding burst limit", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 1, Burst: 3, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer fg.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, fg.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
		assert.False(t, fg.Allow("192.168.1.1"))
	})

	t.Run("different addresses have separate buckets", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer fg.Stop()

		assert.True(t, fg.Allow("192.168.1.1"))
		assert.False(t, fg.Allow("192.168.1.1"))
		assert.True(t, fg.Allow("192.168.1.2"))
		assert.Equal(t, 2, fg.Len())
	})
}

func TestFloodGuardMiddleware(t *testing.T) {
	newRouter := func(fg *FloodGuard, exclude ...string) *gin.Engine {
		router := gin.New()
		router.Use(fg.Middleware(nil, exclude...))
		router.GET("/api/chats/", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
		router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
		return router
	}
	do := func(router *gin.Engine, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.168.1.1:12345"
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("returns 429 when flooded", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer fg.Stop()
		router := newRouter(fg)

		for i := 0; i < 2; i++ {
			assert.Equal(t, http.StatusOK, do(router, "/api/chats/").Code)
		}
		w := do(router, "/api/chats/")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	})

	t.Run("exempt paths are never limited", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer fg.Stop()
		router := newRouter(fg, "/healthz")

		assert.Equal(t, http.StatusOK, do(router, "/api/chats/").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(router, "/api/chats/").Code)
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, do(router, "/healthz").Code, "health request %d should not be limited", i)
		}
		assert.Equal(t, http.StatusTooManyRequests, do(router, "/healthz/../api/chats/").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(router, "/healthzx").Code)
	})

	t.Run("custom key function", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer fg.Stop()

		router := gin.New()
		router.Use(fg.Middleware(func(c *gin.Context) string { return c.GetHeader("X-Client") }))
		router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		for _, client := range []string{"a", "b"} {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("X-Client", client)
			router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
		}
	})
}

func TestFloodGuardCleanup(t *testing.T) {
	t.Run("removes stale entries", func(t *testing.T) {
		fg := NewFloodGuard(FloodGuardConfig{
			Rate:            10,
			Burst:           10,
			CleanupInterval: 50 * time.Millisecond,
			MaxAge:          100 * time.Millisecond,
		})
		defer fg.Stop()

		fg.Allow("192.168.1.1")
		fg.Allow("192.168.1.2")
		assert.Equal(t, 2, fg.Len())

		assert.Eventually(t, func() bool { return fg.Len() == 0 }, 2*time.Second, 20*time.Millisecond)
	})
}

func TestFloodGuardConcurrency(t *testing.T) {
	fg := NewFloodGuard(FloodGuardConfig{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer fg.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fg.Allow("192.168.1.1")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fg.Len())
}
