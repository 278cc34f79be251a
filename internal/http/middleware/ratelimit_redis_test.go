package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRedisRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := 2 * time.Second
	max := 2

	r := gin.New()
	r.GET("/test", RedisRateLimit(rdb, max, w), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	do := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	// do max allowed requests
	for i := 0; i < max; i++ {
		if code := do(); code != http.StatusOK {
			t.Fatalf("expected 200 got %d", code)
		}
	}

	// next request should be blocked
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}

	// window expires
	mr.FastForward(w + time.Second)
	if code := do(); code != http.StatusOK {
		t.Fatalf("expected 200 after window, got %d", code)
	}
}

func TestRedisRateLimit_FailOpen(t *testing.T) {
	r := gin.New()
	r.GET("/test", RedisRateLimit(nil, 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 without redis, got %d", rec.Code)
		}
	}
}
