package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"campusattend/internal/store"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("ip"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	ok, wait := l.allow("ip")
	if ok || wait <= 0 || wait > time.Second {
		t.Fatalf("ok=%v wait=%v", ok, wait)
	}
	if ok, _ := l.allow("other"); !ok {
		t.Fatal("keys are not independent")
	}

	now = now.Add(time.Second)
	if ok, _ := l.allow("ip"); !ok {
		t.Fatal("bucket did not refill")
	}
}

func TestTokenBucketMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewTokenBucket(1, 1).GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
		if i == 1 && w.Header().Get("Retry-After") == "" {
			t.Fatal("missing Retry-After")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	w := NewFixedWindow(rdb, "test:otp:", 3, time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := w.Allow(ctx, "t1:login"); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	retry, err := w.Allow(ctx, "t1:login")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("err = %v, want ErrLimited", err)
	}
	if retry <= 0 || retry > time.Hour {
		t.Fatalf("retry = %v", retry)
	}
	if _, err := w.Allow(ctx, "t1:attendance"); err != nil {
		t.Fatalf("other purpose limited: %v", err)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := w.Allow(ctx, "t1:login"); err != nil {
		t.Fatalf("window did not reset: %v", err)
	}
}

func TestFixedWindowRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	w := NewFixedWindow(rdb, "test:otp:", 3, time.Hour)
	mr.Close()

	_, err := w.Allow(context.Background(), "t1:login")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
