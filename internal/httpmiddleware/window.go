package httpmiddleware

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"campusattend/internal/store"
)

// ErrLimited is returned when a FixedWindow key is over its budget.
var ErrLimited = errors.New("rate limit exceeded")

// FixedWindow counts events per key in Redis so the limit is shared by every
// API instance.
type FixedWindow struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewFixedWindow allows limit events per key in each window.
func NewFixedWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Allow records one event for key. It returns ErrLimited with the time left
// in the window once the budget is spent, and store.ErrUnavailable when Redis
// cannot be reached. A limit of zero disables it.
func (w *FixedWindow) Allow(ctx context.Context, key string) (time.Duration, error) {
	if w.limit <= 0 {
		return 0, nil
	}
	res, err := incrWindow.Run(ctx, w.rdb, []string{w.prefix + key}, w.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	if res[0] > w.limit {
		return time.Duration(res[1]) * time.Millisecond, ErrLimited
	}
	return 0, nil
}
