package otp

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"campusattend/internal/store"
)

// RedisStore keeps each challenge in a hash at otp:<purpose>:<subject>.
// Keys carry a TTL slightly past expiry, so Purge has nothing to do.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "otp"}
}

const expiryGrace = time.Minute

func (r *RedisStore) key(subjectID string, purpose Purpose) string {
	return r.prefix + ":" + string(purpose) + ":" + subjectID
}

func (r *RedisStore) Replace(ctx context.Context, c Challenge) error {
	k := r.key(c.SubjectID, c.Purpose)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"id", c.ID,
			"code_hash", c.CodeHash,
			"sealed", c.Sealed,
			"issued_at", c.IssuedAt.UnixMilli(),
			"expires_at", c.ExpiresAt.UnixMilli(),
			"consumed", "0",
			"attempts", 0,
		)
		pipe.PExpire(ctx, k, c.ExpiresAt.Sub(c.IssuedAt)+expiryGrace)
		return nil
	})
	return store.Unavailable(err)
}

func (r *RedisStore) Active(ctx context.Context, subjectID string, purpose Purpose, now time.Time) (Challenge, error) {
	vals, err := r.client.HGetAll(ctx, r.key(subjectID, purpose)).Result()
	if err != nil {
		return Challenge{}, store.Unavailable(err)
	}
	if len(vals) == 0 || vals["consumed"] == "1" {
		return Challenge{}, ErrNoChallenge
	}
	issued, err1 := strconv.ParseInt(vals["issued_at"], 10, 64)
	expires, err2 := strconv.ParseInt(vals["expires_at"], 10, 64)
	attempts, err3 := strconv.Atoi(vals["attempts"])
	if err := errors.Join(err1, err2, err3); err != nil {
		return Challenge{}, ErrNoChallenge
	}
	c := Challenge{
		ID:        vals["id"],
		SubjectID: subjectID,
		Purpose:   purpose,
		CodeHash:  vals["code_hash"],
		Sealed:    []byte(vals["sealed"]),
		IssuedAt:  time.UnixMilli(issued).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
		Attempts:  attempts,
	}
	if !c.Active(now) {
		return Challenge{}, ErrNoChallenge
	}
	return c, nil
}

// consumeScript compares and marks consumed in one server-side step. A
// mismatch on an active challenge counts as an attempt.
var consumeScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'code_hash', 'consumed', 'expires_at', 'attempts')
if not h[1] then return 0 end
if h[2] == '1' then return 0 end
if tonumber(h[3]) <= tonumber(ARGV[2]) then return 0 end
if tonumber(h[4] or '0') >= tonumber(ARGV[3]) then return 0 end
if h[1] ~= ARGV[1] then
	redis.call('HINCRBY', KEYS[1], 'attempts', 1)
	return 0
end
redis.call('HSET', KEYS[1], 'consumed', '1', 'consumed_at', ARGV[2])
return 1
`)

func (r *RedisStore) Consume(ctx context.Context, subjectID string, purpose Purpose, codeHash string, now time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, r.client, []string{r.key(subjectID, purpose)}, codeHash, now.UnixMilli(), MaxAttempts).Int()
	if err != nil {
		return false, store.Unavailable(err)
	}
	return n == 1, nil
}

func (r *RedisStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}
