package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// sequenceHistory bounds how many claimed sequences are kept per column. The
// high-water mark is the largest one still held.
const sequenceHistory = 32

// claimScript adds ARGV[1] to the claimed set when it is newer than every
// sequence still held. ARGV[2] is the TTL in milliseconds, 0 disables expiry.
// ARGV[3] is the history size.
var claimScript = redis.NewScript(`
local top = redis.call('ZRANGE', KEYS[1], -1, -1)
local seq = tonumber(ARGV[1])
if top[1] and seq <= tonumber(top[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisSequencer keeps the newest applied reorder sequence per user and
// column in Redis so every instance rejects the same stale requests.
type RedisSequencer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSequencer creates a sequencer using the provided Redis client and TTL.
func NewRedisSequencer(client *redis.Client, ttl time.Duration) *RedisSequencer {
	return &RedisSequencer{client: client, ttl: ttl}
}

func (r *RedisSequencer) key(userID string, col domain.Column) string {
	return fmt.Sprintf("reorder-seq:%s:%s", userID, col)
}

// Claim atomically advances the high-water mark. It returns false when seq is
// not newer than the last claimed sequence for the column.
func (r *RedisSequencer) Claim(ctx context.Context, userID string, col domain.Column, seq int64) (bool, error) {
	res, err := claimScript.Run(ctx, r.client, []string{r.key(userID, col)}, seq, r.ttl.Milliseconds(), sequenceHistory).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release forgets seq when the claimed reorder failed before reaching
// storage. The mark falls back to the newest sequence still held, so a retry
// with seq is accepted while older reorders stay rejected.
func (r *RedisSequencer) Release(ctx context.Context, userID string, col domain.Column, seq int64) error {
	return r.client.ZRem(ctx, r.key(userID, col), strconv.FormatInt(seq, 10)).Err()
}
