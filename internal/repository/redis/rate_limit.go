package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/campus-auth/internal/core/port"
)

const defaultRateLimitPrefix = "ratelimit"

// slidingWindowScript trims the window, admits the hit when under the limit
// and reports the oldest surviving attempt. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', key, ARGV[1], ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local score = '0'
if #oldest > 1 then
  score = oldest[2]
end
return {allowed, count, score}
`)

// RateLimitRepository persists rate-limit attempts in Redis sorted sets.
type RateLimitRepository struct {
	client redis.Scripter
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client redis.Scripter, keyPrefix string) *RateLimitRepository {
	if keyPrefix == "" {
		keyPrefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, prefix: keyPrefix}
}

// Hit records an attempt for key when fewer than limit attempts fall inside window.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration, at time.Time) (port.RateLimitDecision, error) {
	if window <= 0 {
		return port.RateLimitDecision{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.RateLimitDecision{}, errors.New("limit must be positive")
	}
	if key == "" {
		return port.RateLimitDecision{}, errors.New("key must not be empty")
	}

	nowMillis := at.UnixMilli()
	cutoff := nowMillis - window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMillis, uuid.NewString())

	raw, err := slidingWindowScript.Run(ctx, r.client, []string{r.key(key)},
		nowMillis, cutoff, limit, member, window.Milliseconds(),
	).Slice()
	if err != nil {
		return port.RateLimitDecision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(raw) != 3 {
		return port.RateLimitDecision{}, fmt.Errorf("redis sliding window: unexpected reply length %d", len(raw))
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	decision := port.RateLimitDecision{Allowed: allowed == 1, Count: int(count)}

	if scoreText, ok := raw[2].(string); ok && scoreText != "0" {
		score, err := strconv.ParseFloat(scoreText, 64)
		if err != nil {
			return port.RateLimitDecision{}, fmt.Errorf("parse oldest attempt: %w", err)
		}
		decision.Oldest = time.UnixMilli(int64(score)).UTC()
	}

	return decision, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
