package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is one fixed-window budget: at most Max hits per Period for each
// identifier under Prefix. A Max of zero disables the window.
type Window struct {
	Prefix string
	Max    int
	Period time.Duration
}

// Enabled reports whether the window enforces anything.
func (w Window) Enabled() bool {
	return w.Max > 0 && w.Period > 0
}

// Decision is the outcome of counting one hit.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits in Redis. It is safe for concurrent use and shares one
// client across every window.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// INCR with PEXPIRE on the first hit. A key that lost its TTL is re-armed so
// a counter can never stick forever.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if n == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Allow records one hit for id and reports whether it fits the budget.
func (l *Limiter) Allow(ctx context.Context, w Window, id string) (Decision, error) {
	if !w.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	res, err := hitScript.Run(ctx, l.redis, []string{w.key(id)}, w.Period.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	d := Decision{Count: res[0]}
	if res[0] <= int64(w.Max) {
		d.Allowed = true
		d.Remaining = w.Max - int(res[0])
		return d, nil
	}
	d.RetryAfter = time.Duration(res[1]) * time.Millisecond
	return d, nil
}

// Check fails with ErrRateLimited when id has already used its budget. It
// does not count a hit; pair it with Hit for failure-only throttles.
func (l *Limiter) Check(ctx context.Context, w Window, id string) error {
	if !w.Enabled() {
		return nil
	}

	count, err := l.redis.Get(ctx, w.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(w.Max) {
		return ErrRateLimited
	}
	return nil
}

// Hit counts one hit for id without judging it.
func (l *Limiter) Hit(ctx context.Context, w Window, id string) error {
	_, err := l.Allow(ctx, w, id)
	return err
}

// Reset clears the counter for id.
func (l *Limiter) Reset(ctx context.Context, w Window, id string) error {
	if !w.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, w.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w Window) key(id string) string {
	return w.Prefix + id
}
