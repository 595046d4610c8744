package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Priorities are folded into the pending set score ahead of the enqueue
// time, so a priority step must exceed any millisecond timestamp.
const (
	priorityStride = 1e13
	maxPriority    = 100
)

// Config controls retry and retention. Zero values are replaced by
// DefaultConfig values in New.
type Config struct {
	Prefix         string
	MaxAttempts    int
	BackoffBase    time.Duration
	MaxBackoff     time.Duration
	Lease          time.Duration
	CompletedAge   time.Duration
	CompletedCount int
	FailedAge      time.Duration
}

// DefaultConfig returns three attempts with 5s, 10s backoff, completed jobs
// kept for a day (at most 100) and failed jobs for a week.
func DefaultConfig() Config {
	return Config{
		Prefix:         "gs:mail",
		MaxAttempts:    3,
		BackoffBase:    5 * time.Second,
		MaxBackoff:     time.Hour,
		Lease:          2 * time.Minute,
		CompletedAge:   24 * time.Hour,
		CompletedCount: 100,
		FailedAge:      7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.Lease == 0 {
		c.Lease = d.Lease
	}
	if c.CompletedAge == 0 {
		c.CompletedAge = d.CompletedAge
	}
	if c.FailedAge == 0 {
		c.FailedAge = d.FailedAge
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("mail queue MaxAttempts must be >= 1")
	}
	if c.BackoffBase <= 0 {
		return errors.New("mail queue BackoffBase must be > 0")
	}
	if c.MaxBackoff < 0 {
		return errors.New("mail queue MaxBackoff must be >= 0")
	}
	if c.Lease <= 0 {
		return errors.New("mail queue Lease must be > 0")
	}
	if c.CompletedCount < 0 {
		return errors.New("mail queue CompletedCount must be >= 0")
	}
	return nil
}

// Counts is the number of jobs in each state.
type Counts struct {
	Pending   int64
	Delayed   int64
	InFlight  int64
	Completed int64
	Failed    int64
}

// Queue is a Redis-backed priority queue of email jobs.
//
// Each job body is a JSON string key. Sorted sets index jobs by state:
// pending by priority then enqueue time, delayed by due time, in-flight by
// lease deadline and finished jobs by finish time.
type Queue struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

// New returns a Queue. Zero config fields take their defaults.
func New(client redis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Queue{redis: client, cfg: cfg, now: time.Now}, nil
}

func (q *Queue) jobKey(id string) string { return q.cfg.Prefix + ":job:" + id }
func (q *Queue) jobKeyPrefix() string    { return q.cfg.Prefix + ":job:" }
func (q *Queue) pendingKey() string      { return q.cfg.Prefix + ":pending" }
func (q *Queue) delayedKey() string      { return q.cfg.Prefix + ":delayed" }
func (q *Queue) activeKey() string       { return q.cfg.Prefix + ":active" }
func (q *Queue) completedKey() string    { return q.cfg.Prefix + ":completed" }
func (q *Queue) failedKey() string       { return q.cfg.Prefix + ":failed" }
func (q *Queue) scoreKey() string        { return q.cfg.Prefix + ":score" }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func pendingScore(j *Job) float64 {
	return float64(j.Priority)*priorityStride + float64(j.EnqueuedAt.UnixMilli())
}

/*
====================================
ENQUEUE
====================================
*/

// Enqueue stores job as pending and returns its id. A job whose id is
// already known is not enqueued again.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	job.Kind = strings.TrimSpace(job.Kind)
	job.Recipient = strings.TrimSpace(job.Recipient)
	if job.Kind == "" || job.Recipient == "" {
		return "", ErrInvalidJob
	}
	if job.Priority < 0 || job.Priority > maxPriority {
		return "", fmt.Errorf("%w: priority out of range", ErrInvalidJob)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	now := q.now()
	job.Attempts = 0
	job.State = StatePending
	job.LastError = ""
	job.EnqueuedAt = now
	job.AvailableAt = now
	job.FinishedAt = time.Time{}

	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	created, err := q.redis.SetNX(ctx, q.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return "", unavailable(err)
	}
	if !created {
		return job.ID, nil
	}

	score := pendingScore(&job)
	_, err = q.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.scoreKey(), job.ID, score)
		p.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score, Member: job.ID})
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}
	return job.ID, nil
}

/*
====================================
DEQUEUE
====================================
*/

// KEYS: pending, delayed, active, score. ARGV: now ms, lease ms.
var dequeueLua = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  local s = redis.call("HGET", KEYS[4], id)
  if not s then
    s = ARGV[1]
  end
  redis.call("ZADD", KEYS[1], s, id)
end
local top = redis.call("ZRANGE", KEYS[1], 0, 0)
if #top == 0 then
  return false
end
local id = top[1]
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[3], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
return id
`)

// Dequeue promotes delayed jobs that are due, then leases the most urgent
// pending job. It returns ErrEmpty when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		now := q.now()
		id, err := dequeueLua.Run(
			ctx,
			q.redis,
			[]string{q.pendingKey(), q.delayedKey(), q.activeKey(), q.scoreKey()},
			now.UnixMilli(),
			q.cfg.Lease.Milliseconds(),
		).Text()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrEmpty
			}
			return nil, unavailable(err)
		}

		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Body expired or was deleted; drop the orphaned index entry.
			q.redis.ZRem(ctx, q.activeKey(), id)
			q.redis.HDel(ctx, q.scoreKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}

		job.State = StateInFlight
		if err := q.save(ctx, job, 0); err != nil {
			return nil, err
		}
		return job, nil
	}
}

/*
====================================
COMPLETE / FAIL
====================================
*/

// KEYS: finished set. ARGV: cutoff ms, keep count (-1 for no cap), job key prefix.
var trimLua = redis.NewScript(`
local old = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(old) do
  redis.call("DEL", ARGV[3] .. id)
end
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local keep = tonumber(ARGV[2])
if keep >= 0 then
  local n = redis.call("ZCARD", KEYS[1])
  if n > keep then
    local extra = redis.call("ZRANGE", KEYS[1], 0, n - keep - 1)
    for _, id in ipairs(extra) do
      redis.call("DEL", ARGV[3] .. id)
    end
    redis.call("ZREMRANGEBYRANK", KEYS[1], 0, n - keep - 1)
  end
end
return 1
`)

// Complete marks a job delivered and trims the completed history.
func (q *Queue) Complete(ctx context.Context, id string) error {
	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}

	now := q.now()
	job.State = StateCompleted
	job.FinishedAt = now
	job.LastError = ""
	if err := q.finish(ctx, job, q.completedKey(), q.cfg.CompletedAge); err != nil {
		return err
	}

	keep := q.cfg.CompletedCount
	if keep == 0 {
		keep = -1
	}
	return q.trim(ctx, q.completedKey(), now.Add(-q.cfg.CompletedAge), keep)
}

// Fail records a failed attempt. The job is delayed for another attempt
// unless it has used all of them or cause wraps ErrPermanent, in which case
// it is moved to the failed set. The resulting state is returned.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (State, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}

	now := q.now()
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if errors.Is(cause, ErrPermanent) || job.Attempts >= job.MaxAttempts {
		job.State = StateFailed
		job.FinishedAt = now
		if err := q.finish(ctx, job, q.failedKey(), q.cfg.FailedAge); err != nil {
			return "", err
		}
		return StateFailed, q.trim(ctx, q.failedKey(), now.Add(-q.cfg.FailedAge), -1)
	}

	job.State = StateDelayed
	job.AvailableAt = now.Add(q.Backoff(job.Attempts))
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	_, err = q.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.jobKey(job.ID), data, 0)
		p.ZRem(ctx, q.activeKey(), job.ID)
		p.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.AvailableAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}
	return StateDelayed, nil
}

// Backoff is the delay before the attempt following the given number of
// failed attempts: BackoffBase doubled for every failure after the first,
// capped at MaxBackoff.
func (q *Queue) Backoff(failedAttempts int) time.Duration {
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	b := retry.NewExponential(q.cfg.BackoffBase)
	if q.cfg.MaxBackoff > 0 {
		b = retry.WithCappedDuration(q.cfg.MaxBackoff, b)
	}
	var d time.Duration
	for i := 0; i < failedAttempts; i++ {
		d, _ = b.Next()
	}
	return d
}

// finish drops the payload, which may carry a verification token, before
// the job is retained in its terminal set.
func (q *Queue) finish(ctx context.Context, job *Job, set string, retain time.Duration) error {
	job.Payload = nil
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.jobKey(job.ID), data, retain)
		p.ZRem(ctx, q.activeKey(), job.ID)
		p.HDel(ctx, q.scoreKey(), job.ID)
		p.ZAdd(ctx, set, redis.Z{Score: float64(job.FinishedAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (q *Queue) trim(ctx context.Context, set string, cutoff time.Time, keep int) error {
	err := trimLua.Run(ctx, q.redis, []string{set}, cutoff.UnixMilli(), keep, q.jobKeyPrefix()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}
	return nil
}

/*
====================================
RELEASE / RECLAIM
====================================
*/

// KEYS: active, pending, job key. ARGV: id, pending score, job body.
// The job moves only if it still holds a lease.
var releaseLua = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// Release returns an in-flight job to pending without counting an attempt.
// Workers call it when shutdown interrupts a delivery. Jobs that are not
// leased are left alone.
func (q *Queue) Release(ctx context.Context, id string) error {
	_, err := q.release(ctx, id)
	return err
}

// release reports whether the job left the active set.
func (q *Queue) release(ctx context.Context, id string) (bool, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	job.State = StatePending

	data, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	moved, err := releaseLua.Run(
		ctx,
		q.redis,
		[]string{q.activeKey(), q.pendingKey(), q.jobKey(job.ID)},
		job.ID,
		pendingScore(job),
		data,
	).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return moved == 1, nil
}

// Reclaim releases every in-flight job whose lease has expired, which
// happens when a worker dies mid-delivery. It returns how many were
// released.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	ids, err := q.redis.ZRangeByScore(ctx, q.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(q.now().UnixMilli()),
	}).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	n := 0
	for _, id := range ids {
		moved, err := q.release(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			q.redis.ZRem(ctx, q.activeKey(), id)
			q.redis.HDel(ctx, q.scoreKey(), id)
			continue
		}
		if err != nil {
			return n, err
		}
		if moved {
			n++
		}
	}
	return n, nil
}

/*
====================================
INSPECTION
====================================
*/

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.redis.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, unavailable(err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Counts reports the size of every state index.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var (
		pending, delayed, active, completed, failed *redis.IntCmd
	)
	_, err := q.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.ZCard(ctx, q.pendingKey())
		delayed = p.ZCard(ctx, q.delayedKey())
		active = p.ZCard(ctx, q.activeKey())
		completed = p.ZCard(ctx, q.completedKey())
		failed = p.ZCard(ctx, q.failedKey())
		return nil
	})
	if err != nil {
		return Counts{}, unavailable(err)
	}
	return Counts{
		Pending:   pending.Val(),
		Delayed:   delayed.Val(),
		InFlight:  active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Ping checks that Redis answers.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (q *Queue) save(ctx context.Context, job *Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redis.Set(ctx, q.jobKey(job.ID), data, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
