package mailqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []mailer.Message
	calls int
	fail  error
	block bool
	begun chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, m mailer.Message) error {
	s.mu.Lock()
	s.calls++
	block, fail, begun := s.block, s.fail, s.begun
	s.mu.Unlock()

	if begun != nil {
		select {
		case begun <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail != nil {
		return fail
	}

	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) snapshot() ([]mailer.Message, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailer.Message(nil), s.sent...), s.calls
}

type workerEnv struct {
	queue  *Queue
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	worker *Worker
	sender *fakeSender
}

func newWorkerEnv(t *testing.T, qcfg Config, wcfg WorkerConfig, sender *fakeSender) (*workerEnv, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := New(rdb, qcfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if wcfg.PollInterval == 0 {
		wcfg.PollInterval = 5 * time.Millisecond
	}
	if wcfg.ClientURL == "" {
		wcfg.ClientURL = "http://localhost:3000"
	}
	w, err := NewWorker(q, sender, rate.New(rdb), wcfg, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return &workerEnv{queue: q, mr: mr, rdb: rdb, worker: w, sender: sender}, func() {
		_ = w.Stop(context.Background())
		_ = rdb.Close()
		mr.Close()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func enqueueVerification(t *testing.T, q *Queue, to, token string) string {
	t.Helper()
	job, err := NewVerificationJob(to, VerificationPayload{Token: token}, 1)
	if err != nil {
		t.Fatalf("NewVerificationJob: %v", err)
	}
	id, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestWorkerDeliversVerificationEmail(t *testing.T) {
	env, done := newWorkerEnv(t, Config{}, WorkerConfig{}, &fakeSender{})
	defer done()
	ctx := context.Background()

	id := enqueueVerification(t, env.queue, "ada@example.com", "abc123")
	if err := env.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "delivery", func() bool {
		sent, _ := env.sender.snapshot()
		return len(sent) == 1
	})
	sent, _ := env.sender.snapshot()
	if sent[0].IdempotencyKey != id {
		t.Fatalf("idempotency key = %q, want job id %q", sent[0].IdempotencyKey, id)
	}
	if !strings.Contains(sent[0].Text, "/verify-email?token=abc123") {
		t.Fatalf("unexpected body: %q", sent[0].Text)
	}

	waitFor(t, "completion", func() bool {
		job, err := env.queue.Get(ctx, id)
		return err == nil && job.State == StateCompleted
	})
	if got := testutil.ToFloat64(env.worker.mCompleted); got != 1 {
		t.Fatalf("completed counter = %v", got)
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env, done := newWorkerEnv(t, Config{}, WorkerConfig{}, &fakeSender{})
	defer done()
	ctx := context.Background()

	if err := env.worker.Stop(ctx); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := env.worker.Start(ctx); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
	}
	if !env.worker.Running() {
		t.Fatalf("worker not running after Start")
	}
	for i := 0; i < 2; i++ {
		if err := env.worker.Stop(ctx); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if env.worker.Running() {
		t.Fatalf("worker still running after Stop")
	}

	// A stopped worker can be started again.
	if err := env.worker.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := env.worker.Stop(ctx); err != nil {
		t.Fatalf("stop after restart: %v", err)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	sender := &fakeSender{fail: errors.New("connection refused")}
	env, done := newWorkerEnv(t, Config{BackoffBase: 10 * time.Millisecond}, WorkerConfig{}, sender)
	defer done()
	ctx := context.Background()

	id := enqueueVerification(t, env.queue, "ada@example.com", "tok")
	if err := env.worker.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "job to fail", func() bool {
		job, err := env.queue.Get(ctx, id)
		return err == nil && job.State == StateFailed
	})
	job, _ := env.queue.Get(ctx, id)
	if job.Attempts != 3 || job.LastError != "connection refused" {
		t.Fatalf("failed job = %+v", job)
	}
	if _, calls := sender.snapshot(); calls != 3 {
		t.Fatalf("send calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(env.worker.mRetried); got != 2 {
		t.Fatalf("retried counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(env.worker.mFailed); got != 1 {
		t.Fatalf("failed counter = %v, want 1", got)
	}
}

func TestWorkerRejectedMessageIsNotRetried(t *testing.T) {
	sender := &fakeSender{fail: mailer.ErrRejected}
	env, done := newWorkerEnv(t, Config{BackoffBase: 10 * time.Millisecond}, WorkerConfig{}, sender)
	defer done()
	ctx := context.Background()

	id := enqueueVerification(t, env.queue, "ada@example.com", "tok")
	_ = env.worker.Start(ctx)

	waitFor(t, "job to fail", func() bool {
		job, err := env.queue.Get(ctx, id)
		return err == nil && job.State == StateFailed
	})
	if _, calls := sender.snapshot(); calls != 1 {
		t.Fatalf("send calls = %d, want 1", calls)
	}
}

func TestWorkerUnknownKindFailsPermanently(t *testing.T) {
	sender := &fakeSender{}
	env, done := newWorkerEnv(t, Config{}, WorkerConfig{}, sender)
	defer done()
	ctx := context.Background()

	id, err := env.queue.Enqueue(ctx, Job{Kind: "newsletter", Recipient: "ada@example.com"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_ = env.worker.Start(ctx)

	waitFor(t, "job to fail", func() bool {
		job, err := env.queue.Get(ctx, id)
		return err == nil && job.State == StateFailed
	})
	job, _ := env.queue.Get(ctx, id)
	if job.Attempts != 1 || !strings.Contains(job.LastError, "unknown job kind") {
		t.Fatalf("job = %+v", job)
	}
	if _, calls := sender.snapshot(); calls != 0 {
		t.Fatalf("sender called for unknown kind")
	}
}

func TestWorkerStopReleasesInterruptedJob(t *testing.T) {
	sender := &fakeSender{block: true, begun: make(chan struct{}, 1)}
	env, done := newWorkerEnv(t, Config{}, WorkerConfig{}, sender)
	defer done()

	id := enqueueVerification(t, env.queue, "ada@example.com", "tok")
	_ = env.worker.Start(context.Background())

	select {
	case <-sender.begun:
	case <-time.After(3 * time.Second):
		t.Fatalf("delivery never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := env.worker.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}

	job, err := env.queue.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != StatePending || job.Attempts != 0 {
		t.Fatalf("interrupted job = %+v, want pending with no attempts", job)
	}
}

func TestWorkerHonorsRateLimit(t *testing.T) {
	env, done := newWorkerEnv(t, Config{}, WorkerConfig{RateMax: 1, RateWindow: time.Second}, &fakeSender{})
	defer done()
	ctx := context.Background()

	enqueueVerification(t, env.queue, "a@example.com", "t1")
	enqueueVerification(t, env.queue, "b@example.com", "t2")
	_ = env.worker.Start(ctx)

	waitFor(t, "rate limit", func() bool {
		return testutil.ToFloat64(env.worker.mRateLimited) >= 1
	})
	if sent, _ := env.sender.snapshot(); len(sent) != 1 {
		t.Fatalf("sent = %d while limited, want 1", len(sent))
	}

	env.mr.FastForward(time.Second)
	waitFor(t, "second delivery", func() bool {
		sent, _ := env.sender.snapshot()
		return len(sent) == 2
	})
}

func TestNewWorkerValidates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	q, _ := New(rdb, Config{})

	if _, err := NewWorker(nil, &fakeSender{}, nil, WorkerConfig{}, nil, nil); err == nil {
		t.Fatalf("expected error without queue")
	}
	if _, err := NewWorker(q, nil, nil, WorkerConfig{}, nil, nil); err == nil {
		t.Fatalf("expected error without sender")
	}
	if _, err := NewWorker(q, &fakeSender{}, nil, WorkerConfig{RateMax: 1, RateWindow: time.Second}, nil, nil); err == nil {
		t.Fatalf("expected error without limiter")
	}
}
