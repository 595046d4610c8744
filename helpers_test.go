package goSession

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/mailqueue"
	"github.com/MrEthical07/goSession/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessKey = []byte("access-secret-access-secret-0123")
	cfg.JWT.RefreshKey = []byte("refresh-secret-refresh-secret-012")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.LoginThrottle.MaxAttempts = 3
	return cfg
}

type testEnv struct {
	engine *Engine
	users  userstore.Store
	queue  *mailqueue.Queue
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

type envOption func(b *Builder, env *testEnv)

func withRedisUsers() envOption {
	return func(b *Builder, env *testEnv) {
		env.users = userstore.NewRedis(env.rdb, "test")
		b.WithUserStore(env.users)
	}
}

func withQueue(q JobQueue) envOption {
	return func(b *Builder, _ *testEnv) {
		b.WithQueue(q)
	}
}

func withAudit(sink AuditSink) envOption {
	return func(b *Builder, _ *testEnv) {
		b.WithAuditSink(sink)
	}
}

func newTestEnv(tb testing.TB, cfg Config, opts ...envOption) (*testEnv, func()) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := mailqueue.New(rdb, mailqueue.Config{})
	if err != nil {
		tb.Fatalf("mailqueue: %v", err)
	}

	env := &testEnv{users: userstore.NewMemory(), queue: q, mr: mr, rdb: rdb}
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(env.users).
		WithQueue(q)
	for _, opt := range opts {
		opt(b, env)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		tb.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	return env, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func registerInput(email string) RegisterInput {
	return RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Age:       36,
	}
}

func mustRegister(tb testing.TB, e *Engine, email string) *RegisterResult {
	tb.Helper()
	res, err := e.Register(context.Background(), registerInput(email))
	if err != nil {
		tb.Fatalf("register failed: %v", err)
	}
	return res
}

// takeVerificationToken pops the next queued job and returns its recipient
// and token.
func takeVerificationToken(tb testing.TB, q *mailqueue.Queue) (string, string) {
	tb.Helper()
	ctx := context.Background()
	job, err := q.Dequeue(ctx)
	if err != nil {
		tb.Fatalf("dequeue: %v", err)
	}
	var p mailqueue.VerificationPayload
	if err := job.DecodePayload(&p); err != nil {
		tb.Fatalf("payload: %v", err)
	}
	if err := q.Complete(ctx, job.ID); err != nil {
		tb.Fatalf("complete: %v", err)
	}
	return job.Recipient, p.Token
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, mailqueue.Job) (string, error) {
	return "", errors.New("broker down")
}
