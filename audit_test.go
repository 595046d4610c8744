package goSession

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &captureSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig(dropIfFull bool) Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = dropIfFull
	return cfg
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	env, done := newTestEnv(t, cfg, withAudit(sink))
	defer done()

	mustRegister(t, env.engine, "alice@example.com")
	_, _ = env.engine.Login(WithClientIP(context.Background(), "203.0.113.1"), "alice@example.com", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	sink := newCaptureSink(16)
	env, done := newTestEnv(t, auditConfig(true), withAudit(sink))
	defer done()

	mustRegister(t, env.engine, "alice@example.com")
	drain(sink, 3)

	ctx := WithClientIP(context.Background(), "198.51.100.33")
	_, _ = env.engine.Login(ctx, "alice@example.com", "super-secret-password")

	select {
	case ev := <-sink.events:
		if ev.EventType != AuditLoginFailure || ev.Success {
			t.Fatalf("expected login failure event, got %+v", ev)
		}
		if ev.IP != "198.51.100.33" {
			t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
		}
		if ev.Metadata["identifier"] != "alice@example.com" {
			t.Fatalf("expected identifier metadata, got %v", ev.Metadata)
		}
		if ev.Error != ErrInvalidCredentials.Error() {
			t.Fatalf("unexpected error field %q", ev.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditRegisterEventSequence(t *testing.T) {
	sink := newCaptureSink(16)
	env, done := newTestEnv(t, auditConfig(false), withAudit(sink))
	defer done()

	reg := mustRegister(t, env.engine, "alice@example.com")

	want := []string{AuditRegister, AuditVerificationQueued, AuditLoginSuccess}
	got := drain(sink, len(want))
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, ev := range got {
		if ev.EventType != want[i] || ev.UserID != reg.ID || !ev.Success {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
	if got[1].Metadata["job_id"] == "" {
		t.Fatal("expected job id on queued event")
	}
}

// drain collects up to n events, giving up after a short wait.
func drain(sink *captureSink, n int) []AuditEvent {
	events := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev := <-sink.events:
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: AuditLoginSuccess,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	}
	sink.Emit(context.Background(), event)

	if !buf.Contains("login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"u1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := newCaptureSink(32)
	env, done := newTestEnv(t, auditConfig(false), withAudit(sink))
	defer done()
	ctx := context.Background()

	reg := mustRegister(t, env.engine, "alice@example.com")
	if _, err := env.engine.Refresh(ctx, reg.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, reg.RefreshToken); err == nil {
		t.Fatal("expected replayed refresh to fail")
	}
	_, token := takeVerificationToken(t, env.queue)
	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	u, err := env.users.FindByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	secretNeedles := []string{
		testPassword,
		reg.RefreshToken,
		reg.AccessToken,
		u.PasswordHash,
		token,
	}

	events := drain(sink, 7)
	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}

	for _, ev := range events {
		for _, needle := range secretNeedles {
			if stringContains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if stringContains(k, needle) || stringContains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: AuditLogout, UserID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: AuditLoginFailure, Error: "invalid credentials", Metadata: map[string]string{"identifier": "a@b.c"}})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", entries[0].Level, entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["component"] != "audit" || fields["identifier"] != "a@b.c" || fields["error"] != "invalid credentials" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return stringContains(string(b.buf), v)
}

func stringContains(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	if len(sub) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
