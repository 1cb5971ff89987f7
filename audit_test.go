package goIdentity

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
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

func auditConfig(enabled bool) func(*Config) {
	return func(c *Config) {
		c.Audit.Enabled = enabled
		c.Audit.BufferSize = 64
		c.Audit.DropIfFull = false
	}
}

func drainAudit(sink *ChannelSink, max int) []AuditEvent {
	events := make([]AuditEvent, 0, max)
	timeout := time.After(500 * time.Millisecond)
	for len(events) < max {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	te := newTestEngine(t, auditConfig(false), func(b *Builder) { b.WithAuditSink(sink) })

	_, _ = te.Login(WithClientIP(context.Background(), "203.0.113.1"), "nobody@example.com", "wrong-password")
	te.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	sink := NewChannelSink(64)
	te := newTestEngine(t, auditConfig(true), func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "lms-web/1.0")
	_, _ = te.Login(ctx, "nobody@example.com", "super-secret-password")

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_failure" {
			t.Fatalf("expected login_failure, got %q", ev.EventType)
		}
		if ev.Success {
			t.Fatal("failed login recorded as success")
		}
		if ev.IP != "198.51.100.33" {
			t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
		}
		if ev.UserAgent != "lms-web/1.0" {
			t.Fatalf("expected user agent, got %q", ev.UserAgent)
		}
		if ev.Status != StatusInvalidCredentials.String() {
			t.Fatalf("expected status %q, got %q", StatusInvalidCredentials.String(), ev.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(128)
	te := newTestEngine(t, auditConfig(true), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()
	const email = "secret@example.com"

	id := te.registerVerified(t, email)
	if _, err := te.EnableEmailTwoFactor(ctx, id); err != nil {
		t.Fatalf("EnableEmailTwoFactor failed: %v", err)
	}
	first, err := te.Login(ctx, email, testPassword)
	if err != nil || first.BridgeToken == "" {
		t.Fatalf("Login = %+v, %v", first, err)
	}
	code := te.mailer.waitCode(t, email, account.PurposeTwoFactorEmail, 1)
	done, err := te.VerifyTwoFactor(ctx, first.BridgeToken, code, false)
	if err != nil || done.Session == nil {
		t.Fatalf("VerifyTwoFactor = %+v, %v", done, err)
	}

	acct, err := te.store.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	needles := []string{testPassword, first.BridgeToken, code, done.Session.Token, acct.PasswordHash}

	events := drainAudit(sink, 64)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	for _, ev := range events {
		for _, needle := range needles {
			if needle == "" {
				continue
			}
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in %s error field", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in %s metadata", ev.EventType)
				}
			}
		}
	}
}

func TestAuditErrorCodeClassification(t *testing.T) {
	cases := map[error]AuditErrorCode{
		nil:                "",
		ErrUnavailable:     auditErrUnavailable,
		ErrMisconfigured:   auditErrMisconfigured,
		ErrEngineNotReady:  auditErrMisconfigured,
		ErrInvalidInput:    auditErrInvalidInput,
		ErrAccountNotFound: auditErrNotFound,
		ErrTokenInvalid:    auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
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
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "login_success",
		AccountID: "acct-1",
		IP:        "127.0.0.1",
		Success:   true,
	})

	if !buf.Contains("login_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains(`"account_id":"acct-1"`) {
		t.Fatal("expected JSON log line to contain account id")
	}
	if !buf.Contains("\n") {
		t.Fatal("expected newline-terminated record")
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
	return strings.Contains(string(b.buf), v)
}

type panicSink struct {
	calls atomic.Int64
}

func (s *panicSink) Emit(context.Context, AuditEvent) {
	if s.calls.Add(1) == 1 {
		panic("sink exploded")
	}
}

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	sink := &panicSink{}
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
	dispatcher.Close()

	if got := sink.calls.Load(); got != 2 {
		t.Fatalf("expected both events delivered, got %d", got)
	}
	if dispatcher.Dropped() != 1 {
		t.Fatalf("expected panicking delivery counted as dropped, got %d", dispatcher.Dropped())
	}
}

func TestAuditDispatcherCancelledContextDrops(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.Emit(ctx, AuditEvent{EventType: "e3"})
	if dispatcher.Dropped() != 1 {
		t.Fatalf("expected cancelled emit to count as dropped, got %d", dispatcher.Dropped())
	}
}

func TestZapSinkLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: "login_success", AccountID: "acct-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{
		EventType: "two_factor_failure",
		Email:     "ada@example.com",
		Metadata:  map[string]string{"method": "totp"},
	})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "login_success" {
		t.Fatalf("unexpected success entry %+v", entries[0].Entry)
	}
	if entries[0].ContextMap()["account_id"] != "acct-1" {
		t.Fatalf("missing account_id in %v", entries[0].ContextMap())
	}
	if _, ok := entries[0].ContextMap()["email"]; ok {
		t.Fatal("empty fields must be omitted")
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected failure at warn, got %v", entries[1].Level)
	}
	if entries[1].ContextMap()["meta.method"] != "totp" {
		t.Fatalf("missing metadata in %v", entries[1].ContextMap())
	}
}
