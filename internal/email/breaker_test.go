package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/circuitbreaker"
)

type failingTransport struct {
	calls int
	err   error
}

func (f *failingTransport) Send(_ context.Context, _ *Message) error {
	f.calls++
	return f.err
}

func TestBreakerTransport_FailsFastWhenOpen(t *testing.T) {
	inner := &failingTransport{err: errors.New("connection refused")}
	br := circuitbreaker.New(circuitbreaker.Config{
		Name:            "mail",
		MaxFailures:     2,
		RecoveryTimeout: time.Minute,
	}, zap.NewNop())
	transport := NewBreakerTransport(inner, br)

	msg := &Message{To: "a@example.com", Subject: "s"}
	ctx := context.Background()

	_ = transport.Send(ctx, msg)
	_ = transport.Send(ctx, msg)

	err := transport.Send(ctx, msg)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("open breaker must not reach the transport, got %d calls", inner.calls)
	}
}

func TestBreakerTransport_PassesThrough(t *testing.T) {
	inner := &failingTransport{}
	br := circuitbreaker.New(circuitbreaker.DefaultConfig("mail"), zap.NewNop())
	transport := NewBreakerTransport(inner, br)

	if err := transport.Send(context.Background(), &Message{To: "a@example.com"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}
