package email

import (
	"context"

	"github.com/beltoft/restock/internal/circuitbreaker"
)

// BreakerTransport wraps a Transport with a circuit breaker so a failing
// mail server fails batches fast instead of timing out on every subscriber.
type BreakerTransport struct {
	next    Transport
	breaker *circuitbreaker.Breaker
}

func NewBreakerTransport(next Transport, breaker *circuitbreaker.Breaker) *BreakerTransport {
	return &BreakerTransport{next: next, breaker: breaker}
}

func (t *BreakerTransport) Send(ctx context.Context, msg *Message) error {
	return t.breaker.Do(func() error {
		return t.next.Send(ctx, msg)
	})
}
