// Package email renders and delivers back-in-stock notification messages.
package email

import "context"

// Message is a fully rendered notification ready for delivery.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Transport delivers a rendered message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}
