package email

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport writes messages to the log instead of delivering them.
// Used in development and as the default driver.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, msg *Message) error {
	t.logger.Info("email (log transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
