package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender only logs messages. It stands in for a relay in development.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.With(zap.String("component", "mailer"))}
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("simulated email send",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("idempotency_key", m.IdempotencyKey),
		zap.String("text", m.Text),
	)
	return nil
}
