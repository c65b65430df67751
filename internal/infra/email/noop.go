package email

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoopSender logs instead of sending. Used when no Resend key is configured.
type NoopSender struct {
	logger *zap.Logger
}

func NewNoopSender(logger *zap.Logger) *NoopSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(_ context.Context, msg Message) (string, error) {
	id := "noop-" + uuid.NewString()
	s.logger.Info("email not sent, sender disabled",
		zap.String("message_id", id),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return id, nil
}
