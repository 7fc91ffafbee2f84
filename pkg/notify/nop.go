package notify

import (
	"context"

	"go.uber.org/zap"
)

// NopNotifier logs deliveries instead of sending them. Default when no
// transport is configured.
type NopNotifier struct {
	logger *zap.Logger
}

// NewNopNotifier returns a notifier that only logs.
func NewNopNotifier(logger *zap.Logger) *NopNotifier {
	return &NopNotifier{logger: logger}
}

func (n *NopNotifier) Deliver(_ context.Context, userID, message string) error {
	n.logger.Info("nudge delivery skipped, no transport configured",
		zap.String("user_id", userID),
		zap.Int("message_len", len(message)),
	)
	return nil
}

func (n *NopNotifier) Close() error { return nil }
