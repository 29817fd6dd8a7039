package notify

import (
	"context"

	"go.uber.org/zap"
)

// Message is one push notification to a single recipient.
type Message struct {
	RecipientID string
	Title       string
	Body        string
}

// Notifier delivers push notifications. Delivery is best-effort; callers
// route sends through the outbound events queue and never block on them.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// Stands in for the real push gateway in development and tests.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a logging notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the message.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("recipient_id", msg.RecipientID),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	)
	return nil
}
