package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

// LogDispatcher records gift notices instead of delivering them. The
// default when no SMTP host is configured.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher wires a LogDispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// SendGiftNotice implements bank.Notifier.
func (dispatcher *LogDispatcher) SendGiftNotice(_ context.Context, notice bank.GiftNotice) error {
	dispatcher.logger.Info("gift notice",
		zap.String("email", notice.Email.String()),
		zap.String("name", notice.Name),
		zap.String("value", notice.Value.String()),
	)
	return nil
}
