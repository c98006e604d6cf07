package delivery

import (
	"context"
	"log/slog"

	"account-auth/backend/internal/account/domain"
)

// LogSink records that a code was issued without recording the code. It is
// the default when no mail pipeline is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Deliver(ctx context.Context, d domain.ResetDelivery) error {
	l.logger.InfoContext(ctx, "reset code issued",
		"account_id", d.AccountID,
		"email", d.Email,
		"channel", d.Channel,
	)
	return nil
}

func (l *LogSink) Close() error { return nil }
