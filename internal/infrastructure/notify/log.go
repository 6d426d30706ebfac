package notify

import (
	"context"
	"log/slog"

	"pathoflow/internal/domain/port"
)

// Log пишет уведомления в журнал
type Log struct {
	logger *slog.Logger
}

// NewLog создаёт уведомитель поверх logger
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) Notify(ctx context.Context, text string) error {
	n.logger.InfoContext(ctx, "notification", "text", text)
	return nil
}

var _ port.Notifier = (*Log)(nil)
