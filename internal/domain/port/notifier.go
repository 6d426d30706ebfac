package port

import "context"

// Notifier сообщает о завершении фоновой обработки
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
