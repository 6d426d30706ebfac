package port

import (
	"context"

	"pathoflow/internal/domain/entity"
)

// RunRepository интерфейс журнала запусков
type RunRepository interface {
	// Append сохраняет итог запуска
	Append(ctx context.Context, rec entity.RunRecord) error

	// List возвращает запуски слайда, пустой slideID: все запуски
	List(ctx context.Context, slideID string) ([]entity.RunRecord, error)
}
