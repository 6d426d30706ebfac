package storage

import (
	"context"
	"slices"
	"sync"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// MemoryRunRepository in-memory журнал запусков
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs []entity.RunRecord
}

// NewMemoryRunRepository создаёт пустой журнал
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{}
}

// Append добавляет запись в конец журнала
func (r *MemoryRunRepository) Append(ctx context.Context, rec entity.RunRecord) error {
	r.mu.Lock()
	r.runs = append(r.runs, rec)
	r.mu.Unlock()

	return nil
}

// List возвращает записи слайда в порядке добавления
func (r *MemoryRunRepository) List(ctx context.Context, slideID string) ([]entity.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if slideID == "" {
		return slices.Clone(r.runs), nil
	}
	var out []entity.RunRecord
	for _, rec := range r.runs {
		if rec.Slide == slideID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Проверка реализации интерфейса
var _ port.RunRepository = (*MemoryRunRepository)(nil)
