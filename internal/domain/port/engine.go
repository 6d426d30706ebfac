package port

import (
	"context"

	"pathoflow/internal/domain/entity"
)

// InferenceEngine загруженная сеть одного движка инференса
type InferenceEngine interface {
	// Load загружает веса; явные формы узлов задаются binding, иначе берутся из файла
	Load(ctx context.Context, weightsPath string, binding entity.NodeBinding) error

	// Run выполняет сеть на входном тензоре NHWC и возвращает выходы всех узлов
	Run(ctx context.Context, input *entity.Tensor) ([]*entity.Tensor, error)

	Close() error
}

// EngineFactory создаёт движок для выбранной пары движок+формат
type EngineFactory interface {
	New(sel entity.Selection) (InferenceEngine, error)
}
