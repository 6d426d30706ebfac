package port

import "pathoflow/internal/domain/entity"

// View поверхность отображения, на которую подключаются восстановленные рендереры
type View interface {
	AddRenderer(r *entity.Renderer)
}
