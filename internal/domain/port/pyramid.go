package port

import (
	"context"
	"image"

	"pathoflow/internal/domain/entity"
)

// Pyramid произвольный доступ к уровням пирамидального изображения.
// Декодер форматов WSI внешний, здесь только контракт.
type Pyramid interface {
	// Levels геометрия уровней, от самого детального
	Levels() []entity.Level

	// Magnification оценка увеличения уровня 0
	Magnification() float64

	// ReadRegion читает прямоугольник в координатах уровня level
	ReadRegion(ctx context.Context, level int, rect image.Rectangle) (image.Image, error)

	// ReadLevel читает уровень целиком
	ReadLevel(ctx context.Context, level int) (image.Image, error)

	Close() error
}

// PyramidOpener открывает слайд по пути к файлу
type PyramidOpener interface {
	Open(ctx context.Context, path string) (Pyramid, error)
}
