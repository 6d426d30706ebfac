package app

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

const (
	// TissueProcess зарезервированное имя процесса встроенной сегментации ткани
	TissueProcess = "tissue"

	DefaultTissueThreshold = 85
	tissueMaxSide          = 4096
	tissueOpacity          = 0.4
)

var tissueColor = entity.Color{G: 255}

// TissueSegmentation встроенная сегментация ткани по порогу на грубом уровне
type TissueSegmentation struct {
	ops    port.ImageOps
	logger *slog.Logger
}

func NewTissueSegmentation(ops port.ImageOps, logger *slog.Logger) *TissueSegmentation {
	return &TissueSegmentation{ops: ops, logger: logger}
}

// tissueLevel самый детальный уровень, у которого длинная сторона не больше tissueMaxSide
func tissueLevel(levels []entity.Level) int {
	for i, l := range levels {
		if max(l.Width, l.Height) <= tissueMaxSide {
			return i
		}
	}
	return len(levels) - 1
}

// Mask маска ткани слайда: 1: ткань. Spacing задаёт пиксели уровня 0 на пиксель маски.
func (t *TissueSegmentation) Mask(ctx context.Context, pyr port.Pyramid, threshold int) (*entity.Artifact, error) {
	levels := pyr.Levels()
	if len(levels) == 0 {
		return nil, fmt.Errorf("slide has no levels")
	}
	level := tissueLevel(levels)
	img, err := pyr.ReadLevel(ctx, level)
	if err != nil {
		return nil, fmt.Errorf("failed to read level %d: %w", level, err)
	}
	mask := t.ops.TissueMask(img, threshold)
	t.logger.Debug("tissue mask computed", "level", level, "threshold", threshold, "size", mask.Bounds().Size())
	return &entity.Artifact{
		Kind:    entity.ArtifactImage,
		Labels:  mask,
		Spacing: spacing(levels[0], mask.Bounds()),
	}, nil
}

// Segment сегментация ткани с рендерером для отображения
func (t *TissueSegmentation) Segment(ctx context.Context, pyr port.Pyramid) (*entity.Renderer, *entity.Artifact, error) {
	mask, err := t.Mask(ctx, pyr, DefaultTissueThreshold)
	if err != nil {
		return nil, nil, err
	}
	r := entity.NewRenderer(entity.RendererSegmentation, TissueProcess)
	r.SetOpacity(tissueOpacity, 1)
	r.SetColor(1, tissueColor)
	r.SetInput(mask)
	return r, mask, nil
}

// spacing пиксели уровня 0 на пиксель изображения bounds
func spacing(full entity.Level, bounds image.Rectangle) [2]float64 {
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return [2]float64{1, 1}
	}
	return [2]float64{
		float64(full.Width) / float64(bounds.Dx()),
		float64(full.Height) / float64(bounds.Dy()),
	}
}
