package app

import (
	"fmt"
	"math"

	"pathoflow/internal/domain/entity"
)

// PlanHighResolution уровень пирамиды, на котором увеличение ближе всего к увеличению модели:
// trunc(log(slideMag/modelMag) / log(round(downsample первого уровня))).
// Без увеличения модели и для одноуровневой пирамиды выбирается уровень 0.
func PlanHighResolution(levels []entity.Level, slideMag, modelMag float64) (int, error) {
	if len(levels) == 0 {
		return 0, fmt.Errorf("%w: slide has no levels", entity.ErrResolutionPlanning)
	}
	if modelMag == 0 || len(levels) == 1 {
		return 0, nil
	}
	if slideMag <= 0 {
		return 0, fmt.Errorf("%w: slide magnification %v", entity.ErrResolutionPlanning, slideMag)
	}
	ds := math.Round(levels[1].Downsample)
	if ds <= 1 {
		return 0, fmt.Errorf("%w: level 1 downsample %v", entity.ErrResolutionPlanning, levels[1].Downsample)
	}

	level := int(math.Log(slideMag/modelMag) / math.Log(ds))
	if level < 0 || level >= len(levels) {
		return 0, fmt.Errorf("%w: level %d for slide %vx and model %vx, pyramid has %d levels",
			entity.ErrResolutionPlanning, level, slideMag, modelMag, len(levels))
	}
	return level, nil
}

// PlanLowResolution берёт самый грубый уровень, у которого ширина или высота больше
// удвоенного входа сети, и возвращает уровень на один тоньше. Если такого нет,
// возвращается самый грубый уровень.
func PlanLowResolution(levels []entity.Level, inputW, inputH int) (int, error) {
	if len(levels) == 0 {
		return 0, fmt.Errorf("%w: slide has no levels", entity.ErrResolutionPlanning)
	}
	anchor := -1
	for i := len(levels) - 1; i >= 0; i-- {
		if levels[i].Width > 2*inputW || levels[i].Height > 2*inputH {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return len(levels) - 1, nil
	}
	level := anchor - 1
	if level < 0 {
		return 0, fmt.Errorf("%w: no level finer than %d for input %dx%d", entity.ErrResolutionPlanning, anchor, inputW, inputH)
	}
	return level, nil
}

// PlanLevel уровень для модели в зависимости от её разрешения
func PlanLevel(slide *entity.Slide, cfg *entity.ModelConfig) (int, error) {
	if cfg.Resolution == entity.ResolutionLow {
		return PlanLowResolution(slide.Levels, cfg.InputWidth, cfg.InputHeight)
	}
	return PlanHighResolution(slide.Levels, slide.Magnification, cfg.Magnification)
}
