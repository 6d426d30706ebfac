package app

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"pathoflow/internal/domain/entity"
)

// DecodeParams параметры разбора выхода детектора
type DecodeParams struct {
	Classes   int
	InputW    int
	InputH    int
	Threshold float64
}

// DecodeYOLO разбирает выходы детектора, по одному тензору на уровень якорей.
// Каждая ячейка уровня содержит AnchorsPerCell блоков (tx, ty, tw, th, objectness, классы...).
// Координаты рамок возвращаются в пикселях входа сети.
func DecodeYOLO(outputs []*entity.Tensor, anchors entity.Anchors, p DecodeParams) ([]entity.BoundingBox, error) {
	if len(outputs) < len(anchors) {
		return nil, entity.Configf("detector returned %d outputs for %d anchor levels", len(outputs), len(anchors))
	}
	var boxes []entity.BoundingBox
	for level, levelAnchors := range anchors {
		t := outputs[level]
		if t == nil {
			return nil, entity.Configf("detector output %d is missing", level)
		}
		na := len(levelAnchors)
		per := na * (5 + p.Classes)
		if len(t.Shape) != 4 {
			return nil, entity.Configf("detector output %d shape %v is not 4-dimensional", level, t.Shape)
		}
		if len(t.Data) < entity.ShapeSize(t.Shape) {
			return nil, entity.Configf("detector output %d has %d values, shape %v", level, len(t.Data), t.Shape)
		}

		var gh, gw int
		var at func(y, x, k int) float32
		switch {
		case int(t.Shape[3]) == per:
			gh, gw = int(t.Shape[1]), int(t.Shape[2])
			at = func(y, x, k int) float32 { return t.Data[(y*gw+x)*per+k] }
		case int(t.Shape[1]) == per:
			gh, gw = int(t.Shape[2]), int(t.Shape[3])
			at = func(y, x, k int) float32 { return t.Data[(k*gh+y)*gw+x] }
		default:
			return nil, entity.Configf("detector output %d shape %v does not hold %d anchors of %d classes", level, t.Shape, na, p.Classes)
		}

		for y := 0; y < gh; y++ {
			for x := 0; x < gw; x++ {
				for a, anchor := range levelAnchors {
					base := a * (5 + p.Classes)
					objectness := sigmoid(at(y, x, base+4))
					label, best := 0, float32(0)
					for c := 0; c < p.Classes; c++ {
						if s := sigmoid(at(y, x, base+5+c)); s > best {
							label, best = c, s
						}
					}
					score := objectness * best
					if float64(score) < p.Threshold {
						continue
					}
					cx := (float64(sigmoid(at(y, x, base))) + float64(x)) / float64(gw) * float64(p.InputW)
					cy := (float64(sigmoid(at(y, x, base+1))) + float64(y)) / float64(gh) * float64(p.InputH)
					bw := anchor[0] * math.Exp(float64(at(y, x, base+2)))
					bh := anchor[1] * math.Exp(float64(at(y, x, base+3)))
					boxes = append(boxes, entity.BoundingBox{
						X:      cx - bw/2,
						Y:      cy - bh/2,
						Width:  bw,
						Height: bh,
						Label:  label,
						Score:  score,
					})
				}
			}
		}
	}
	return boxes, nil
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// NonMaxSuppression оставляет рамки с наибольшей уверенностью, подавляя
// рамки того же класса с IoU выше порога.
func NonMaxSuppression(boxes []entity.BoundingBox, iou float64) []entity.BoundingBox {
	sorted := slices.Clone(boxes)
	slices.SortStableFunc(sorted, func(a, b entity.BoundingBox) int {
		return cmp.Compare(b.Score, a.Score)
	})
	kept := make([]entity.BoundingBox, 0, len(sorted))
	for _, b := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Label == b.Label && k.IoU(b) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, b)
		}
	}
	return kept
}

// BoxAccumulator собирает рамки всех патчей в координатах уровня 0
type BoxAccumulator struct {
	mu    sync.Mutex
	boxes []entity.BoundingBox
}

// Add переводит рамки патча в координаты уровня 0.
// origin левый верхний угол патча на рабочем уровне, scale пикселей уровня на пиксель входа
// сети, downsample пикселей уровня 0 на пиксель рабочего уровня.
func (a *BoxAccumulator) Add(boxes []entity.BoundingBox, originX, originY int, scaleX, scaleY, downsample float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range boxes {
		a.boxes = append(a.boxes, entity.BoundingBox{
			X:      (float64(originX) + b.X*scaleX) * downsample,
			Y:      (float64(originY) + b.Y*scaleY) * downsample,
			Width:  b.Width * scaleX * downsample,
			Height: b.Height * scaleY * downsample,
			Label:  b.Label,
			Score:  b.Score,
		})
	}
}

// Boxes накопленные рамки
func (a *BoxAccumulator) Boxes() []entity.BoundingBox {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.boxes)
}
