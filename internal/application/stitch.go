package app

import (
	"fmt"
	"image"

	"pathoflow/internal/domain/entity"
)

// ClassMap карта классов выхода сегментационной сети
type ClassMap struct {
	Width, Height int
	Labels        []uint8
}

// ArgmaxMap сводит выход {1,H,W,C} или {1,C,H,W} к карте классов.
// Раскладка определяется по тому, какая ось равна числу классов.
func ArgmaxMap(t *entity.Tensor, classes int) (*ClassMap, error) {
	if t == nil {
		return nil, entity.Configf("segmentation network returned no output")
	}
	shape := t.Shape
	if len(shape) == 3 {
		shape = append([]int64{1}, shape...)
	}
	if len(shape) != 4 {
		return nil, entity.Configf("segmentation output shape %v is not 4-dimensional", t.Shape)
	}
	if len(t.Data) < entity.ShapeSize(shape) {
		return nil, fmt.Errorf("segmentation output has %d values, shape %v", len(t.Data), shape)
	}

	var h, w int
	var at func(y, x, c int) float32
	switch {
	case int(shape[3]) == classes:
		h, w = int(shape[1]), int(shape[2])
		at = func(y, x, c int) float32 { return t.Data[(y*w+x)*classes+c] }
	case int(shape[1]) == classes:
		h, w = int(shape[2]), int(shape[3])
		at = func(y, x, c int) float32 { return t.Data[(c*h+y)*w+x] }
	default:
		return nil, entity.Configf("segmentation output shape %v has no axis of %d classes", t.Shape, classes)
	}

	m := &ClassMap{Width: w, Height: h, Labels: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			best, bestVal := 0, at(y, x, 0)
			for c := 1; c < classes; c++ {
				if v := at(y, x, c); v > bestVal {
					best, bestVal = c, v
				}
			}
			m.Labels[y*w+x] = uint8(best)
		}
	}
	return m, nil
}

// Image карта классов как изображение в оттенках серого
func (m *ClassMap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Labels)
	return img
}

// StitchLabels вписывает карту классов патча в прямоугольник rect уровня.
// Карта масштабируется до размера rect ближайшим соседом, выход за границы dst отсекается.
func StitchLabels(dst *image.Gray, rect image.Rectangle, m *ClassMap) {
	clip := rect.Intersect(dst.Bounds())
	if clip.Empty() || m.Width == 0 || m.Height == 0 {
		return
	}
	rw, rh := rect.Dx(), rect.Dy()
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		sy := (y - rect.Min.Y) * m.Height / rh
		for x := clip.Min.X; x < clip.Max.X; x++ {
			sx := (x - rect.Min.X) * m.Width / rw
			dst.Pix[dst.PixOffset(x, y)] = m.Labels[sy*m.Width+sx]
		}
	}
}

// ClassGrid тензор {rows, cols, classes} вероятностей классов по патчам
type ClassGrid struct {
	tensor  *entity.Tensor
	cols    int
	classes int
}

func NewClassGrid(rows, cols, classes int) *ClassGrid {
	return &ClassGrid{
		tensor:  entity.NewTensor(int64(rows), int64(cols), int64(classes)),
		cols:    cols,
		classes: classes,
	}
}

// Set записывает вероятности патча в ячейку (row, col)
func (g *ClassGrid) Set(row, col int, out *entity.Tensor) error {
	if out == nil || len(out.Data) < g.classes {
		n := 0
		if out != nil {
			n = len(out.Data)
		}
		return entity.Configf("classification output has %d values, expected %d classes", n, g.classes)
	}
	copy(g.tensor.Data[(row*g.cols+col)*g.classes:], out.Data[:g.classes])
	return nil
}

func (g *ClassGrid) Tensor() *entity.Tensor {
	return g.tensor
}
