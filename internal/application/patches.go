package app

import (
	"image"
	"image/color"
	"math"

	"pathoflow/internal/domain/entity"
)

// Patch прямоугольник патча на уровне и его позиция в сетке
type Patch struct {
	Rect     image.Rectangle
	Row, Col int
}

// PatchGrid разбивает уровень на патчи размера w×h с заданным перекрытием.
// Последние патчи в строке и столбце могут выходить за границу уровня.
func PatchGrid(levelW, levelH, w, h int, overlap float64) (patches []Patch, rows, cols int) {
	stepX := max(1, w-int(math.Round(float64(w)*overlap)))
	stepY := max(1, h-int(math.Round(float64(h)*overlap)))
	for y, row := 0, 0; y < levelH; y, row = y+stepY, row+1 {
		cols = 0
		for x := 0; x < levelW; x += stepX {
			patches = append(patches, Patch{Rect: image.Rect(x, y, x+w, y+h), Row: row, Col: cols})
			cols++
		}
		rows++
	}
	return patches, rows, cols
}

// maskFilter пропускает патчи, в которых доля ткани не меньше порога
type maskFilter struct {
	mask       *image.Gray
	spacing    [2]float64 // пикселей уровня 0 на пиксель маски
	downsample float64    // пикселей уровня 0 на пиксель рабочего уровня
	threshold  float64
}

func (f *maskFilter) accept(rect image.Rectangle) bool {
	if f == nil || f.mask == nil {
		return true
	}
	sx, sy := f.spacing[0], f.spacing[1]
	if sx <= 0 || sy <= 0 {
		sx, sy = 1, 1
	}
	r := image.Rect(
		int(float64(rect.Min.X)*f.downsample/sx),
		int(float64(rect.Min.Y)*f.downsample/sy),
		int(math.Ceil(float64(rect.Max.X)*f.downsample/sx)),
		int(math.Ceil(float64(rect.Max.Y)*f.downsample/sy)),
	).Intersect(f.mask.Bounds())
	if r.Empty() {
		return false
	}
	var tissue, total int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if f.mask.GrayAt(x, y).Y > 0 {
				tissue++
			}
			total++
		}
	}
	return float64(tissue)/float64(total) >= f.threshold
}

// PatchTensor упаковывает изображение в тензор NHWC {1, h, w, channels}.
// Область за пределами img заполняется белым; scale == nil оставляет значения 0..255.
func PatchTensor(img image.Image, w, h, channels int, scale *entity.ScaleFactor) *entity.Tensor {
	t := entity.NewTensor(1, int64(h), int64(w), int64(channels))
	mul := float32(1)
	if scale != nil {
		mul = scale.Value()
	}
	b := img.Bounds()
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if p := image.Pt(b.Min.X+x, b.Min.Y+y); p.In(b) {
				px = color.RGBAModel.Convert(img.At(p.X, p.Y)).(color.RGBA)
			}
			switch channels {
			case 1:
				gray := color.GrayModel.Convert(px).(color.Gray)
				t.Data[i] = float32(gray.Y) * mul
			default:
				vals := [4]uint8{px.R, px.G, px.B, px.A}
				for c := 0; c < channels; c++ {
					t.Data[i+c] = float32(vals[min(c, 3)]) * mul
				}
			}
			i += channels
		}
	}
	return t
}
