package vision

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"pathoflow/internal/domain/port"
)

// closeRadius радиус морфологического закрытия маски ткани
const closeRadius = 2

// Ops растровые операции: масштабирование через nfnt/resize и x/image/draw,
// маска ткани через OpenCV (тег gocv) или на чистом Go
type Ops struct{}

// NewOps создаёт набор операций
func NewOps() *Ops {
	return &Ops{}
}

// Resize масштабирует изображение. nearest выбирает ближайший пиксель без усреднения,
// поэтому значения меток в картах классов сохраняются.
func (o *Ops) Resize(img image.Image, width, height int, nearest bool) image.Image {
	width, height = max(1, width), max(1, height)
	if !nearest {
		return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	}
	rect := image.Rect(0, 0, width, height)
	var dst draw.Image = image.NewRGBA(rect)
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(rect)
	}
	draw.NearestNeighbor.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

// TissueMask бинарная маска: 1 там, где цвет отстоит от белого дальше threshold.
// Маска закрывается эллипсом радиуса closeRadius.
func (o *Ops) TissueMask(img image.Image, threshold int) *image.Gray {
	return tissueMask(img, threshold)
}

var _ port.ImageOps = (*Ops)(nil)
