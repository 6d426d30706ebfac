// Package pyramid открывает обычные растровые файлы как пирамиду уровней.
// Декодер форматов WSI подключается отдельно через port.PyramidOpener.
package pyramid

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

const (
	levelFactor = 4
	// minLevelSide уровень с длинной стороной не больше этого размера последний
	minLevelSide = 512
)

// Raster пирамида в памяти: уровень 0: исходное изображение, каждый следующий в 4 раза меньше
type Raster struct {
	levels        []entity.Level
	images        []*image.RGBA
	magnification float64
}

// NewRaster строит уровни из изображения
func NewRaster(img image.Image, magnification float64) *Raster {
	r := &Raster{magnification: magnification}
	base := toRGBA(img)
	fullW := base.Rect.Dx()
	cur := base
	for {
		w, h := cur.Rect.Dx(), cur.Rect.Dy()
		r.levels = append(r.levels, entity.Level{Width: w, Height: h, Downsample: float64(fullW) / float64(w)})
		r.images = append(r.images, cur)
		if max(w, h) <= minLevelSide || min(w, h) < levelFactor {
			break
		}
		next := resize.Resize(uint(w/levelFactor), uint(h/levelFactor), cur, resize.Lanczos3)
		cur = toRGBA(next)
	}
	return r
}

func (r *Raster) Levels() []entity.Level { return r.levels }
func (r *Raster) Magnification() float64 { return r.magnification }

// ReadRegion часть уровня; области за краем обрезаются
func (r *Raster) ReadRegion(_ context.Context, level int, rect image.Rectangle) (image.Image, error) {
	if level < 0 || level >= len(r.images) {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, len(r.images))
	}
	return r.images[level].SubImage(rect), nil
}

func (r *Raster) ReadLevel(_ context.Context, level int) (image.Image, error) {
	if level < 0 || level >= len(r.images) {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, len(r.images))
	}
	return r.images[level], nil
}

func (r *Raster) Close() error {
	r.images = nil
	return nil
}

// Opener открывает png, jpeg, tiff и bmp; увеличение уровня 0 задаётся конфигурацией
type Opener struct {
	Magnification float64
}

// NewOpener создаёт Opener
func NewOpener(magnification float64) *Opener {
	return &Opener{Magnification: magnification}
}

// Open декодирует файл целиком
func (o *Opener) Open(ctx context.Context, path string) (port.Pyramid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return NewRaster(img, o.Magnification), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	return rgba
}

var _ port.PyramidOpener = (*Opener)(nil)
