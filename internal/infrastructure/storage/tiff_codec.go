package storage

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	"golang.org/x/image/tiff"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// TIFFCodec карта классов пирамидального результата в одностраничном TIFF.
// Spacing в файл не пишется: прочитанная карта растягивается на весь слайд.
type TIFFCodec struct{}

// NewTIFFCodec создаёт кодек
func NewTIFFCodec() *TIFFCodec {
	return &TIFFCodec{}
}

// Write сохраняет Labels с deflate-сжатием
func (c *TIFFCodec) Write(path string, a *entity.Artifact) error {
	if a.Labels == nil {
		return fmt.Errorf("artifact has no label map")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := tiff.Encode(f, a.Labels, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode tiff: %w", err)
	}
	return f.Close()
}

// Read читает карту классов
func (c *TIFFCodec) Read(path string) (*entity.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tiff: %w", err)
	}
	return &entity.Artifact{Kind: entity.ArtifactPyramid, Labels: toGray(img)}, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

var _ port.ArtifactCodec = (*TIFFCodec)(nil)
