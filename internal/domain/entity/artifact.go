package entity

import (
	"image"
	"strings"
)

// ArtifactKind тип результата
type ArtifactKind string

const (
	ArtifactPyramid ArtifactKind = "pyramid"
	ArtifactImage   ArtifactKind = "image"
	ArtifactTensor  ArtifactKind = "tensor"
	ArtifactBoxes   ArtifactKind = "boxes"
)

var artifactExtensions = map[ArtifactKind]string{
	ArtifactPyramid: ".tiff",
	ArtifactImage:   ".mhd",
	ArtifactTensor:  ".hdf5",
}

// Extension расширение файла для типа результата, "" если тип не сохраняется
func (k ArtifactKind) Extension() string {
	return artifactExtensions[k]
}

// KindFromExtension определяет тип результата по расширению файла
func KindFromExtension(ext string) (ArtifactKind, bool) {
	ext = strings.ToLower(ext)
	for kind, e := range artifactExtensions {
		if e == ext {
			return kind, true
		}
	}
	return "", false
}

// Tensor плотный тензор float32 в порядке row-major
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor создаёт тензор, заполненный нулями
func NewTensor(shape ...int64) *Tensor {
	return &Tensor{Shape: shape, Data: make([]float32, ShapeSize(shape))}
}

// ShapeSize количество элементов тензора формы shape
func ShapeSize(shape []int64) int {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

// BoundingBox прямоугольник в координатах уровня 0
type BoundingBox struct {
	X, Y, Width, Height float64
	Label               int
	Score               float32
}

// Area площадь прямоугольника
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// IoU отношение пересечения к объединению
func (b BoundingBox) IoU(o BoundingBox) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.Width, o.X+o.Width)
	y2 := min(b.Y+b.Height, o.Y+o.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Artifact именованный результат графа
type Artifact struct {
	Kind ArtifactKind
	// Labels карта классов для pyramid и image
	Labels *image.Gray
	// Spacing физический размер пикселя Labels относительно уровня 0
	Spacing [2]float64
	Tensor  *Tensor
	Boxes   []BoundingBox
}
