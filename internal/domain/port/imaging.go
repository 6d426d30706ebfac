package port

import "image"

// ImageOps операции над растром, реализуются в infrastructure/vision
type ImageOps interface {
	// Resize масштабирует изображение; nearest для карт классов
	Resize(img image.Image, width, height int, nearest bool) image.Image

	// TissueMask бинарная маска ткани: 1: ткань, 0: фон
	TissueMask(img image.Image, threshold int) *image.Gray
}
