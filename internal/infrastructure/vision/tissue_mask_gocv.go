//go:build gocv
// +build gocv

package vision

import (
	"image"

	"gocv.io/x/gocv"
)

func tissueMask(img image.Image, threshold int) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil || mat.Empty() {
		return out
	}
	defer mat.Close()

	// расстояние до белого: 255 - c по каналам
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.BitwiseNot(mat, &inv)

	f := gocv.NewMat()
	defer f.Close()
	inv.ConvertTo(&f, gocv.MatTypeCV32FC3)

	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(f, f, &sq)

	channels := gocv.Split(sq)
	for i := range channels {
		defer channels[i].Close()
	}
	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(channels[0], channels[1], &sum)
	gocv.Add(sum, channels[2], &sum)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(sum, &bin, float32(threshold*threshold), 1, gocv.ThresholdBinary)

	mask := gocv.NewMat()
	defer mask.Close()
	bin.ConvertTo(&mask, gocv.MatTypeCV8U)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(2*closeRadius+1, 2*closeRadius+1))
	defer kernel.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, kernel)

	copy(out.Pix, closed.ToBytes())
	return out
}
