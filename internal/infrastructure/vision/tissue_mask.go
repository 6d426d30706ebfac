//go:build !gocv
// +build !gocv

package vision

import (
	"image"
	"image/color"
)

func tissueMask(img image.Image, threshold int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	limit := threshold * threshold

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			dr, dg, db := 255-int(c.R), 255-int(c.G), 255-int(c.B)
			if dr*dr+dg*dg+db*db > limit {
				mask.Pix[y*mask.Stride+x] = 1
			}
		}
	}
	return erode(dilate(mask))
}

// ellipse смещения эллиптического элемента 5×5, как MorphEllipse в OpenCV
func ellipse() []image.Point {
	var pts []image.Point
	for dy := -closeRadius; dy <= closeRadius; dy++ {
		for dx := -closeRadius; dx <= closeRadius; dx++ {
			if (dy == -closeRadius || dy == closeRadius) && dx != 0 {
				continue
			}
			pts = append(pts, image.Pt(dx, dy))
		}
	}
	return pts
}

func dilate(m *image.Gray) *image.Gray {
	return morph(m, func(hits, inside int) bool { return hits > 0 })
}

// erode за пределами изображения считает пиксели тканью
func erode(m *image.Gray) *image.Gray {
	return morph(m, func(hits, inside int) bool { return hits == inside })
}

func morph(m *image.Gray, keep func(hits, inside int) bool) *image.Gray {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	out := image.NewGray(m.Rect)
	kernel := ellipse()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hits, inside := 0, 0
			for _, p := range kernel {
				nx, ny := x+p.X, y+p.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				inside++
				if m.Pix[ny*m.Stride+nx] != 0 {
					hits++
				}
			}
			if keep(hits, inside) {
				out.Pix[y*out.Stride+x] = 1
			}
		}
	}
	return out
}
