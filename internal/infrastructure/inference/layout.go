package inference

import "pathoflow/internal/domain/entity"

// toNCHW переставляет оси тензора {n,h,w,c} в {n,c,h,w}
func toNCHW(t *entity.Tensor) *entity.Tensor {
	if len(t.Shape) != 4 {
		return t
	}
	n, h, w, c := int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	out := entity.NewTensor(t.Shape[0], t.Shape[3], t.Shape[1], t.Shape[2])
	for b := 0; b < n; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for k := 0; k < c; k++ {
					out.Data[((b*c+k)*h+y)*w+x] = t.Data[((b*h+y)*w+x)*c+k]
				}
			}
		}
	}
	return out
}

// wantsNCHW форма входа сети ждёт каналы во второй оси
func wantsNCHW(modelInput []int64, channels int64) bool {
	return len(modelInput) == 4 && modelInput[1] == channels && modelInput[3] != channels
}
