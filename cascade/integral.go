package cascade

import "image"

// Integral holds the summed area tables of a grayscale image.
// Both tables are (w+1)x(h+1) with a zero first row and column.
type Integral struct {
	w, h   int
	stride int
	sum    []int64
	sqsum  []int64
}

// NewIntegral computes the sum and squared sum tables of gray.
func NewIntegral(gray *image.Gray) *Integral {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	ii := &Integral{
		w:      w,
		h:      h,
		stride: w + 1,
		sum:    make([]int64, (w+1)*(h+1)),
		sqsum:  make([]int64, (w+1)*(h+1)),
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSq int64
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		above := y * ii.stride
		cur := (y + 1) * ii.stride
		for x, px := range row {
			v := int64(px)
			rowSum += v
			rowSq += v * v
			ii.sum[cur+x+1] = ii.sum[above+x+1] + rowSum
			ii.sqsum[cur+x+1] = ii.sqsum[above+x+1] + rowSq
		}
	}
	return ii
}

// Size returns the dimensions of the source image.
func (ii *Integral) Size() image.Point {
	return image.Pt(ii.w, ii.h)
}

// Sum returns the pixel sum of the rectangle with top-left corner (x, y).
func (ii *Integral) Sum(x, y, w, h int) int64 {
	return lookup(ii.sum, ii.stride, x, y, w, h)
}

// SqSum returns the sum of squared pixel values of the rectangle.
func (ii *Integral) SqSum(x, y, w, h int) int64 {
	return lookup(ii.sqsum, ii.stride, x, y, w, h)
}

func lookup(t []int64, stride, x, y, w, h int) int64 {
	top := y * stride
	bottom := (y + h) * stride
	return t[bottom+x+w] - t[top+x+w] - t[bottom+x] + t[top+x]
}
