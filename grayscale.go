package visage

import "image"

// Luminance weights, in thousandths, of the red, green and blue channels.
const (
	lumR = 299
	lumG = 587
	lumB = 114
)

// luminance returns 0.299R + 0.587G + 0.114B rounded to the nearest integer.
func luminance(r, g, b uint8) uint8 {
	return uint8((lumR*uint32(r) + lumG*uint32(g) + lumB*uint32(b) + 500) / 1000)
}

// Grayscale converts an image to a single channel luminance image with the
// min-point at (0, 0). The weighting is fixed so detection is reproducible.
// Alpha is ignored.
func Grayscale(img image.Image) *image.Gray {
	src := imgToNRGBA(img)
	b := src.Bounds()
	dst := image.NewGray(b)

	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(0, y)
		di := dst.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			dst.Pix[di] = luminance(src.Pix[si], src.Pix[si+1], src.Pix[si+2])
			si += 4
			di++
		}
	}
	return dst
}
