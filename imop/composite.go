// Package imop implements Porter-Duff composition on NRGBA images. The
// image/draw core package offers source-over on premultiplied colors only and
// has no destination-in, which is what applying an alpha mask needs.
//
// The annotator uses it to lay the rendered boxes and labels over the
// source image, and the luma key background remover to apply the
// foreground alpha mask.
package imop

import (
	"image"
	"image/color"
	"math"

	"github.com/esimov/visage/utils"
)

// The supported composition operations.
const (
	SrcOver = "src_over"
	DstIn   = "dst_in"
)

// Bitmap holds the result of a composition.
type Bitmap struct {
	Img *image.NRGBA
}

// Composite holds the currently active composition operation.
type Composite struct {
	current string
	ops     []string
}

// NewBitmap allocates a transparent bitmap.
func NewBitmap(rect image.Rectangle) *Bitmap {
	return &Bitmap{
		Img: image.NewNRGBA(rect),
	}
}

// InitOp returns a Composite with SrcOver active.
func InitOp() *Composite {
	return &Composite{
		current: SrcOver,
		ops:     []string{SrcOver, DstIn},
	}
}

// Set activates one of the supported operations. Unknown names are ignored.
func (op *Composite) Set(cop string) {
	if utils.Contains(op.ops, cop) {
		op.current = cop
	}
}

// Get returns the active operation.
func (op *Composite) Get() string {
	return op.current
}

// Draw composes src (the source) with dst (the backdrop) and writes the
// result into bitmap over the intersection of the three bounds. The bitmap
// may share its image with dst, in which case dst is updated in place.
// A nil bitmap receives a new image.
func (op *Composite) Draw(bitmap *Bitmap, src, dst *image.NRGBA) *Bitmap {
	if bitmap == nil {
		bitmap = NewBitmap(dst.Bounds())
	}
	out := bitmap.Img
	r := src.Bounds().Intersect(dst.Bounds()).Intersect(out.Bounds())

	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := src.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		oi := out.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			c := op.compose(
				color.NRGBA{R: src.Pix[si], G: src.Pix[si+1], B: src.Pix[si+2], A: src.Pix[si+3]},
				color.NRGBA{R: dst.Pix[di], G: dst.Pix[di+1], B: dst.Pix[di+2], A: dst.Pix[di+3]},
			)
			out.Pix[oi], out.Pix[oi+1], out.Pix[oi+2], out.Pix[oi+3] = c.R, c.G, c.B, c.A
			si += 4
			di += 4
			oi += 4
		}
	}
	return bitmap
}

// compose applies the active operation to a single pair of pixels.
func (op *Composite) compose(s, b color.NRGBA) color.NRGBA {
	rsn, gsn, bsn, asn := norm(s.R), norm(s.G), norm(s.B), norm(s.A)
	rbn, gbn, bbn, abn := norm(b.R), norm(b.G), norm(b.B), norm(b.A)

	// fs and fb are the Porter-Duff fractions of source and backdrop.
	var fs, fb float64
	switch op.current {
	case SrcOver:
		fs, fb = 1, 1-asn
	case DstIn:
		fs, fb = 0, asn
	}

	an := asn*fs + abn*fb
	if an <= 0 {
		return color.NRGBA{}
	}
	// the channels are premultiplied here and divided back by the alpha
	rn := (asn*fs*rsn + abn*fb*rbn) / an
	gn := (asn*fs*gsn + abn*fb*gbn) / an
	bn := (asn*fs*bsn + abn*fb*bbn) / an

	return color.NRGBA{R: denorm(rn), G: denorm(gn), B: denorm(bn), A: denorm(an)}
}

func norm(v uint8) float64 {
	return float64(v) / 255
}

func denorm(v float64) uint8 {
	return uint8(math.Round(utils.Clamp(v, 0, 1) * 255))
}
