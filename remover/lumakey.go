package remover

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/esimov/visage"
	"github.com/esimov/visage/imop"
	"github.com/esimov/visage/utils"
)

// LumaKey is a built-in remover for subjects shot against a uniform
// backdrop. The backdrop color is the mean of the image border; pixels close
// to it become transparent, with a soft ramp and a blurred mask edge.
type LumaKey struct {
	// Tolerance is the RGB distance under which a pixel is background.
	Tolerance float64
	// Softness is the width of the ramp from background to foreground.
	Softness float64
	// BlurRadius smooths the mask edges. Zero disables blurring.
	BlurRadius int
	// Border is the width in pixels of the frame sampled for the backdrop.
	Border int
	// Fill, when set, replaces the background instead of leaving it transparent.
	Fill *color.NRGBA
}

// NewLumaKey returns a LumaKey with the default settings.
func NewLumaKey() *LumaKey {
	return &LumaKey{
		Tolerance:  40,
		Softness:   30,
		BlurRadius: 2,
		Border:     4,
	}
}

var (
	_ visage.Remover         = (*LumaKey)(nil)
	_ visage.ConcurrencySafe = (*LumaKey)(nil)
)

type lumaSession struct{}

func (lumaSession) Close() error { return nil }

// Name identifies the remover in logs.
func (l *LumaKey) Name() string { return "lumakey" }

// ConcurrencySafe reports true: a call only reads the settings.
func (l *LumaKey) ConcurrencySafe() bool { return true }

// NewSession always succeeds; the remover needs no model.
func (l *LumaKey) NewSession(context.Context) (visage.Session, error) {
	return lumaSession{}, nil
}

// Remove keys out the backdrop of img.
func (l *LumaKey) Remove(ctx context.Context, img image.Image, _ visage.Session) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := imaging.Clone(img)
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", visage.ErrRemovalFailed)
	}

	backdrop := l.backdrop(src)
	alpha := make([]uint8, b.Dx()*b.Dy())
	soft := math.Max(l.Softness, 1)
	for y := 0; y < b.Dy(); y++ {
		i := src.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			d := distance(src.Pix[i:i+3], backdrop)
			a := utils.Clamp((d-l.Tolerance)/soft, 0, 1)
			alpha[y*b.Dx()+x] = uint8(math.Round(a * 255))
			i += 4
		}
	}
	if l.BlurRadius > 0 {
		alpha = stackBlur(alpha, b.Dx(), b.Dy(), l.BlurRadius)
	}

	mask := image.NewNRGBA(b)
	for i, a := range alpha {
		mask.Pix[i*4+3] = a
	}

	op := imop.InitOp()
	op.Set(imop.DstIn)
	out := op.Draw(nil, mask, src)
	if l.Fill == nil {
		return out.Img, nil
	}

	fill := image.NewNRGBA(b)
	for i := 0; i < len(fill.Pix); i += 4 {
		fill.Pix[i], fill.Pix[i+1], fill.Pix[i+2], fill.Pix[i+3] = l.Fill.R, l.Fill.G, l.Fill.B, 0xff
	}
	op.Set(imop.SrcOver)
	return op.Draw(nil, out.Img, fill).Img, nil
}

// backdrop returns the mean color of the image frame.
func (l *LumaKey) backdrop(src *image.NRGBA) [3]float64 {
	b := src.Bounds()
	border := utils.Clamp(l.Border, 1, utils.Min(b.Dx(), b.Dy()))
	inner := image.Rect(border, border, b.Dx()-border, b.Dy()-border)

	var sum [3]float64
	var n float64
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if image.Pt(x, y).In(inner) {
				continue
			}
			i := src.PixOffset(x, y)
			sum[0] += float64(src.Pix[i])
			sum[1] += float64(src.Pix[i+1])
			sum[2] += float64(src.Pix[i+2])
			n++
		}
	}
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

func distance(px []uint8, c [3]float64) float64 {
	dr := float64(px[0]) - c[0]
	dg := float64(px[1]) - c[1]
	db := float64(px[2]) - c[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
