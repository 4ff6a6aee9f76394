package visage

import (
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	skin    = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	feature = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
)

// samplePath is a 320x400 portrait photograph holding a single face.
var samplePath = filepath.Join("testdata", "sample.jpg")

// portrait decodes the sample photograph.
func portrait(t testing.TB) *image.NRGBA {
	t.Helper()
	img, err := DecodeFile(samplePath)
	require.NoError(t, err)
	return img
}

// twoPortraits returns a 640x500 light image holding two copies of the
// sample photograph, the right one 100px lower than the left one.
func twoPortraits(t testing.TB) *image.NRGBA {
	t.Helper()
	src := portrait(t)
	dst := image.NewNRGBA(image.Rect(0, 0, 640, 500))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(skin), image.Point{}, draw.Src)
	for _, o := range []image.Point{image.Pt(0, 0), image.Pt(320, 100)} {
		draw.Draw(dst, src.Bounds().Add(o), src, image.Point{}, draw.Src)
	}
	return dst
}

// faceImage returns a w x h light image with a dark eyes and mouth pattern
// at every origin, used where exact pixel values matter.
func faceImage(w, h int, origins ...image.Point) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = skin.R, skin.G, skin.B, skin.A
	}
	fill := func(o image.Point, x0, y0, x1, y1 int) {
		for y := o.Y + y0; y < o.Y+y1; y++ {
			for x := o.X + x0; x < o.X+x1; x++ {
				img.SetNRGBA(x, y, feature)
			}
		}
	}
	for _, o := range origins {
		fill(o, 12, 20, 32, 32)
		fill(o, 48, 20, 68, 32)
		fill(o, 24, 54, 56, 62)
	}
	return img
}
