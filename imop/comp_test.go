package imop

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComp_Basic(t *testing.T) {
	assert := assert.New(t)

	op := InitOp()
	assert.Equal(SrcOver, op.Get())

	op.Set(DstIn)
	assert.Equal(DstIn, op.Get())

	op.Set("unsupported_composite_operation")
	assert.Equal(DstIn, op.Get())

	op.Set("xor")
	assert.Equal(DstIn, op.Get())
}

func TestComp_Ops(t *testing.T) {
	transparent := color.NRGBA{R: 0, G: 0, B: 0, A: 0}
	cyan := color.NRGBA{R: 33, G: 150, B: 243, A: 255}
	magenta := color.NRGBA{R: 233, G: 30, B: 99, A: 255}

	rect := image.Rect(0, 0, 10, 10)
	source := image.NewNRGBA(rect)
	backdrop := image.NewNRGBA(rect)
	draw.Draw(source, image.Rect(0, 4, 6, 10), &image.Uniform{cyan}, image.Point{}, draw.Src)
	draw.Draw(backdrop, image.Rect(4, 0, 10, 6), &image.Uniform{magenta}, image.Point{}, draw.Src)

	// Three representative pixels: only the backdrop is painted at the top
	// right, only the source at the bottom left and both at the center.
	testCases := []struct {
		op                          string
		topRight, bottomLeft, center color.NRGBA
	}{
		{SrcOver, magenta, cyan, cyan},
		{DstIn, transparent, transparent, magenta},
	}

	for _, tc := range testCases {
		t.Run(tc.op, func(t *testing.T) {
			assert := assert.New(t)

			op := InitOp()
			op.Set(tc.op)
			bmp := op.Draw(nil, source, backdrop)

			assert.EqualValues(tc.topRight, bmp.Img.At(9, 0))
			assert.EqualValues(tc.bottomLeft, bmp.Img.At(0, 9))
			assert.EqualValues(tc.center, bmp.Img.At(5, 5))
		})
	}
}

func TestComp_SrcOverInPlace(t *testing.T) {
	assert := assert.New(t)

	rect := image.Rect(0, 0, 4, 4)
	backdrop := image.NewNRGBA(rect)
	draw.Draw(backdrop, rect, &image.Uniform{color.NRGBA{R: 0, G: 0, B: 255, A: 255}}, image.Point{}, draw.Src)
	before := append([]uint8(nil), backdrop.Pix...)

	source := image.NewNRGBA(rect)
	source.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 128})

	op := InitOp()
	op.Draw(&Bitmap{Img: backdrop}, source, backdrop)

	assert.EqualValues(color.NRGBA{R: 128, G: 0, B: 127, A: 255}, backdrop.At(1, 1))
	// pixels under a fully transparent source are left untouched
	for i := range before {
		if i/4 == 5 {
			continue
		}
		assert.Equal(before[i], backdrop.Pix[i])
	}
}
