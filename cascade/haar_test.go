package cascade

import (
	"image"
	"image/color"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drawFace paints a schematic face, dark eyes and mouth on a light
// background, inside the size x size box at origin.
func drawFace(gray *image.Gray, origin image.Point, size int) {
	k := float64(size) / 80
	fill := func(x0, y0, x1, y1 int) {
		for y := origin.Y + int(float64(y0)*k); y < origin.Y+int(float64(y1)*k); y++ {
			for x := origin.X + int(float64(x0)*k); x < origin.X+int(float64(x1)*k); x++ {
				gray.SetGray(x, y, darkFeature)
			}
		}
	}
	fill(12, 20, 32, 32)
	fill(48, 20, 68, 32)
	fill(24, 54, 56, 62)
}

var (
	lightSkin   = color.Gray{Y: 200}
	darkFeature = color.Gray{Y: 30}
)

// schematic loads the test cascade that fires on drawFace.
func schematic(t *testing.T) *Cascade {
	t.Helper()
	c, err := Load(filepath.Join("testdata", "schematic.xml"))
	require.NoError(t, err)
	return c
}

func newCanvas(w, h int, v uint8) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for i := range gray.Pix {
		gray.Pix[i] = v
	}
	return gray
}

func TestHaar_DetectsSyntheticFace(t *testing.T) {
	assert := assert.New(t)

	gray := newCanvas(200, 200, lightSkin.Y)
	drawFace(gray, image.Pt(50, 50), 80)

	faces, err := schematic(t).Detect(gray, DefaultParams())
	require.NoError(t, err)
	require.Len(t, faces, 1)

	face := faces[0]
	box := image.Rect(50, 50, 130, 130)
	assert.True(face.Overlaps(box))
	center := image.Pt((face.Min.X+face.Max.X)/2, (face.Min.Y+face.Max.Y)/2)
	assert.True(center.In(box), "center %v outside %v", center, box)
	assert.True(face.In(gray.Bounds()))
}

func TestHaar_DetectsTwoFaces(t *testing.T) {
	assert := assert.New(t)

	gray := newCanvas(320, 200, lightSkin.Y)
	drawFace(gray, image.Pt(30, 40), 80)
	drawFace(gray, image.Pt(190, 60), 80)

	faces, err := schematic(t).Detect(gray, DefaultParams())
	require.NoError(t, err)
	require.Len(t, faces, 2)

	sort.Slice(faces, func(i, j int) bool { return faces[i].Min.X < faces[j].Min.X })
	assert.True(faces[0].Overlaps(image.Rect(30, 40, 110, 120)))
	assert.True(faces[1].Overlaps(image.Rect(190, 60, 270, 140)))
}

func TestHaar_NoFaceOnFlatOrGradientImages(t *testing.T) {
	assert := assert.New(t)

	blank := newCanvas(100, 100, 128)
	faces, err := schematic(t).Detect(blank, DefaultParams())
	assert.NoError(err)
	assert.Empty(faces)

	gradient := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			gradient.Pix[y*gradient.Stride+x] = uint8(255 * x / 99)
		}
	}
	faces, err = schematic(t).Detect(gradient, DefaultParams())
	assert.NoError(err)
	assert.Empty(faces)
}

func TestHaar_MinSizeLimitsSearch(t *testing.T) {
	gray := newCanvas(200, 200, lightSkin.Y)
	drawFace(gray, image.Pt(50, 50), 80)

	p := DefaultParams()
	p.MinSize = image.Pt(100, 100)
	faces, err := schematic(t).Detect(gray, p)
	assert.NoError(t, err)
	assert.Empty(t, faces)
}

func TestHaar_ZeroNeighborsReturnsRawHits(t *testing.T) {
	gray := newCanvas(200, 200, lightSkin.Y)
	drawFace(gray, image.Pt(50, 50), 80)

	p := DefaultParams()
	p.MinNeighbors = 0
	hits, err := schematic(t).Detect(gray, p)
	assert.NoError(t, err)
	assert.Greater(t, len(hits), p.MinNeighbors+5)
	for _, h := range hits {
		assert.True(t, h.In(gray.Bounds()))
	}
}

func TestHaar_InvalidParams(t *testing.T) {
	gray := newCanvas(50, 50, 0)

	p := DefaultParams()
	p.ScaleFactor = 1
	_, err := schematic(t).Detect(gray, p)
	assert.ErrorIs(t, err, ErrInvalidParams)

	p = DefaultParams()
	p.MinNeighbors = -1
	_, err = schematic(t).Detect(gray, p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestHaar_ImageOffset(t *testing.T) {
	gray := newCanvas(300, 300, lightSkin.Y)
	drawFace(gray, image.Pt(150, 150), 80)
	sub := gray.SubImage(image.Rect(100, 100, 300, 300)).(*image.Gray)

	faces, err := schematic(t).Detect(sub, DefaultParams())
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.True(t, faces[0].Overlaps(image.Rect(150, 150, 230, 230)))
}
