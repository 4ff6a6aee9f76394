package cascade

import (
	_ "embed"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"github.com/pkg/errors"
)

// pigoWindow is the smallest square window the pigo search starts from.
const pigoWindow = 20

// facefinder is the frontal face cascade trained by the pigo authors.
//
//go:embed data/facefinder
var facefinder []byte

// Pigo runs a pigo pixel intensity comparison cascade such as facefinder.
type Pigo struct {
	classifier *pigo.Pigo
	// ShiftFactor is the window step relative to the window size.
	ShiftFactor float64
	// Angle is the in-plane rotation searched, as a fraction of a full turn.
	Angle float64
}

var _ Classifier = (*Pigo)(nil)

// NewPigo unpacks a pigo binary cascade.
func NewPigo(data []byte) (*Pigo, error) {
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "cascade: cannot unpack pigo cascade")
	}
	return &Pigo{classifier: classifier, ShiftFactor: 0.1}, nil
}

// Default returns the embedded facefinder cascade.
func Default() *Pigo {
	p, err := NewPigo(facefinder)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPigo reads and unpacks a pigo binary cascade from path.
func LoadPigo(path string) (*Pigo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cascade: cannot read pigo cascade")
	}
	return NewPigo(data)
}

// WindowSize returns the smallest window pigo searches.
func (p *Pigo) WindowSize() image.Point {
	return image.Pt(pigoWindow, pigoWindow)
}

// Detect runs the pigo cascade and feeds every positive window to the
// neighbour vote, so MinNeighbors keeps the same meaning for both engines.
func (p *Pigo) Detect(gray *image.Gray, params Params) ([]image.Rectangle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	b := gray.Bounds()
	cols, rows := b.Dx(), b.Dy()

	pixels := gray.Pix
	if gray.Stride != cols || len(pixels) != cols*rows {
		pixels = make([]uint8, 0, cols*rows)
		for y := 0; y < rows; y++ {
			pixels = append(pixels, gray.Pix[y*gray.Stride:y*gray.Stride+cols]...)
		}
	}

	maxSize := min(cols, rows)
	if params.MaxSize.X > 0 {
		maxSize = min(maxSize, params.MaxSize.X)
	}
	if params.MaxSize.Y > 0 {
		maxSize = min(maxSize, params.MaxSize.Y)
	}
	cp := pigo.CascadeParams{
		MinSize:     max(pigoWindow, params.MinSize.X, params.MinSize.Y),
		MaxSize:     maxSize,
		ShiftFactor: p.ShiftFactor,
		ScaleFactor: params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	if cp.MinSize > cp.MaxSize {
		return nil, nil
	}

	var hits []image.Rectangle
	for _, det := range p.classifier.RunCascade(cp, p.Angle) {
		if det.Q <= 0 {
			continue
		}
		half := det.Scale / 2
		r := image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
		hits = append(hits, r.Intersect(image.Rect(0, 0, cols, rows)).Add(b.Min))
	}
	return GroupRectangles(hits, params.MinNeighbors, GroupEps), nil
}
