package visage

import (
	"fmt"
	"image"

	"github.com/esimov/visage/cascade"
)

// Detector finds the faces of an image with a cascade classifier.
// It holds no per-call state and is safe for concurrent use.
type Detector struct {
	engine cascade.Classifier
	params cascade.Params
}

// NewDetector returns a Detector running engine with the given parameters.
// A nil engine selects the embedded pigo facefinder cascade.
func NewDetector(engine cascade.Classifier, params cascade.Params) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		engine = cascade.Default()
	}
	return &Detector{engine: engine, params: params}, nil
}

// Params returns the detection parameters.
func (d *Detector) Params() cascade.Params {
	return d.params
}

// Validate checks that img can be searched. Images with no pixels, or
// smaller than the classifier window, fail with ErrInvalidImage.
func (d *Detector) Validate(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: no image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: image has zero width or height", ErrInvalidImage)
	}
	if win := d.engine.WindowSize(); b.Dx() < win.X || b.Dy() < win.Y {
		return fmt.Errorf("%w: %dx%d image is smaller than the %dx%d detection window",
			ErrInvalidImage, b.Dx(), b.Dy(), win.X, win.Y)
	}
	return nil
}

// Detect returns the face regions found in img, ordered top to bottom and
// left to right. An image without faces yields an empty slice.
func (d *Detector) Detect(img image.Image) ([]FaceRegion, error) {
	if err := d.Validate(img); err != nil {
		return nil, err
	}

	gray := Grayscale(img)
	rects, err := d.engine.Detect(gray, d.params)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	return regionsFromRects(rects, gray.Bounds()), nil
}
