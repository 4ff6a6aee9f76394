// Package cascade implements multi-scale sliding window face detection on
// grayscale images. It ships an adapter for the pigo binary cascades with
// the pretrained facefinder cascade embedded, a pure Go evaluator for
// OpenCV Haar cascade files and, behind the gocv build tag, the OpenCV
// cascade classifier itself.
package cascade

import (
	"errors"
	"fmt"
	"image"
)

// GroupEps is the relative tolerance used by the neighbour vote.
const GroupEps = 0.2

// ErrInvalidParams is returned when the detection parameters cannot drive a search.
var ErrInvalidParams = errors.New("cascade: invalid detection parameters")

// Params controls the sliding window search.
type Params struct {
	// ScaleFactor is the ratio between two successive window sizes.
	ScaleFactor float64
	// MinNeighbors is the number of overlapping raw hits a candidate needs
	// beyond its own before it is reported. Zero disables grouping.
	MinNeighbors int
	// MinSize is the smallest window searched.
	MinSize image.Point
	// MaxSize is the largest window searched. The zero value means no limit.
	MaxSize image.Point
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      image.Pt(30, 30),
	}
}

// Validate reports whether the parameters are usable.
func (p Params) Validate() error {
	switch {
	case p.ScaleFactor <= 1:
		return fmt.Errorf("%w: scale factor must be greater than 1", ErrInvalidParams)
	case p.MinNeighbors < 0:
		return fmt.Errorf("%w: min neighbors must not be negative", ErrInvalidParams)
	case p.MinSize.X < 0 || p.MinSize.Y < 0 || p.MaxSize.X < 0 || p.MaxSize.Y < 0:
		return fmt.Errorf("%w: window sizes must not be negative", ErrInvalidParams)
	}
	return nil
}

// accepts reports whether a window of the given size lies within the configured range.
func (p Params) accepts(w, h int) bool {
	if w < p.MinSize.X || h < p.MinSize.Y {
		return false
	}
	if p.MaxSize.X > 0 && w > p.MaxSize.X {
		return false
	}
	if p.MaxSize.Y > 0 && h > p.MaxSize.Y {
		return false
	}
	return true
}

// Classifier is a face detection engine.
type Classifier interface {
	// Detect returns the accepted face windows in image coordinates.
	Detect(gray *image.Gray, p Params) ([]image.Rectangle, error)
	// WindowSize is the smallest window the engine can evaluate.
	WindowSize() image.Point
}
