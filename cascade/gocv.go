//go:build gocv

package cascade

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCV delegates detection to the OpenCV cascade classifier through gocv.
type OpenCV struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	window     image.Point
}

var _ Classifier = (*OpenCV)(nil)

// LoadOpenCV loads an OpenCV cascade file. The returned classifier holds
// native memory and implements io.Closer.
func LoadOpenCV(path string) (Classifier, error) {
	// The training window is not exposed by gocv, read it from the file.
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, errors.Errorf("cascade: opencv cannot load %s", path)
	}
	return &OpenCV{classifier: classifier, window: c.WindowSize()}, nil
}

// WindowSize returns the training window of the loaded cascade.
func (o *OpenCV) WindowSize() image.Point {
	return o.window
}

// Detect runs CascadeClassifier.detectMultiScale with the given parameters.
func (o *OpenCV) Detect(gray *image.Gray, p Params) ([]image.Rectangle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, errors.Wrap(err, "cascade: cannot convert image to mat")
	}
	defer mat.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	rects := o.classifier.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0, p.MinSize, p.MaxSize)

	origin := gray.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(origin)
	}
	return rects, nil
}

// Close releases the native classifier.
func (o *OpenCV) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.classifier.Close()
}
