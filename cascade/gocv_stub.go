//go:build !gocv

package cascade

import "github.com/pkg/errors"

// ErrNoOpenCV is returned by LoadOpenCV in builds without the gocv tag.
var ErrNoOpenCV = errors.New("cascade: built without opencv support (use -tags gocv)")

// LoadOpenCV is unavailable without the gocv build tag.
func LoadOpenCV(string) (Classifier, error) {
	return nil, ErrNoOpenCV
}
