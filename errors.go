package visage

import "errors"

var (
	// ErrInvalidImage is returned when the input cannot be decoded or has no
	// pixels to search. It is the only error that fails a pipeline run.
	ErrInvalidImage = errors.New("invalid image")

	// ErrEstimationUnavailable is returned by an AttributeEstimator which
	// cannot process a face region.
	ErrEstimationUnavailable = errors.New("attribute estimation unavailable")

	// ErrRemoverUnavailable is returned when the background removal
	// capability is not installed or cannot be reached.
	ErrRemoverUnavailable = errors.New("background remover unavailable")

	// ErrRemovalFailed is returned when a single background removal call fails.
	ErrRemovalFailed = errors.New("background removal failed")
)
