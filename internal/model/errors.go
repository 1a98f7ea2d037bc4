package model

import "errors"

var (
	// ErrCaptureMissing means the observation point produced no activation
	// or no gradient during a trace.
	ErrCaptureMissing = errors.New("observation point capture missing")

	// ErrShapeMismatch means a tensor does not have the rank or size the
	// network configuration expects.
	ErrShapeMismatch = errors.New("tensor shape mismatch")

	// ErrClassIndex means a requested class index is outside the label set.
	ErrClassIndex = errors.New("class index out of range")

	// ErrInvalidImage means the caller handed over an image with no pixels.
	ErrInvalidImage = errors.New("invalid image")
)

// IsConfigError reports whether err comes from a mismatch between the
// network and its configuration rather than from the request.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrCaptureMissing) || errors.Is(err, ErrShapeMismatch)
}
