// Package mlerr defines the failure kinds of the classification pipeline.
package mlerr

import "errors"

var (
	// ErrDecode reports bytes that are not a decodable image.
	ErrDecode = errors.New("decode error")
	// ErrShape reports a vector whose length does not match what a stage expects.
	ErrShape = errors.New("shape error")
	// ErrModelInvocation reports a failure inside the underlying classifier.
	ErrModelInvocation = errors.New("model invocation error")
)

// Kind returns a short stable name for the failure kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrShape):
		return "shape"
	case errors.Is(err, ErrModelInvocation):
		return "model_invocation"
	default:
		return "internal"
	}
}
