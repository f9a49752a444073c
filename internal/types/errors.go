package types

import "errors"

var (
	// ErrCapture is a transient camera read failure.
	ErrCapture = errors.New("camera read failed")
	// ErrNoFaceFound means a recognition pass returned no faces.
	ErrNoFaceFound = errors.New("no face found")
	// ErrEmptyName means the user cancelled enrollment with an empty name.
	ErrEmptyName = errors.New("name cannot be empty")
	// ErrNoTrackerAvailable is fatal at startup: no tracking implementation is compiled in.
	ErrNoTrackerAvailable = errors.New("no compatible tracker (KCF/CSRT/MIL) available in this build")
)

// EncodingError reports a failed recognition pass.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "face encoding failed: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error { return e.Err }
