package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedPayload reports binary segments that disagree with the
	// lengths declared in the metadata, or a missing delimiter.
	ErrTruncatedPayload = errors.New("truncated payload")
	// ErrInvalidMetadata reports a metadata block that cannot be parsed or
	// is inconsistent.
	ErrInvalidMetadata = errors.New("invalid metadata")
)

// DecodeError is returned for malformed wire data. It is fatal for that
// message; no partially populated frame is ever returned alongside it.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode capture: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(kind error, format string, args ...interface{}) error {
	return &DecodeError{Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}

// EncodeError is returned when a frame cannot be serialized.
type EncodeError struct {
	CaptureID string
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode capture %q: %v", e.CaptureID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
