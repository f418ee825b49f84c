package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrResolutionFailed reports that the destination host could not be
	// resolved to an address.
	ErrResolutionFailed = errors.New("resolution failed")
	// ErrConnectFailed reports a refused or timed-out connection.
	ErrConnectFailed = errors.New("connect failed")
	// ErrSendFailed reports a write error after the connection was ready.
	ErrSendFailed = errors.New("send failed")
	// ErrPayloadTooLarge reports a datagram payload above the size limit.
	// It comes wrapped in an ErrSendFailed *Error and is never retryable.
	ErrPayloadTooLarge = errors.New("payload too large for a datagram")
	// ErrNoReply is delivered on a ReplyFuture when the peer did not answer
	// within the reply timeout.
	ErrNoReply = errors.New("no reply before timeout")
)

// Error is a terminal failure of one send attempt. Kind is one of
// ErrResolutionFailed, ErrConnectFailed or ErrSendFailed.
type Error struct {
	Kind error
	Dest Destination
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Dest, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Dest, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is a transport failure a caller may retry.
// A payload that can never fit is not.
func Retryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && !errors.Is(err, ErrPayloadTooLarge)
}
