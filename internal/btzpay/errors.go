package btzpay

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Client matches exactly one of these
// through errors.Is.
var (
	ErrUnavailable = errors.New("btzpay unavailable")
	ErrRejected    = errors.New("btzpay rejected request")
	ErrProtocol    = errors.New("btzpay protocol error")
)

// Error describes a failed gateway call.
type Error struct {
	Op         string // create, status, cancel
	Kind       error  // one of ErrUnavailable, ErrRejected, ErrProtocol
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // gateway message or a truncated response body
	Err        error  // underlying transport or decode error
	timeout    bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("btzpay %s: %v (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("btzpay %s: %v: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind as well as the wrapped error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Timeout reports whether the round trip ran out of time. For create calls the
// gateway may still have created the transaction.
func (e *Error) Timeout() bool {
	return e.timeout
}

// IsTimeout reports whether err is a gateway error caused by a timeout.
func IsTimeout(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Timeout()
}

// TransportError builds the error for a round trip that got no response.
func TransportError(op string, err error) *Error {
	return &Error{Op: op, Kind: ErrUnavailable, Err: err, timeout: isTimeout(err)}
}
