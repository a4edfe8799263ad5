package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned before any network call when the USD
	// amount or commission rate is out of range.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrInvalidAddress is returned when a recipient is not a well-formed
	// 20-byte hex address.
	ErrInvalidAddress = errors.New("invalid recipient address")

	// ErrRetriesExhausted is returned when the confirmation poller runs out
	// of its retry budget without a verified payment.
	ErrRetriesExhausted = errors.New("verification retries exhausted")
)

// Kind classifies a payment failure so callers can branch on it instead of
// parsing message strings.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindVerification  Kind = "verification"
	KindConfiguration Kind = "configuration"
	KindSigning       Kind = "signing"
)

// Error tags an underlying failure with its Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or an empty Kind when err carries none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func wrapErr(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
