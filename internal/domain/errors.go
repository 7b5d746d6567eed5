package domain

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes. Wrap them with NewError so callers can match with errors.Is.
var (
	ErrAuth     = errors.New("auth error")
	ErrDevice   = errors.New("device error")
	ErrNetwork  = errors.New("network error")
	ErrProtocol = errors.New("protocol error")
)

type Error struct {
	Op   string
	Kind error
	Err  error
}

func NewError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// Kind reports the failure class of err. Unclassified errors count as network failures,
// cancellation is reported as nil.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrProtocol):
		return ErrProtocol
	case errors.Is(err, ErrDevice):
		return ErrDevice
	case errors.Is(err, ErrNetwork):
		return ErrNetwork
	case errors.Is(err, context.Canceled):
		return nil
	}
	return ErrNetwork
}
