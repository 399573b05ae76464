package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSubscription = InvalidInputf("invalid subscription data")
	ErrNotFound            = errors.New("not found")
	ErrStorage             = errors.New("storage failure")
	ErrNoSubscriptions     = errors.New("no subscriptions")
)

// InvalidInputf returns an error that matches ErrInvalidInput with errors.Is
// and reads as just the formatted message.
func InvalidInputf(format string, args ...any) error {
	return &kindError{msg: fmt.Sprintf(format, args...), kind: ErrInvalidInput}
}

// NotFoundf is InvalidInputf for ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &kindError{msg: fmt.Sprintf(format, args...), kind: ErrNotFound}
}

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// StorageError marks err as a storage failure while keeping its message.
func StorageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &storageError{cause: errors.Wrap(err, msg)}
}

type storageError struct {
	cause error
}

func (e *storageError) Error() string { return e.cause.Error() }

func (e *storageError) Unwrap() []error { return []error{e.cause, ErrStorage} }
