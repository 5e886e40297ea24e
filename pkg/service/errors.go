package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// The onboarding worker distinguishes five error classes. NotFound and
// Conflict bubble to the caller and are never retried. UnexpectedCondition
// indicates a violated invariant. A recoverable ServiceError marks a
// transient upstream failure, everything else raised by a step is treated
// as non-recoverable. SystemError propagates out of the scheduler and
// terminates the worker.

type NotFoundError struct{ msg string }

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(format string, args ...interface{}) error {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

type ConflictError struct{ msg string }

func (e *ConflictError) Error() string { return e.msg }

func NewConflict(format string, args ...interface{}) error {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}

type UnexpectedConditionError struct{ msg string }

func (e *UnexpectedConditionError) Error() string { return e.msg }

func NewUnexpectedCondition(format string, args ...interface{}) error {
	return &UnexpectedConditionError{msg: fmt.Sprintf(format, args...)}
}

// ServiceError reports a failure of an external dependency. Recoverable
// marks conditions worth retrying (timeouts, upstream 5xx); the step is
// requeued instead of failing the checklist entry.
type ServiceError struct {
	msg         string
	recoverable bool
	cause       error
}

func (e *ServiceError) Error() string { return e.msg }
func (e *ServiceError) Unwrap() error { return e.cause }

func NewServiceError(cause error, format string, args ...interface{}) error {
	return &ServiceError{msg: fmt.Sprintf(format, args...), cause: cause}
}

// Recoverable wraps cause as a transient service failure.
func Recoverable(cause error, format string, args ...interface{}) error {
	return &ServiceError{msg: fmt.Sprintf(format, args...), recoverable: true, cause: cause}
}

// SystemError represents unrecoverable process state. The scheduler does
// not isolate it; it is returned to the host loop which exits non-zero so
// a supervisor restarts the worker.
type SystemError struct {
	msg   string
	cause error
}

func (e *SystemError) Error() string { return e.msg }
func (e *SystemError) Unwrap() error { return e.cause }

func NewSystemError(cause error, format string, args ...interface{}) error {
	return &SystemError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsUnexpectedCondition(err error) bool {
	var e *UnexpectedConditionError
	return errors.As(err, &e)
}

// IsRecoverable reports whether err is a transient service failure that
// warrants requeueing the step.
func IsRecoverable(err error) bool {
	var e *ServiceError
	return errors.As(err, &e) && e.recoverable
}

// IsFatal reports whether err must abort the worker process.
func IsFatal(err error) bool {
	var e *SystemError
	return errors.As(err, &e)
}
