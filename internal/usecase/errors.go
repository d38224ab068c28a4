package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorInvalidCommand     ErrorCode = "INVALID_COMMAND"
	ErrorTurnInProgress     ErrorCode = "TURN_IN_PROGRESS"
	ErrorBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

// ErrorNarrative is shown in the transcript area when a turn fails because the
// text backend could not be reached.
const ErrorNarrative = "The ink runs dry. The library falls silent for a moment... try again."

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or ErrorInternal when err is not a
// usecase error.
func CodeOf(err error) ErrorCode {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// backendError classifies a failed upstream call as BACKEND_UNAVAILABLE,
// keeping rate limiting distinguishable in the reason.
func backendError(kind string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorBackendUnavailable, kind+"_rate_limited", err)
	}
	return newError(ErrorBackendUnavailable, kind+"_error", err)
}
