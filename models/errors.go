package models

import (
	"errors"

	"github.com/use-agent/contextpool/pool"
)

// Error codes used in API responses.
const (
	ErrCodeTimeout        = "QUEUE_TIMEOUT"
	ErrCodeNavigation     = "NAVIGATION_FAILED"
	ErrCodeScriptFailure  = "SCRIPT_FAILURE"
	ErrCodeDriverCrash    = "DRIVER_CRASH"
	ErrCodeContextNotFound = "CONTEXT_NOT_FOUND"
	ErrCodeContextInUse   = "CONTEXT_IN_USE"
	ErrCodeContextBusy    = "CONTEXT_NOT_AVAILABLE"
	ErrCodeNotStarted     = "POOL_NOT_STARTED"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// kindToCode maps the core's error Kind to the API's stable error code.
var kindToCode = map[pool.Kind]string{
	pool.ErrPoolNotStarted:    ErrCodeNotStarted,
	pool.ErrContextNotFound:   ErrCodeContextNotFound,
	pool.ErrContextNotAvail:   ErrCodeContextBusy,
	pool.ErrContextInUse:      ErrCodeContextInUse,
	pool.ErrQueueTimeout:      ErrCodeTimeout,
	pool.ErrNavigationFailure: ErrCodeNavigation,
	pool.ErrScriptTimeout:     ErrCodeScriptFailure,
	pool.ErrScriptFailure:     ErrCodeScriptFailure,
	pool.ErrDriverCrash:       ErrCodeDriverCrash,
}

// kindToStatus maps the core's error Kind to an HTTP status class, per
// spec.md §7's propagation column.
var kindToStatus = map[pool.Kind]int{
	pool.ErrPoolNotStarted:    500,
	pool.ErrContextNotFound:   404,
	pool.ErrContextNotAvail:   409,
	pool.ErrContextInUse:      409,
	pool.ErrQueueTimeout:      503,
	pool.ErrNavigationFailure: 502,
	pool.ErrScriptTimeout:     200,
	pool.ErrScriptFailure:     200,
	pool.ErrDriverCrash:       503,
}

// FromPoolError converts a core error into its API-facing detail and the
// HTTP status it should be reported under. Unrecognized errors map to a
// generic internal error at 500.
func FromPoolError(err error) (*ErrorDetail, int) {
	var perr *pool.Error
	if !errors.As(err, &perr) {
		return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}, 500
	}
	code, ok := kindToCode[perr.Kind]
	if !ok {
		code = ErrCodeInternal
	}
	status, ok := kindToStatus[perr.Kind]
	if !ok {
		status = 500
	}
	return &ErrorDetail{Code: code, Message: perr.Message}, status
}
