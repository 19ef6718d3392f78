// Package errors defines the engine's typed error taxonomy. Every failure a
// public operation can surface maps onto exactly one code so callers (HTTP
// layer, relayers, bots) can branch without string matching. Retry policy is
// deliberately left to the caller; nothing here is retried internally.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidIntent       Code = "INVALID_INTENT"
	CodeExecutionFailed     Code = "EXECUTION_FAILED"
	CodeInvalidBid          Code = "INVALID_BID"
	CodeAuctionState        Code = "AUCTION_STATE"
	CodeReputationTooLow    Code = "REPUTATION_TOO_LOW"
	CodeManipulationDetect  Code = "MANIPULATION_DETECTED"
	CodeFlashloanFailed     Code = "FLASHLOAN_FAILED"
	CodeComplianceViolation Code = "COMPLIANCE_VIOLATION"
	CodeNotFound            Code = "NOT_FOUND"
)

// Error is a typed engine error. Two Errors are errors.Is-equal when their
// codes match, so sentinels below work as classification targets even for
// wrapped instances.
type Error struct {
	Code       Code
	HTTPStatus int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for classification with errors.Is.
var (
	ErrUnauthorized        = &Error{Code: CodeUnauthorized, HTTPStatus: http.StatusForbidden, Message: "unauthorized"}
	ErrInvalidIntent       = &Error{Code: CodeInvalidIntent, HTTPStatus: http.StatusBadRequest, Message: "invalid intent"}
	ErrExecutionFailed     = &Error{Code: CodeExecutionFailed, HTTPStatus: http.StatusUnprocessableEntity, Message: "execution failed"}
	ErrInvalidBid          = &Error{Code: CodeInvalidBid, HTTPStatus: http.StatusBadRequest, Message: "invalid bid"}
	ErrAuctionState        = &Error{Code: CodeAuctionState, HTTPStatus: http.StatusConflict, Message: "auction in wrong phase"}
	ErrReputationTooLow    = &Error{Code: CodeReputationTooLow, HTTPStatus: http.StatusForbidden, Message: "reputation too low"}
	ErrManipulation        = &Error{Code: CodeManipulationDetect, HTTPStatus: http.StatusForbidden, Message: "manipulation detected"}
	ErrFlashloanFailed     = &Error{Code: CodeFlashloanFailed, HTTPStatus: http.StatusUnprocessableEntity, Message: "flashloan failed"}
	ErrComplianceViolation = &Error{Code: CodeComplianceViolation, HTTPStatus: http.StatusForbidden, Message: "compliance violation"}
	ErrNotFound            = &Error{Code: CodeNotFound, HTTPStatus: http.StatusNotFound, Message: "not found"}
)

func newf(code Code, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(CodeUnauthorized, http.StatusForbidden, format, args...)
}

func InvalidIntent(format string, args ...interface{}) *Error {
	return newf(CodeInvalidIntent, http.StatusBadRequest, format, args...)
}

func ExecutionFailed(format string, args ...interface{}) *Error {
	return newf(CodeExecutionFailed, http.StatusUnprocessableEntity, format, args...)
}

// ExecutionFailedWrap keeps the underlying cause reachable via errors.Unwrap.
func ExecutionFailedWrap(err error, format string, args ...interface{}) *Error {
	e := newf(CodeExecutionFailed, http.StatusUnprocessableEntity, format, args...)
	e.Err = err
	return e
}

func InvalidBid(format string, args ...interface{}) *Error {
	return newf(CodeInvalidBid, http.StatusBadRequest, format, args...)
}

func AuctionState(format string, args ...interface{}) *Error {
	return newf(CodeAuctionState, http.StatusConflict, format, args...)
}

func ReputationTooLow(format string, args ...interface{}) *Error {
	return newf(CodeReputationTooLow, http.StatusForbidden, format, args...)
}

func ManipulationDetected(format string, args ...interface{}) *Error {
	return newf(CodeManipulationDetect, http.StatusForbidden, format, args...)
}

func FlashloanFailed(format string, args ...interface{}) *Error {
	return newf(CodeFlashloanFailed, http.StatusUnprocessableEntity, format, args...)
}

func ComplianceViolation(format string, args ...interface{}) *Error {
	return newf(CodeComplianceViolation, http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(CodeNotFound, http.StatusNotFound, format, args...)
}

// HTTPStatus extracts the HTTP status for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
