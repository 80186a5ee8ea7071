// Package errors defines the service error taxonomy shared by the ledger,
// the access gate and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	CodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeSelfTransfer        ErrorCode = "SELF_TRANSFER"
	CodeInvalidAmount       ErrorCode = "INVALID_AMOUNT"
	CodeReportNotAvailable  ErrorCode = "REPORT_NOT_AVAILABLE"
	CodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeNotAuthenticated    ErrorCode = "NOT_AUTHENTICATED"
	CodeAlreadyClaimed      ErrorCode = "ALREADY_CLAIMED"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInternal            ErrorCode = "INTERNAL"
)

// ServiceError is a structured error carrying an HTTP mapping and details
// the caller can surface to the user.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches on code so sentinel values work with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is comparisons.
var (
	ErrInsufficientCredits = &ServiceError{Code: CodeInsufficientCredits}
	ErrInsufficientFunds   = &ServiceError{Code: CodeInsufficientFunds}
	ErrSelfTransfer        = &ServiceError{Code: CodeSelfTransfer}
	ErrInvalidAmount       = &ServiceError{Code: CodeInvalidAmount}
	ErrReportNotAvailable  = &ServiceError{Code: CodeReportNotAvailable}
	ErrInvalidTransition   = &ServiceError{Code: CodeInvalidTransition}
	ErrPermissionDenied    = &ServiceError{Code: CodePermissionDenied}
	ErrNotAuthenticated    = &ServiceError{Code: CodeNotAuthenticated}
	ErrAlreadyClaimed      = &ServiceError{Code: CodeAlreadyClaimed}
	ErrNotFound            = &ServiceError{Code: CodeNotFound}
	ErrInvalidInput        = &ServiceError{Code: CodeInvalidInput}
)

func newError(code ErrorCode, status int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// InsufficientFunds reports a ledger-level overdraft attempt.
func InsufficientFunds(balance, required int64) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusPaymentRequired,
		fmt.Sprintf("insufficient balance: available %d, required %d", balance, required)).
		WithDetails("balance", balance).
		WithDetails("required", required)
}

// InsufficientCredits reports a gate denial with the exact shortfall.
func InsufficientCredits(balance, required int64) *ServiceError {
	return newError(CodeInsufficientCredits, http.StatusPaymentRequired,
		fmt.Sprintf("you need %d credits, you have %d", required, balance)).
		WithDetails("balance", balance).
		WithDetails("required", required)
}

func SelfTransfer() *ServiceError {
	return newError(CodeSelfTransfer, http.StatusBadRequest, "cannot transfer credits to yourself")
}

func InvalidAmount(amount int64) *ServiceError {
	return newError(CodeInvalidAmount, http.StatusBadRequest,
		fmt.Sprintf("amount must be a positive integer, got %d", amount)).
		WithDetails("amount", amount)
}

func ReportNotAvailable(reportID, status string) *ServiceError {
	return newError(CodeReportNotAvailable, http.StatusConflict,
		fmt.Sprintf("report %s is %s and cannot be viewed", reportID, status)).
		WithDetails("status", status)
}

func InvalidTransition(from, to string) *ServiceError {
	return newError(CodeInvalidTransition, http.StatusConflict,
		fmt.Sprintf("cannot move report from %s to %s", from, to)).
		WithDetails("from", from).
		WithDetails("to", to)
}

func PermissionDenied(action string) *ServiceError {
	return newError(CodePermissionDenied, http.StatusForbidden,
		fmt.Sprintf("%s requires curator privileges", action))
}

// Forbidden is a PermissionDenied error with a custom message.
func Forbidden(message string) *ServiceError {
	return newError(CodePermissionDenied, http.StatusForbidden, message)
}

func NotAuthenticated() *ServiceError {
	return newError(CodeNotAuthenticated, http.StatusUnauthorized, "authentication required")
}

// Unauthorized is a NotAuthenticated error with a custom message.
func Unauthorized(message string) *ServiceError {
	return newError(CodeNotAuthenticated, http.StatusUnauthorized, message)
}

// InvalidToken wraps a token parsing failure.
func InvalidToken(err error) *ServiceError {
	e := newError(CodeNotAuthenticated, http.StatusUnauthorized, "invalid or expired token")
	e.Err = err
	return e
}

func AlreadyClaimed(wallet string) *ServiceError {
	return newError(CodeAlreadyClaimed, http.StatusConflict,
		fmt.Sprintf("airdrop for %s already claimed", wallet))
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetails("resource", resource)
}

func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window))
}

func Internal(message string, err error) *ServiceError {
	e := newError(CodeInternal, http.StatusInternalServerError, message)
	e.Err = err
	return e
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
