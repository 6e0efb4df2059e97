// ABOUTME: HTTP-shaped errors returned to API callers
// ABOUTME: Maps gateway failures to 502/504 keyed by the operation that failed

package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/mission-control/internal/openclaw"
)

// Operation names the gateway-facing action that failed.
type Operation string

const (
	OpOnboardingStartDispatch  Operation = "ONBOARDING_START_DISPATCH"
	OpOnboardingAnswerDispatch Operation = "ONBOARDING_ANSWER_DISPATCH"
	OpCoordinationNudge        Operation = "COORDINATION_NUDGE"
	OpTemplateSync             Operation = "TEMPLATE_SYNC"
)

func (o Operation) describe() string {
	return strings.ReplaceAll(strings.ToLower(string(o)), "_", " ")
}

// Error codes
const (
	CodeGatewayError    = "gateway_error"
	CodeGatewayTimeout  = "gateway_timeout"
	CodeNotFound        = "not_found"
	CodeNotConfigured   = "gateway_not_configured"
	CodeInvalidRequest  = "invalid_request"
	CodeConflict        = "conflict"
	CodeInternal        = "internal_error"
	CodeUnauthenticated = "unauthenticated"
)

// Error is a failure with an HTTP status attached.
type Error struct {
	Status    int
	Code      string
	Operation Operation
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s", e.Operation, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error without an operation.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// NotFound reports a missing or out-of-scope entity.
func NotFound(what string) *Error {
	return New(http.StatusNotFound, CodeNotFound, what+" not found")
}

// MapGatewayError translates a gateway failure or timeout into a caller-facing error.
// Timeouts become 504 and are retryable; everything else becomes 502.
func MapGatewayError(op Operation, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Status:    http.StatusGatewayTimeout,
			Code:      CodeGatewayTimeout,
			Operation: op,
			Message:   fmt.Sprintf("Gateway %s timed out.", op.describe()),
			Retryable: true,
			Err:       err,
		}
	}

	msg := err.Error()
	var gwErr *openclaw.GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		msg = gwErr.Message
	}
	return &Error{
		Status:    http.StatusBadGateway,
		Code:      CodeGatewayError,
		Operation: op,
		Message:   fmt.Sprintf("Gateway %s failed: %s", op.describe(), msg),
		Err:       err,
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
