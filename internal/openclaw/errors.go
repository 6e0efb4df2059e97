// ABOUTME: Error types returned by the OpenClaw gateway client
// ABOUTME: GatewayError marks every remote or transport failure

package openclaw

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a call targets a gateway without a URL.
var ErrNotConfigured = errors.New("gateway url not configured")

// GatewayError is the distinguished failure of a gateway call. Err holds the
// transport cause when there is one; timeouts unwrap to context.DeadlineExceeded.
type GatewayError struct {
	Method  string
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("openclaw %s: %s (%s)", e.Method, msg, e.Code)
	}
	return fmt.Sprintf("openclaw %s: %s", e.Method, msg)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is or wraps a *GatewayError.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
