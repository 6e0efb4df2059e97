// ABOUTME: Closed classification of provisioning failures into gateway, local and unknown kinds
// ABOUTME: Recovered panics are carried as PanicError and always classify as unknown

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"text/template"

	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/provisioning"
	"github.com/2389/mission-control/internal/store"
)

// ErrGatewayBusy is returned when another provisioning run holds the gateway too long.
var ErrGatewayBusy = errors.New("gateway provisioning already in progress")

// ErrorKind is the failure class used to pick a log severity.
type ErrorKind int

const (
	// KindGateway is an expected operational failure of the remote gateway, including timeouts.
	KindGateway ErrorKind = iota + 1
	// KindLocal is an I/O, encoding or rendering failure on this side.
	KindLocal
	// KindUnknown is anything not recognised, including recovered panics.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindGateway:
		return "gateway"
	case KindLocal:
		return "local"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Classify maps err onto an ErrorKind. Panics win over anything they wrap.
func Classify(err error) ErrorKind {
	var (
		panicErr  *PanicError
		gwErr     *openclaw.GatewayError
		pathErr   *fs.PathError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		execErr   template.ExecError
	)
	switch {
	case errors.As(err, &panicErr):
		return KindUnknown
	case errors.As(err, &gwErr), errors.Is(err, context.DeadlineExceeded):
		return KindGateway
	case errors.As(err, &pathErr),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.As(err, &execErr),
		errors.Is(err, provisioning.ErrTemplate),
		errors.Is(err, openclaw.ErrNotConfigured),
		errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicate):
		return KindLocal
	default:
		return KindUnknown
	}
}

// errorType names the concrete failure for critical logs.
func errorType(err error) string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return fmt.Sprintf("panic(%T)", panicErr.Value)
	}
	return fmt.Sprintf("%T", err)
}
