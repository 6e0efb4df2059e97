// ABOUTME: JSON error responses for the HTTP API
// ABOUTME: Translates store, lifecycle and gateway failures into apierr-shaped bodies

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/mission-control/internal/apierr"
	"github.com/2389/mission-control/internal/lifecycle"
	"github.com/2389/mission-control/internal/openclaw"
	"github.com/2389/mission-control/internal/store"
)

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Detail    errorDetail `json:"detail"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
}

// toAPIError maps err onto an HTTP-shaped error. Unrecognized errors become 500.
func toAPIError(err error) *apierr.Error {
	if apiErr, ok := apierr.As(err); ok {
		return apiErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &apierr.Error{Status: http.StatusNotFound, Code: apierr.CodeNotFound, Message: "Resource not found.", Err: err}
	case errors.Is(err, openclaw.ErrNotConfigured):
		return &apierr.Error{Status: http.StatusUnprocessableEntity, Code: apierr.CodeNotConfigured, Message: "Gateway is not configured.", Err: err}
	case errors.Is(err, lifecycle.ErrGatewayBusy):
		return &apierr.Error{
			Status:    http.StatusConflict,
			Code:      apierr.CodeConflict,
			Message:   "Gateway is busy provisioning; try again shortly.",
			Retryable: true,
			Err:       err,
		}
	default:
		return &apierr.Error{Status: http.StatusInternalServerError, Code: apierr.CodeInternal, Message: "Internal server error.", Err: err}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	level := slog.LevelWarn
	if apiErr.Status >= http.StatusInternalServerError && apiErr.Code == apierr.CodeInternal {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "http request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", apiErr.Status,
		"code", apiErr.Code,
		"error", err)

	writeJSON(w, apiErr.Status, errorResponse{
		Detail: errorDetail{
			Code:      apiErr.Code,
			Message:   apiErr.Message,
			Operation: string(apiErr.Operation),
		},
		Code:      apiErr.Code,
		Retryable: apiErr.Retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func invalidRequest(msg string) *apierr.Error {
	return apierr.New(http.StatusUnprocessableEntity, apierr.CodeInvalidRequest, msg)
}
