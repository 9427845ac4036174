package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned as a user-friendly message with an action suggestion
//   - Given a status code from its sentinel, never from its text
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the status; core.MapError picks the message
//  4. Technical error + context is logged with request ID for correlation
//  5. The JSON body lists every row error of a rejected import

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/horizon/portal-ledger/internal/core"
	"github.com/horizon/portal-ledger/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Action  string          `json:"action,omitempty"`
	Code    string          `json:"code"`
	Errors  []core.RowError `json:"errors,omitempty"`
}

// errBadRequest marks malformed requests: bad parameters, unreadable bodies.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrValidationFailed),
		errors.Is(err, core.ErrNotIngestible),
		errors.Is(err, core.ErrActionNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrBatchNotFound),
		errors.Is(err, core.ErrRecordNotFound),
		errors.Is(err, core.ErrAuditNotFound),
		errors.Is(err, core.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyRevoked):
		return http.StatusConflict
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrRedactionPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrStorageFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and writes the
// user-facing JSON body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", args...)
	} else {
		logger.Info("request rejected", args...)
	}

	body := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var vf *core.ValidationFailedError
	if errors.As(err, &vf) {
		body.Errors = vf.Errors
	}

	switch status {
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "5")
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}
