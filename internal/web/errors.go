package web

// errors.go provides unified error response handling for the API.
//
// Handlers call respondError with the raw error; the status code is derived
// from the error type, the technical detail is logged with the request id,
// and the client gets the sanitized core.MapError rendering.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalstad/migrate/internal/catalog"
	"github.com/kalstad/migrate/internal/core"
	"github.com/kalstad/migrate/internal/fileparse"
)

// ErrorResponse is the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action)
// fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs the technical error server-side and writes the
// client-safe rendering with a status derived from the error type.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusFor(err)
	userMsg := core.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// statusFor maps the pipeline error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var unknownEntity *catalog.UnknownEntityError
	var invalidState *core.InvalidStateError
	var incomplete *core.IncompleteMappingError

	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.As(err, &unknownEntity):
		return http.StatusNotFound
	case errors.As(err, &invalidState):
		return http.StatusConflict
	case errors.As(err, &incomplete):
		return http.StatusBadRequest
	case errors.Is(err, fileparse.ErrEmptyFile), errors.Is(err, fileparse.ErrNoDataRows):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrValidationBlocked):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// badRequest rejects malformed input that never reached the service layer.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	slog.Warn("bad request",
		"path", r.URL.Path,
		"method", r.Method,
		"detail", message,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Message: message,
		Code:    "REQ001",
	})
}
