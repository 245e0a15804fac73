package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkordes/fieldops/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	sentinel error
	status   int
	code     string
}

// errorMappings is checked in order; the first sentinel found in the chain wins.
var errorMappings = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrTerminalState, http.StatusConflict, "terminal_state"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrPrecondition, http.StatusConflict, "precondition_failed"},
	{domain.ErrNotEligible, http.StatusForbidden, "not_eligible"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

// writeError maps err to a status and error body. Unmapped errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("payload_too_large", "request body too large"))
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			writeJSON(w, m.status, errorBody(m.code, publicMessage(err, m.sentinel)))
			return
		}
	}
	slog.ErrorContext(r.Context(), "unhandled error", "error", err, "method", r.Method, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
}

// requestError reports a malformed request rejected before reaching the
// coordinator, e.g. a body that is not JSON.
func requestError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorBody("validation_error", message))
}

func errorBody(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// callSitePrefix matches the "pkg.Type.Method: " wrapping added on the way up.
var callSitePrefix = regexp.MustCompile(`^(?:(?:[a-z]+(?:\.[A-Za-z]+)+|dispatch): )+`)

// publicMessage extracts the human-readable part from a wrapped sentinel error.
// e.g. "service.TripService.Start: dispatch: validation error: purpose is required" → "purpose is required"
func publicMessage(err, sentinel error) string {
	msg := callSitePrefix.ReplaceAllString(err.Error(), "")
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok && rest != "" {
		return rest
	}
	return msg
}
