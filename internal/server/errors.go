package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/conduit-lang/deltapatch/internal/orm/validation"
	"github.com/conduit-lang/deltapatch/internal/patch"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationErrorResponse represents validation errors
type ValidationErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Model   string              `json:"model,omitempty"`
	Fields  map[string][]string `json:"fields"`
}

// statusFor maps an engine error to an HTTP status and error code
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, patch.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, patch.ErrUnknownType):
		return http.StatusNotFound, "unknown_type"
	case errors.Is(err, patch.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, patch.ErrNoKeyProperty):
		return http.StatusBadRequest, "no_key_property"
	case errors.Is(err, patch.ErrHookFailed):
		return http.StatusUnprocessableEntity, "hook_failed"
	case errors.Is(err, patch.ErrCancelled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, patch.ErrStore):
		return http.StatusInternalServerError, "store_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// renderPatchError renders an error returned by the engine
func renderPatchError(w http.ResponseWriter, err error) {
	var verrs *validation.ValidationErrors
	if errors.As(err, &verrs) {
		renderJSON(w, http.StatusUnprocessableEntity, &ValidationErrorResponse{
			Error:   "validation_failed",
			Message: err.Error(),
			Code:    "validation_error",
			Model:   verrs.Model,
			Fields:  verrs.Fields,
		})
		return
	}

	status, code := statusFor(err)
	renderJSON(w, status, &ErrorResponse{
		Error:   "error",
		Message: err.Error(),
		Code:    code,
	})
}

// renderError renders a standard error response
func renderError(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, &ErrorResponse{
		Error:   "error",
		Message: err.Error(),
		Code:    errorCodeFromStatus(status),
	})
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorCodeFromStatus generates an error code from HTTP status
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	default:
		return "internal_error"
	}
}
