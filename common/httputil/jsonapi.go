package httputil

import (
	"net/http"
)

// JSONAPIErrorObject represents a single JSON:API error.
type JSONAPIErrorObject struct {
	Status int               `json:"status,omitempty"`
	Code   string            `json:"code,omitempty"`
	Title  string            `json:"title,omitempty"`
	Detail string            `json:"detail,omitempty"`
	Source map[string]string `json:"source,omitempty"`
}

// JSONAPIErrorDocument is the top-level error document.
type JSONAPIErrorDocument struct {
	Errors []JSONAPIErrorObject `json:"errors"`
}

// NewJSONAPIError creates a single JSON:API error object.
func NewJSONAPIError(status int, code, title, detail string) JSONAPIErrorObject {
	return JSONAPIErrorObject{
		Status: status,
		Code:   code,
		Title:  title,
		Detail: detail,
	}
}

// WriteJSONAPIError writes a document holding one error.
func WriteJSONAPIError(w http.ResponseWriter, status int, code, title, detail string) {
	WriteJSONAPIErrorResponse(w, status, []JSONAPIErrorObject{NewJSONAPIError(status, code, title, detail)})
}

// WriteJSONAPIErrorResponse writes a document holding several errors.
func WriteJSONAPIErrorResponse(w http.ResponseWriter, status int, errs []JSONAPIErrorObject) {
	WriteJSONAPI(w, status, JSONAPIErrorDocument{Errors: errs})
}

// WriteJSONAPIValidationError writes a 400 for malformed or incomplete input.
func WriteJSONAPIValidationError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusBadRequest, "validation_failed", "Validation Failed", detail)
}

// WriteJSONAPINotFoundError writes a 404 for a missing resource.
func WriteJSONAPINotFoundError(w http.ResponseWriter, resourceType, id string) {
	WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Resource Not Found",
		"The requested "+resourceType+" with ID '"+id+"' was not found")
}

// WriteJSONAPIUnauthorizedError writes a 401.
func WriteJSONAPIUnauthorizedError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", detail)
}

// WriteJSONAPIForbiddenError writes a 403.
func WriteJSONAPIForbiddenError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusForbidden, "forbidden", "Forbidden", detail)
}

// WriteJSONAPIUnavailableError writes a 503 for conditions the caller should
// retry with backoff.
func WriteJSONAPIUnavailableError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusServiceUnavailable, "retry", "Service Unavailable", detail)
}

// WriteJSONAPIInternalError writes a 500. Log the cause before calling it.
func WriteJSONAPIInternalError(w http.ResponseWriter, detail string) {
	WriteJSONAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", detail)
}
