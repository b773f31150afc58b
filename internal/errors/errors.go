package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")

	// 401 Unauthorized
	ErrUnauthorized = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")

	// 404 Not Found
	ErrNotFound = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")

	// 429 Too Many Requests
	ErrRateLimited = New(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later")

	// 500 Internal Server Error
	ErrInternal = New(http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
)

// licenseStatusMap maps license operation error codes to HTTP statuses.
// Unknown codes fall back to 400.
var licenseStatusMap = map[string]int{
	"invalid_license":            http.StatusNotFound,
	"license_deactivated":        http.StatusForbidden,
	"email_mismatch":             http.StatusForbidden,
	"license_expired":            http.StatusForbidden,
	"bound_to_other_device":      http.StatusConflict,
	"trial_requires_online":      http.StatusForbidden,
	"offline_grace_expired":      http.StatusForbidden,
	"requires_online_validation": http.StatusForbidden,
	"trial_converted":            http.StatusConflict,
	"trial_already_used_email":   http.StatusConflict,
	"trial_already_used_device":  http.StatusConflict,
	"already_has_license":        http.StatusConflict,
	"no_license_found":           http.StatusNotFound,
	"rate_limit_exceeded":        http.StatusTooManyRequests,
}

// FromLicenseCode converts a license manager error code into an APIError
// with the matching HTTP status.
func FromLicenseCode(code, message string) *APIError {
	status, ok := licenseStatusMap[code]
	if !ok {
		status = http.StatusBadRequest
	}
	if message == "" {
		message = code
	}
	return New(status, code, message)
}

// StatusForLicenseCode returns the HTTP status for a license manager error
// code, defaulting to 400 for unknown codes.
func StatusForLicenseCode(code string) int {
	if status, ok := licenseStatusMap[code]; ok {
		return status
	}
	return http.StatusBadRequest
}
