package api

import "net/http"

// APIError is an error that knows its HTTP status and machine-readable code
type APIError struct {
	Status  int         `json:"-"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func internalError(message string) *APIError {
	if message == "" {
		message = "internal server error"
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", message)
}

func badRequest(code, message string) *APIError {
	return newAPIError(http.StatusBadRequest, code, message)
}

func notFound(code, message string) *APIError {
	return newAPIError(http.StatusNotFound, code, message)
}

func forbidden(code, message string) *APIError {
	return newAPIError(http.StatusForbidden, code, message)
}

func conflict(code, message string, details interface{}) *APIError {
	err := newAPIError(http.StatusConflict, code, message)
	err.Details = details
	return err
}

func unavailable(code, message string) *APIError {
	return newAPIError(http.StatusServiceUnavailable, code, message)
}
