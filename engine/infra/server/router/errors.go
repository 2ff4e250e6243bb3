package router

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInternal        = errors.New("internal server error")
	ErrMissingClientID = errors.New("no client_id")
)

// Error codes
const (
	ErrInternalCode       = "INTERNAL_ERROR"
	ErrBadRequestCode     = "BAD_REQUEST"
	ErrUnauthorizedCode   = "UNAUTHORIZED"
	ErrNotFoundCode       = "NOT_FOUND"
	ErrRequestTimeoutCode = "REQUEST_TIMEOUT"
)

// Error messages
const (
	ErrMsgAppStateNotInitialized = "application state not initialized"
)

// RequestError represents errors that can occur during request handling
type RequestError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError
func NewRequestError(statusCode int, reason string, err error) *RequestError {
	return &RequestError{
		StatusCode: statusCode,
		Reason:     reason,
		Err:        err,
	}
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// GetErrorInfo extracts error information for the standardized response
func (e *RequestError) GetErrorInfo() *ErrorInfo {
	var details string
	if e.Err != nil {
		details = e.Err.Error()
	}
	return &ErrorInfo{
		Code:    codeForStatus(e.StatusCode),
		Message: e.Reason,
		Details: details,
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequestCode
	case http.StatusNotFound:
		return ErrNotFoundCode
	case http.StatusUnauthorized:
		return ErrUnauthorizedCode
	case http.StatusRequestTimeout:
		return ErrRequestTimeoutCode
	default:
		return ErrInternalCode
	}
}
