package registration

import (
	"errors"
	"net/http"
)

// NetworkError means the backend could not be reached.
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return "registration: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// StatusCode maps to 502 at the proxy boundary.
func (e *NetworkError) StatusCode() int { return http.StatusBadGateway }

// RejectedError is a 4xx answer from the backend.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string   { return e.Message }
func (e *RejectedError) StatusCode() int { return http.StatusBadRequest }

// FaultError is a 5xx answer from the backend.
type FaultError struct {
	Status  int
	Message string
}

func (e *FaultError) Error() string   { return e.Message }
func (e *FaultError) StatusCode() int { return http.StatusInternalServerError }

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var e *RejectedError
	return errors.As(err, &e)
}

// IsFault reports whether err is a FaultError.
func IsFault(err error) bool {
	var e *FaultError
	return errors.As(err, &e)
}

// UserMessage returns the backend-provided message if there is one.
func UserMessage(err error) string {
	var r *RejectedError
	if errors.As(err, &r) {
		return r.Message
	}
	var f *FaultError
	if errors.As(err, &f) {
		return f.Message
	}
	return ""
}

func statusError(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 {
		return &FaultError{Status: status, Message: msg}
	}
	return &RejectedError{Status: status, Message: msg}
}
