package captcha

import (
	"errors"
	"net/http"
	"strings"
)

// Rejection is returned whenever a token fails verification. Every
// rejection is terminal for the submission attempt.
type Rejection struct {
	Status int
	Reason string
	Codes  []string
}

func (e *Rejection) Error() string {
	if len(e.Codes) > 0 {
		return "captcha: " + e.Reason + " (" + strings.Join(e.Codes, ", ") + ")"
	}
	return "captcha: " + e.Reason
}

// StatusCode maps the rejection onto the proxy response status.
func (e *Rejection) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

const (
	ReasonTokenRequired    = "token required"
	ReasonVerificationFail = "verification failed"
	ReasonScoreTooLow      = "score too low"
	ReasonActionNotAllowed = "action not allowed"
	ReasonUnavailable      = "verification unavailable"
)

func reject(status int, reason string, codes ...string) *Rejection {
	return &Rejection{Status: status, Reason: reason, Codes: codes}
}

// IsRejection reports whether err is a captcha rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// loadError signals the token source could not be initialised or executed.
type loadError struct{ msg string }

func (e loadError) Error() string { return "captcha: " + e.msg }

// IsLoadFailure reports whether err came from token acquisition.
func IsLoadFailure(err error) bool {
	var le loadError
	return errors.As(err, &le)
}
