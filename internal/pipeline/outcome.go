package pipeline

import (
	"waitlist/internal/registration"
	"waitlist/internal/security"
)

// Render is what the visitor is shown.
type Render string

const (
	RenderSuccess Render = "success"
	RenderError   Render = "error"
	RenderInvalid Render = "invalid"
	RenderNone    Render = "none"
)

// Outcome is the result of one Submit call. The set of implementations is
// closed: Success, Failure, Suppressed, Invalid and Ignored.
type Outcome interface {
	Rendered() Render
	outcome()
}

// Success means the contact was registered.
type Success struct {
	Record registration.Record
}

// FailureKind classifies a failed attempt.
type FailureKind string

const (
	FailureCaptcha  FailureKind = "captcha"
	FailureNetwork  FailureKind = "network"
	FailureRejected FailureKind = "rejected"
	FailureFault    FailureKind = "fault"
	FailureInternal FailureKind = "internal"
)

// Failure is a terminal error for the attempt; the form returns to idle.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

// Suppressed is the bot-detected path. It renders exactly like Success.
type Suppressed struct {
	Reason security.Reason
}

// Invalid carries field-level messages; it never leaves the form.
type Invalid struct {
	Fields map[string]string
}

// Ignored is returned for submits that were not run: one already pending,
// the form already finished, or the form was closed.
type Ignored struct {
	Reason string
}

func (Success) Rendered() Render    { return RenderSuccess }
func (Failure) Rendered() Render    { return RenderError }
func (Suppressed) Rendered() Render { return RenderSuccess }
func (Invalid) Rendered() Render    { return RenderInvalid }
func (Ignored) Rendered() Render    { return RenderNone }

func (Success) outcome()    {}
func (Failure) outcome()    {}
func (Suppressed) outcome() {}
func (Invalid) outcome()    {}
func (Ignored) outcome()    {}
