package pipeline

// State is the visible state of a form instance.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateSecurityCheck  State = "security_check"
	StateCaptchaPending State = "captcha_pending"
	StateSubmitting     State = "submitting"
	StateSucceeded      State = "succeeded"
	StateSuppressed     State = "suppressed"
	StateFailed         State = "failed"
)

// Terminal reports whether no further submission is accepted.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateSuppressed
}

// Pending reports whether a network-bound step is outstanding.
func (s State) Pending() bool {
	return s == StateCaptchaPending || s == StateSubmitting
}
