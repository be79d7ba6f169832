// Package types holds the JSON request and response bodies of the waitlist
// HTTP API.
package types

// CaptchaInfo tells the page whether to acquire a CAPTCHA token.
type CaptchaInfo struct {
	// example: true
	Enabled bool `json:"enabled" example:"true"`
	// Public site key for the verification script.
	// example: 6LcXXXXAAAAAA
	SiteKey string `json:"site_key,omitempty" example:"6LcXXXXAAAAAA"`
	// Action name the token must be scoped to.
	// example: submit_waitlist
	Action string `json:"action,omitempty" example:"submit_waitlist"`
}

// FieldInfo describes one rendered form field.
type FieldInfo struct {
	// example: email
	Name string `json:"name" example:"email"`
	// One of text, email, select, checkbox.
	// example: email
	Kind string `json:"kind" example:"email"`
	// example: Email
	Label string `json:"label" example:"Email"`
	// example: true
	Required bool     `json:"required,omitempty" example:"true"`
	Options  []string `json:"options,omitempty"`
}

// SessionResponse is returned when a form mounts.
type SessionResponse struct {
	// example: 3f1c2b9e-8a51-4c5e-9b8d-1f0e2a7c6d44
	SessionID string `json:"session_id" example:"3f1c2b9e-8a51-4c5e-9b8d-1f0e2a7c6d44"`
	// Name of the hidden trap input for this form instance.
	// example: website_url_a1b2c3d4e5
	HoneypotField string `json:"honeypot_field" example:"website_url_a1b2c3d4e5"`
	// Attributes that keep the trap input out of sight.
	HiddenAttrs map[string]string `json:"hidden_attrs"`
	Fields      []FieldInfo       `json:"fields"`
	Captcha     CaptchaInfo       `json:"captcha"`
}

// FocusRequest reports that a field received focus.
type FocusRequest struct {
	// example: email
	Field string `json:"field" example:"email"`
}

// SubmitRequest carries one submission attempt.
type SubmitRequest struct {
	// Field name to value. Values are strings or booleans.
	Values map[string]any `json:"values"`
	// Content of the trap input; humans leave it empty.
	Honeypot string `json:"honeypot,omitempty"`
	// Optional client-acquired CAPTCHA token.
	CaptchaToken string `json:"captcha_token,omitempty"`
}

// SubmitResponse is what the page renders.
type SubmitResponse struct {
	// Orchestrator state after the attempt.
	// example: succeeded
	State string `json:"state" example:"succeeded"`
	// One of success, error, invalid, none.
	// example: success
	Result string `json:"result" example:"success"`
	// example: You're on the list!
	Message string `json:"message,omitempty" example:"You're on the list!"`
	// Field name to validation message.
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	// Contact id on success.
	// example: abc
	ID string `json:"id,omitempty" example:"abc"`
}

// CaptchaVerifyRequest is the CAPTCHA proxy request body.
type CaptchaVerifyRequest struct {
	// example: 03AGdBq26...
	Token string `json:"token" example:"03AGdBq26..."`
}

// CaptchaVerifyResponse is the CAPTCHA proxy response body.
type CaptchaVerifyResponse struct {
	// example: true
	Success bool `json:"success" example:"true"`
	// example: 0.9
	Score float64 `json:"score" example:"0.9"`
	// example: submit_waitlist
	Action      string   `json:"action,omitempty" example:"submit_waitlist"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	Error       string   `json:"error,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
