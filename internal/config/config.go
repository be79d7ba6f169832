// Package config loads the waitlistd configuration from a YAML, JSON or TOML
// file, applies WAITLIST_* environment overrides and validates the result.
package config

import (
	"time"

	"waitlist/internal/captcha"
	"waitlist/internal/registration"
	"waitlist/internal/security"
	"waitlist/internal/validate"
	"waitlist/internal/webhook"
)

// Mode selects direct (credential held here) or proxied operation.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeProxy  Mode = "proxy"
)

// Config holds runtime parameters for the service.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server" toml:"server"`
	Log          LogConfig          `json:"log" yaml:"log" toml:"log"`
	Form         FormConfig         `json:"form" yaml:"form" toml:"form"`
	Security     SecurityConfig     `json:"security" yaml:"security" toml:"security"`
	Captcha      CaptchaConfig      `json:"captcha" yaml:"captcha" toml:"captcha"`
	Registration RegistrationConfig `json:"registration" yaml:"registration" toml:"registration"`
	Webhooks     WebhooksConfig     `json:"webhooks" yaml:"webhooks" toml:"webhooks"`
}

type ServerConfig struct {
	Addr                   string     `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes           int64      `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	SessionTTLSeconds      int        `json:"session_ttl_seconds" yaml:"session_ttl_seconds" toml:"session_ttl_seconds"`
	ShutdownTimeoutSeconds int        `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
	RequestLog             string     `json:"request_log" yaml:"request_log" toml:"request_log"`
	CORS                   CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

type LogConfig struct {
	// Level is a zerolog level name.
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is json or console.
	Format string `json:"format" yaml:"format" toml:"format"`
}

type FormConfig struct {
	Fields         []validate.FieldSpec `json:"fields" yaml:"fields" toml:"fields"`
	Mapping        registration.Mapping `json:"mapping" yaml:"mapping" toml:"mapping"`
	SuccessMessage string               `json:"success_message" yaml:"success_message" toml:"success_message"`
	FailureMessage string               `json:"failure_message" yaml:"failure_message" toml:"failure_message"`
}

type SecurityConfig struct {
	DisableHoneypot bool   `json:"disable_honeypot" yaml:"disable_honeypot" toml:"disable_honeypot"`
	DisableTiming   bool   `json:"disable_timing" yaml:"disable_timing" toml:"disable_timing"`
	MinElapsedMS    int    `json:"min_elapsed_ms" yaml:"min_elapsed_ms" toml:"min_elapsed_ms"`
	HoneypotLabel   string `json:"honeypot_label" yaml:"honeypot_label" toml:"honeypot_label"`
}

type CaptchaConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Mode           Mode     `json:"mode" yaml:"mode" toml:"mode"`
	SiteKey        string   `json:"site_key" yaml:"site_key" toml:"site_key"`
	Secret         string   `json:"secret" yaml:"secret" toml:"secret"`
	VerifyURL      string   `json:"verify_url" yaml:"verify_url" toml:"verify_url"`
	ProxyURL       string   `json:"proxy_url" yaml:"proxy_url" toml:"proxy_url"`
	MinScore       float64  `json:"min_score" yaml:"min_score" toml:"min_score"`
	Action         string   `json:"action" yaml:"action" toml:"action"`
	AllowedActions []string `json:"allowed_actions" yaml:"allowed_actions" toml:"allowed_actions"`
	Message        string   `json:"message" yaml:"message" toml:"message"`
	TimeoutMS      int      `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	// FallbackToken is used when a submission carries no token. Only useful
	// with test keys that accept any token.
	FallbackToken string `json:"fallback_token" yaml:"fallback_token" toml:"fallback_token"`
}

type RegistrationConfig struct {
	Mode       Mode   `json:"mode" yaml:"mode" toml:"mode"`
	BaseURL    string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key" toml:"api_key"`
	AudienceID string `json:"audience_id" yaml:"audience_id" toml:"audience_id"`
	ProxyURL   string `json:"proxy_url" yaml:"proxy_url" toml:"proxy_url"`
	TimeoutMS  int    `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	// DisableProxy unmounts the registration proxy endpoint.
	DisableProxy bool `json:"disable_proxy" yaml:"disable_proxy" toml:"disable_proxy"`
}

type WebhooksConfig struct {
	Mode          Mode           `json:"mode" yaml:"mode" toml:"mode"`
	ProxyURL      string         `json:"proxy_url" yaml:"proxy_url" toml:"proxy_url"`
	BackoffMS     int            `json:"backoff_ms" yaml:"backoff_ms" toml:"backoff_ms"`
	MaxConcurrent int            `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	Endpoints     []webhook.Spec `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
	// ServeProxy mounts the webhook proxy endpoint; ProxyAllowedHosts
	// restricts where it may forward.
	ServeProxy        bool     `json:"serve_proxy" yaml:"serve_proxy" toml:"serve_proxy"`
	ProxyAllowedHosts []string `json:"proxy_allowed_hosts" yaml:"proxy_allowed_hosts" toml:"proxy_allowed_hosts"`
}

// Defaults returns the configuration used for anything a file leaves unset.
// Booleans default to false, so toggles that are on by default are spelled
// as Disable*.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:                   ":8080",
			MaxBodyBytes:           1 << 16,
			SessionTTLSeconds:      1800,
			ShutdownTimeoutSeconds: 10,
			RequestLog:             "info",
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Form: FormConfig{
			Fields:  []validate.FieldSpec{{Name: "email", Kind: validate.KindEmail, Label: "Email", Required: true}},
			Mapping: registration.DefaultMapping(),
		},
		Security: SecurityConfig{
			MinElapsedMS:  int(security.DefaultMinElapsed / time.Millisecond),
			HoneypotLabel: security.DefaultHoneypotLabel,
		},
		Captcha: CaptchaConfig{
			Mode:      ModeDirect,
			VerifyURL: captcha.DefaultVerifyURL,
			MinScore:  captcha.DefaultMinScore,
			Action:    captcha.DefaultAction,
			TimeoutMS: 10000,
		},
		Registration: RegistrationConfig{
			Mode:      ModeDirect,
			BaseURL:   registration.DefaultBaseURL,
			TimeoutMS: 15000,
		},
		Webhooks: WebhooksConfig{
			Mode:      ModeDirect,
			BackoffMS: int(webhook.DefaultBackoffUnit / time.Millisecond),
		},
	}
}

// ApplyDefaults fills every zero value from Defaults.
func (c *Config) ApplyDefaults() {
	d := Defaults()
	setStr(&c.Server.Addr, d.Server.Addr)
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	setInt(&c.Server.SessionTTLSeconds, d.Server.SessionTTLSeconds)
	setInt(&c.Server.ShutdownTimeoutSeconds, d.Server.ShutdownTimeoutSeconds)
	setStr(&c.Server.RequestLog, d.Server.RequestLog)
	if len(c.Server.CORS.AllowedMethods) == 0 {
		c.Server.CORS.AllowedMethods = d.Server.CORS.AllowedMethods
	}
	if len(c.Server.CORS.AllowedHeaders) == 0 {
		c.Server.CORS.AllowedHeaders = d.Server.CORS.AllowedHeaders
	}
	setStr(&c.Log.Level, d.Log.Level)
	setStr(&c.Log.Format, d.Log.Format)
	if len(c.Form.Fields) == 0 {
		c.Form.Fields = d.Form.Fields
	}
	if c.Form.Mapping == (registration.Mapping{}) {
		c.Form.Mapping = d.Form.Mapping
	}
	setStr(&c.Form.Mapping.EmailField, d.Form.Mapping.EmailField)
	setInt(&c.Security.MinElapsedMS, d.Security.MinElapsedMS)
	setStr(&c.Security.HoneypotLabel, d.Security.HoneypotLabel)
	setMode(&c.Captcha.Mode, d.Captcha.Mode)
	setStr(&c.Captcha.VerifyURL, d.Captcha.VerifyURL)
	if c.Captcha.MinScore == 0 {
		c.Captcha.MinScore = d.Captcha.MinScore
	}
	setStr(&c.Captcha.Action, d.Captcha.Action)
	setInt(&c.Captcha.TimeoutMS, d.Captcha.TimeoutMS)
	setMode(&c.Registration.Mode, d.Registration.Mode)
	setStr(&c.Registration.BaseURL, d.Registration.BaseURL)
	setInt(&c.Registration.TimeoutMS, d.Registration.TimeoutMS)
	setMode(&c.Webhooks.Mode, d.Webhooks.Mode)
	setInt(&c.Webhooks.BackoffMS, d.Webhooks.BackoffMS)
}

func setStr(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p <= 0 {
		*p = v
	}
}

func setMode(p *Mode, v Mode) {
	if *p == "" {
		*p = v
	}
}

// MinElapsed returns the timing threshold as a duration.
func (s SecurityConfig) MinElapsed() time.Duration {
	return time.Duration(s.MinElapsedMS) * time.Millisecond
}

// Gate converts the section into a security gate configuration.
func (s SecurityConfig) Gate() security.Config {
	return security.Config{
		HoneypotEnabled: !s.DisableHoneypot,
		TimingEnabled:   !s.DisableTiming,
		MinElapsed:      s.MinElapsed(),
		HoneypotLabel:   s.HoneypotLabel,
	}
}

// Policy converts the section into a verification policy.
func (c CaptchaConfig) Policy() captcha.Policy {
	return captcha.Policy{MinScore: c.MinScore, AllowedActions: c.AllowedActions}
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Timeout returns the verification request timeout.
func (c CaptchaConfig) Timeout() time.Duration { return millis(c.TimeoutMS) }

// Timeout returns the registration request timeout.
func (r RegistrationConfig) Timeout() time.Duration { return millis(r.TimeoutMS) }

// Backoff returns the webhook backoff unit.
func (w WebhooksConfig) Backoff() time.Duration { return millis(w.BackoffMS) }
