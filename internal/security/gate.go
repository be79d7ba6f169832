// Package security classifies submissions as bot-like using a honeypot field
// and a minimum fill time. Detection is never reported to the sender.
package security

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reason explains why a submission was classified as bot-like.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonHoneypotFilled Reason = "honeypot_filled"
	ReasonTooFast        Reason = "too_fast"
)

// DefaultMinElapsed is the fill time below which a submission is too fast.
const DefaultMinElapsed = 1500 * time.Millisecond

// DefaultHoneypotLabel is the visible-looking prefix of the honeypot name.
const DefaultHoneypotLabel = "website_url"

// Config toggles the two checks.
type Config struct {
	HoneypotEnabled bool
	TimingEnabled   bool
	MinElapsed      time.Duration
	HoneypotLabel   string
}

// DefaultConfig enables both checks with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HoneypotEnabled: true,
		TimingEnabled:   true,
		MinElapsed:      DefaultMinElapsed,
		HoneypotLabel:   DefaultHoneypotLabel,
	}
}

// Context is the per-attempt state the gate inspects.
type Context struct {
	StartedAt         time.Time
	HoneypotFieldName string
	HoneypotValue     string
	CaptchaToken      string
}

// Verdict is the gate's classification.
type Verdict struct {
	BotLike bool
	Reason  Reason
}

// Gate runs the honeypot and timing checks.
type Gate struct {
	cfg Config
	now func() time.Time
}

// NewGate builds a gate. A zero MinElapsed falls back to DefaultMinElapsed.
func NewGate(cfg Config) *Gate {
	if cfg.MinElapsed <= 0 {
		cfg.MinElapsed = DefaultMinElapsed
	}
	if strings.TrimSpace(cfg.HoneypotLabel) == "" {
		cfg.HoneypotLabel = DefaultHoneypotLabel
	}
	return &Gate{cfg: cfg, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Now returns the gate's current time.
func (g *Gate) Now() time.Time { return g.now() }

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// NewContext starts a submission context at the current time with a fresh
// honeypot field name.
func (g *Gate) NewContext() Context {
	return Context{
		StartedAt:         g.now(),
		HoneypotFieldName: HoneypotName(g.cfg.HoneypotLabel),
	}
}

// Check returns the first matching reason, honeypot before timing.
func (g *Gate) Check(sc Context) Verdict {
	if g.cfg.HoneypotEnabled && HoneypotFilled(sc.HoneypotValue) {
		return Verdict{BotLike: true, Reason: ReasonHoneypotFilled}
	}
	if g.cfg.TimingEnabled && TooFast(sc.StartedAt, g.now(), g.cfg.MinElapsed) {
		return Verdict{BotLike: true, Reason: ReasonTooFast}
	}
	return Verdict{}
}

// HoneypotFilled reports whether the hidden field carries any value.
func HoneypotFilled(v string) bool { return v != "" }

// TooFast reports whether less than min elapsed between start and now.
func TooFast(start, now time.Time, min time.Duration) bool {
	return now.Sub(start) < min
}

// HoneypotName concatenates label with a random suffix so static bots
// cannot guess or strip the field.
func HoneypotName(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultHoneypotLabel
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return label + "_" + suffix
}

// HiddenFieldAttrs are the render hints that keep the honeypot invisible to
// humans and assistive technology while remaining in the DOM.
func HiddenFieldAttrs() map[string]string {
	return map[string]string{
		"style":        "position:absolute;left:-10000px;top:auto;width:0;height:0;overflow:hidden;opacity:0",
		"tabindex":     "-1",
		"aria-hidden":  "true",
		"autocomplete": "off",
	}
}
