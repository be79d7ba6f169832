// Package webhook fans pipeline outcomes out to configured receivers,
// directly with bounded retry or through the same-origin webhook proxy.
package webhook

import (
	"time"

	"waitlist/internal/events"
	"waitlist/internal/registration"
)

// Spec configures one receiver.
type Spec struct {
	URL    string        `json:"url" yaml:"url" toml:"url"`
	Events []events.Kind `json:"events" yaml:"events" toml:"events"`
	// Fields selects form fields to include; empty means all.
	Fields     []string          `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Retry      bool              `json:"retry" yaml:"retry" toml:"retry"`
	MaxRetries int               `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// Subscribed reports whether the spec wants events of kind k.
func (s Spec) Subscribed(k events.Kind) bool {
	k = events.Normalize(k)
	for _, e := range s.Events {
		if events.Normalize(e) == k {
			return true
		}
	}
	return false
}

// SelectFields applies the field selection to values.
func (s Spec) SelectFields(values map[string]any) map[string]any {
	out := make(map[string]any)
	if len(s.Fields) == 0 {
		for k, v := range values {
			out[k] = v
		}
		return out
	}
	for _, name := range s.Fields {
		if v, ok := values[name]; ok {
			out[name] = v
		}
	}
	return out
}

// ErrorDetail describes a failed submission.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Payload is the body receivers get.
type Payload struct {
	Event     events.Kind          `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	FormID    string               `json:"formId,omitempty"`
	Fields    map[string]any       `json:"fields"`
	Response  *registration.Record `json:"response,omitempty"`
	Error     *ErrorDetail         `json:"error,omitempty"`
}

// Delivery is the outcome handed to the dispatcher.
type Delivery struct {
	FormID    string
	Timestamp time.Time
	Values    map[string]any
	Response  *registration.Record
	Error     *ErrorDetail
}

// BuildPayload assembles the body for one spec. The backend record is
// attached only to success events and the error only to error events.
func BuildPayload(spec Spec, kind events.Kind, d Delivery) Payload {
	kind = events.Normalize(kind)
	p := Payload{
		Event:     kind,
		Timestamp: d.Timestamp,
		FormID:    d.FormID,
		Fields:    spec.SelectFields(d.Values),
	}
	switch kind {
	case events.KindSuccess:
		p.Response = d.Response
	case events.KindError:
		p.Error = d.Error
	}
	return p
}

// ProxyRequest is the body sent to the webhook proxy.
type ProxyRequest struct {
	Destination string            `json:"destination"`
	Headers     map[string]string `json:"headers,omitempty"`
	Payload     Payload           `json:"payload"`
}
