// Package validate implements the pure per-field and whole-form checks that
// run before any network call.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the input type of a form field.
type Kind string

const (
	KindText     Kind = "text"
	KindEmail    Kind = "email"
	KindSelect   Kind = "select"
	KindCheckbox Kind = "checkbox"
)

// FieldSpec describes one form field. Specs are immutable once a form is
// mounted.
type FieldSpec struct {
	Name       string   `json:"name" yaml:"name" toml:"name"`
	Kind       Kind     `json:"kind" yaml:"kind" toml:"kind"`
	Label      string   `json:"label" yaml:"label" toml:"label"`
	Required   bool     `json:"required" yaml:"required" toml:"required"`
	Options    []string `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	IsMetadata bool     `json:"is_metadata,omitempty" yaml:"is_metadata,omitempty" toml:"is_metadata,omitempty"`
	// Message overrides the default error text for this field.
	Message string `json:"message,omitempty" yaml:"message,omitempty" toml:"message,omitempty"`
}

// Value is a form value: absent, a string, or a bool.
type Value struct {
	present bool
	isBool  bool
	s       string
	b       bool
}

// Absent is the zero Value.
func Absent() Value { return Value{} }

// String wraps a string value.
func String(s string) Value { return Value{present: true, s: s} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{present: true, isBool: true, b: b} }

// Present reports whether the value was supplied.
func (v Value) Present() bool { return v.present }

// IsBool reports whether the value is boolean.
func (v Value) IsBool() bool { return v.isBool }

// Empty reports whether the value is absent or the empty string.
func (v Value) Empty() bool { return !v.present || (!v.isBool && v.s == "") }

// Str returns the string form; booleans render as "true"/"false".
func (v Value) Str() string {
	if v.isBool {
		if v.b {
			return "true"
		}
		return "false"
	}
	return v.s
}

// Truth returns the boolean form.
func (v Value) Truth() bool { return v.isBool && v.b }

// Any returns nil, string or bool.
func (v Value) Any() any {
	switch {
	case !v.present:
		return nil
	case v.isBool:
		return v.b
	default:
		return v.s
	}
}

// MarshalJSON encodes absent as null.
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Any()) }

// UnmarshalJSON accepts null, strings, booleans and numbers (kept as text).
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	x, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = x
	return nil
}

// FromAny converts a decoded JSON scalar into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Absent(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return String(strings.TrimSpace(fmt.Sprint(x))), nil
	default:
		return Value{}, fmt.Errorf("unsupported form value type %T", raw)
	}
}

// ValuesFromMap converts a decoded JSON object into Values.
func ValuesFromMap(m map[string]any) (Values, error) {
	out := make(Values, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Values maps field names to their current value.
type Values map[string]Value

// Get returns the value for name, or Absent.
func (vs Values) Get(name string) Value {
	if vs == nil {
		return Absent()
	}
	return vs[name]
}

// Clone returns a shallow copy.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// Plain converts to a map of nil/string/bool for serialisation.
func (vs Values) Plain() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Any()
	}
	return out
}
