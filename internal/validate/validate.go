package validate

import (
	"regexp"
	"strings"
)

// Result is the outcome of validating one field.
type Result struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// local@domain.tld with at least one dot after the @ and no whitespace.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmail reports whether s has the local@domain.tld shape.
func IsEmail(s string) bool { return emailPattern.MatchString(s) }

// ValidateField checks a single value against its spec.
func ValidateField(spec FieldSpec, v Value) Result {
	if spec.Required {
		if v.Empty() {
			return invalid(spec, requiredMessage(spec))
		}
		if spec.Kind == KindCheckbox && !checked(v) {
			return invalid(spec, requiredMessage(spec))
		}
	}
	if v.Empty() {
		return Result{Valid: true}
	}
	switch spec.Kind {
	case KindEmail:
		if v.IsBool() || !IsEmail(v.Str()) {
			return invalid(spec, "Please enter a valid email address")
		}
	case KindSelect:
		if len(spec.Options) > 0 && !contains(spec.Options, v.Str()) {
			return invalid(spec, "Please choose one of the available options")
		}
	}
	return Result{Valid: true}
}

// ValidateForm validates every spec and returns all results keyed by name.
func ValidateForm(values Values, specs []FieldSpec) map[string]Result {
	out := make(map[string]Result, len(specs))
	for _, spec := range specs {
		out[spec.Name] = ValidateField(spec, values.Get(spec.Name))
	}
	return out
}

// IsValid is the logical AND of all results.
func IsValid(results map[string]Result) bool {
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}

// Messages returns the messages of the invalid fields.
func Messages(results map[string]Result) map[string]string {
	out := map[string]string{}
	for name, r := range results {
		if !r.Valid {
			out[name] = r.Message
		}
	}
	return out
}

func invalid(spec FieldSpec, fallback string) Result {
	if msg := strings.TrimSpace(spec.Message); msg != "" {
		return Result{Valid: false, Message: msg}
	}
	return Result{Valid: false, Message: fallback}
}

func requiredMessage(spec FieldSpec) string {
	label := strings.TrimSpace(spec.Label)
	if label == "" {
		label = spec.Name
	}
	return label + " is required"
}

// checked reads a checkbox value. Form posts may carry the state as text.
func checked(v Value) bool {
	if v.IsBool() {
		return v.Truth()
	}
	switch strings.ToLower(strings.TrimSpace(v.Str())) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
