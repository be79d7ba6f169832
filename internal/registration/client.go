// Package registration creates contact records in the mailing-list backend,
// either directly with the secret credential or through the same-origin
// registration proxy.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"waitlist/internal/validate"
)

// Record is the created contact as reported back to the pipeline.
type Record struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	AudienceID string         `json:"audienceId"`
	CreatedAt  time.Time      `json:"createdAt"`
	Fields     map[string]any `json:"-"`
}

var recordKeys = map[string]bool{"id": true, "email": true, "audienceId": true, "createdAt": true}

// MarshalJSON flattens Fields next to the identity keys:
// {id, email, audienceId, createdAt, ...fields}.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		if !recordKeys[k] {
			out[k] = v
		}
	}
	out["id"] = r.ID
	out["email"] = r.Email
	out["audienceId"] = r.AudienceID
	out["createdAt"] = r.CreatedAt
	return json.Marshal(out)
}

// UnmarshalJSON collects unknown keys into Fields.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var rec Record
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(v, &rec.ID)
		case "email":
			err = json.Unmarshal(v, &rec.Email)
		case "audienceId":
			err = json.Unmarshal(v, &rec.AudienceID)
		case "createdAt":
			err = json.Unmarshal(v, &rec.CreatedAt)
		default:
			var x any
			err = json.Unmarshal(v, &x)
			if rec.Fields == nil {
				rec.Fields = map[string]any{}
			}
			rec.Fields[k] = x
		}
		if err != nil {
			return fmt.Errorf("registration: decode %s: %w", k, err)
		}
	}
	*r = rec
	return nil
}

// Client registers form values. The pipeline does not care which mode is
// behind it.
type Client interface {
	Register(ctx context.Context, values validate.Values) (Record, error)
}

// Mapping says which form fields carry identity attributes. Every other
// field becomes a free-form metadata attribute.
type Mapping struct {
	EmailField     string `json:"email_field" yaml:"email_field" toml:"email_field"`
	FirstNameField string `json:"first_name_field,omitempty" yaml:"first_name_field,omitempty" toml:"first_name_field,omitempty"`
	LastNameField  string `json:"last_name_field,omitempty" yaml:"last_name_field,omitempty" toml:"last_name_field,omitempty"`
}

// DefaultMapping uses conventional field names.
func DefaultMapping() Mapping {
	return Mapping{EmailField: "email", FirstNameField: "first_name", LastNameField: "last_name"}
}

// Contact is the mapped representation sent to the backend.
type Contact struct {
	Email      string
	FirstName  string
	LastName   string
	Attributes map[string]any
}

// Map splits values into identity and metadata attributes. Empty values are
// dropped.
func (m Mapping) Map(values validate.Values) Contact {
	if m.EmailField == "" {
		m.EmailField = "email"
	}
	c := Contact{Attributes: map[string]any{}}
	for name, v := range values {
		if v.Empty() {
			continue
		}
		switch name {
		case m.EmailField:
			c.Email = strings.TrimSpace(v.Str())
		case m.FirstNameField:
			c.FirstName = strings.TrimSpace(v.Str())
		case m.LastNameField:
			c.LastName = strings.TrimSpace(v.Str())
		default:
			c.Attributes[name] = v.Any()
		}
	}
	return c
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// readErrorMessage extracts {error} or {message} from a failed response.
func readErrorMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var eb errorBody
	if err := json.Unmarshal(b, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return strings.TrimSpace(string(b))
}
