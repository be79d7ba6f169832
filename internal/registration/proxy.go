package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"waitlist/internal/validate"
)

// ProxyRequest is the registration proxy request body.
type ProxyRequest struct {
	AudienceID string         `json:"audienceId"`
	Email      string         `json:"email"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ProxyClient posts to the same-origin registration proxy and never sees the
// credential.
type ProxyClient struct {
	endpoint   string
	audienceID string
	mapping    Mapping
	httpClient *http.Client
}

// NewProxyClient returns a client for the proxy at endpoint.
func NewProxyClient(endpoint, audienceID string, mapping Mapping, cli *http.Client) *ProxyClient {
	if cli == nil {
		cli = &http.Client{Timeout: 15 * time.Second}
	}
	return &ProxyClient{
		endpoint:   strings.TrimSpace(endpoint),
		audienceID: audienceID,
		mapping:    mapping,
		httpClient: cli,
	}
}

// Register sends {audienceId, email, fields}.
func (p *ProxyClient) Register(ctx context.Context, values validate.Values) (Record, error) {
	contact := p.mapping.Map(values)
	fields := map[string]any{}
	for k, v := range contact.Attributes {
		fields[k] = v
	}
	if contact.FirstName != "" {
		fields["first_name"] = contact.FirstName
	}
	if contact.LastName != "" {
		fields["last_name"] = contact.LastName
	}
	body, err := json.Marshal(ProxyRequest{AudienceID: p.audienceID, Email: contact.Email, Fields: fields})
	if err != nil {
		return Record{}, fmt.Errorf("registration: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("registration: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Record{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Record{}, statusError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Record{}, &FaultError{Status: http.StatusBadGateway, Message: "invalid response from registration proxy"}
	}
	return rec, nil
}

// Contact rebuilds the mapped contact on the proxy side. first_name and
// last_name are lifted out of Fields; everything else stays an attribute.
func (r ProxyRequest) Contact() Contact {
	c := Contact{Email: strings.TrimSpace(r.Email), Attributes: map[string]any{}}
	for k, v := range r.Fields {
		s, isStr := v.(string)
		switch {
		case k == "first_name" && isStr:
			c.FirstName = strings.TrimSpace(s)
		case k == "last_name" && isStr:
			c.LastName = strings.TrimSpace(s)
		case v != nil:
			c.Attributes[k] = v
		}
	}
	return c
}
