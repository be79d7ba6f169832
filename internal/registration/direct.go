package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"waitlist/internal/validate"
)

// DefaultBaseURL is the mailing-list API root.
const DefaultBaseURL = "https://api.resend.com"

// DirectConfig configures a DirectClient.
type DirectConfig struct {
	BaseURL    string
	APIKey     string
	AudienceID string
	Mapping    Mapping
	Timeout    time.Duration
	Client     *http.Client
	Logger     zerolog.Logger
	Now        func() time.Time
}

// DirectClient holds the secret credential and talks to the backend.
type DirectClient struct {
	baseURL    string
	apiKey     string
	audienceID string
	mapping    Mapping
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
}

// NewDirectClient constructs a server-side client.
func NewDirectClient(cfg DirectConfig) *DirectClient {
	cli := cfg.Client
	if cli == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		cli = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          50,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: timeout,
		}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DirectClient{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		audienceID: cfg.AudienceID,
		mapping:    cfg.Mapping,
		httpClient: cli,
		log:        cfg.Logger,
		now:        now,
	}
}

type createContactRequest struct {
	Email        string         `json:"email"`
	FirstName    string         `json:"first_name,omitempty"`
	LastName     string         `json:"last_name,omitempty"`
	Unsubscribed bool           `json:"unsubscribed"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

type createContactResponse struct {
	ID string `json:"id"`
}

// Register maps values and creates the contact.
func (c *DirectClient) Register(ctx context.Context, values validate.Values) (Record, error) {
	contact := c.mapping.Map(values)
	return c.Create(ctx, c.audienceID, contact)
}

// Create posts a mapped contact into audienceID. The registration proxy
// calls this with the audience the browser asked for.
func (c *DirectClient) Create(ctx context.Context, audienceID string, contact Contact) (Record, error) {
	if audienceID == "" {
		audienceID = c.audienceID
	}
	body, err := json.Marshal(createContactRequest{
		Email:      contact.Email,
		FirstName:  contact.FirstName,
		LastName:   contact.LastName,
		Attributes: contact.Attributes,
	})
	if err != nil {
		return Record{}, fmt.Errorf("registration: encode: %w", err)
	}
	endpoint := c.baseURL + "/audiences/" + url.PathEscape(audienceID) + "/contacts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("registration: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("audience", audienceID).Msg("registration request failed")
		return Record{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		c.log.Info().Int("status", resp.StatusCode).Str("audience", audienceID).Str("error", msg).Dur("dur", time.Since(start)).Msg("registration rejected")
		return Record{}, statusError(resp.StatusCode, msg)
	}
	var out createContactResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Record{}, &FaultError{Status: http.StatusBadGateway, Message: "invalid response from mailing list backend"}
	}
	c.log.Debug().Str("id", out.ID).Str("audience", audienceID).Dur("dur", time.Since(start)).Msg("contact created")
	return Record{
		ID:         out.ID,
		Email:      contact.Email,
		AudienceID: audienceID,
		CreatedAt:  c.now().UTC(),
		Fields:     contact.Attributes,
	}, nil
}
