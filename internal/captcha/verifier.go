// Package captcha acquires client tokens and verifies them against a
// score-based verification backend.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMinScore is the lowest accepted score.
const DefaultMinScore = 0.5

// DefaultVerifyURL is the reCAPTCHA v3 compatible siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Assessment is the backend's verdict on a token.
type Assessment struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// Verifier checks a client token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Assessment, error)
}

// Policy is applied to a backend assessment.
type Policy struct {
	MinScore       float64
	AllowedActions []string
}

// Evaluate applies the policy in order: success flag, score, action.
func (p Policy) Evaluate(a Assessment) error {
	if !a.Success {
		return reject(http.StatusBadRequest, ReasonVerificationFail, a.ErrorCodes...)
	}
	min := p.MinScore
	if min <= 0 {
		min = DefaultMinScore
	}
	if a.Score < min {
		return reject(http.StatusForbidden, ReasonScoreTooLow)
	}
	if len(p.AllowedActions) > 0 {
		allowed := false
		for _, act := range p.AllowedActions {
			if act == a.Action {
				allowed = true
				break
			}
		}
		if !allowed {
			return reject(http.StatusForbidden, ReasonActionNotAllowed)
		}
	}
	return nil
}

// SiteVerifierConfig configures a SiteVerifier.
type SiteVerifierConfig struct {
	Secret    string
	VerifyURL string
	Policy    Policy
	Timeout   time.Duration
	Client    *http.Client
	Logger    zerolog.Logger
}

// SiteVerifier talks to the verification backend directly. It runs only
// where the secret lives (the CAPTCHA proxy).
type SiteVerifier struct {
	secret     string
	verifyURL  string
	policy     Policy
	httpClient *http.Client
	log        zerolog.Logger
}

// NewSiteVerifier constructs a server-side verifier.
func NewSiteVerifier(cfg SiteVerifierConfig) *SiteVerifier {
	cli := cfg.Client
	if cli == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cli = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
			Timeout: timeout,
		}
	}
	u := strings.TrimSpace(cfg.VerifyURL)
	if u == "" {
		u = DefaultVerifyURL
	}
	return &SiteVerifier{
		secret:     cfg.Secret,
		verifyURL:  u,
		policy:     cfg.Policy,
		httpClient: cli,
		log:        cfg.Logger,
	}
}

// Verify posts the token to the backend and applies the policy.
func (v *SiteVerifier) Verify(ctx context.Context, token string) (Assessment, error) {
	if strings.TrimSpace(token) == "" {
		return Assessment{}, reject(http.StatusBadRequest, ReasonTokenRequired)
	}
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Assessment{}, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.log.Error().Err(err).Msg("captcha verify request failed")
		return Assessment{}, reject(http.StatusInternalServerError, ReasonUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		v.log.Error().Int("status", resp.StatusCode).Str("body", string(b)).Msg("captcha backend error")
		return Assessment{}, reject(http.StatusInternalServerError, ReasonUnavailable)
	}
	var a Assessment
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&a); err != nil {
		return Assessment{}, reject(http.StatusInternalServerError, ReasonUnavailable)
	}
	if err := v.policy.Evaluate(a); err != nil {
		v.log.Info().Float64("score", a.Score).Str("action", a.Action).Err(err).Msg("captcha rejected")
		return a, err
	}
	return a, nil
}
