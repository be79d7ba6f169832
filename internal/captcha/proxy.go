package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProxyVerifier verifies tokens through the same-origin CAPTCHA proxy, for
// callers that must not hold the secret.
type ProxyVerifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewProxyVerifier returns a verifier that POSTs {token} to endpoint.
func NewProxyVerifier(endpoint string, cli *http.Client) *ProxyVerifier {
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	return &ProxyVerifier{endpoint: strings.TrimSpace(endpoint), httpClient: cli}
}

type proxyRequest struct {
	Token string `json:"token"`
}

type proxyResponse struct {
	Assessment
	Error string `json:"error,omitempty"`
}

// Verify maps any non-200 proxy response onto a Rejection.
func (p *ProxyVerifier) Verify(ctx context.Context, token string) (Assessment, error) {
	if strings.TrimSpace(token) == "" {
		return Assessment{}, reject(http.StatusBadRequest, ReasonTokenRequired)
	}
	body, _ := json.Marshal(proxyRequest{Token: token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Assessment{}, reject(http.StatusInternalServerError, ReasonUnavailable)
	}
	defer resp.Body.Close()
	var pr proxyResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&pr)
	if resp.StatusCode != http.StatusOK {
		reason := strings.TrimSpace(pr.Error)
		if reason == "" {
			reason = ReasonVerificationFail
		}
		return pr.Assessment, reject(resp.StatusCode, reason, pr.ErrorCodes...)
	}
	if !pr.Success {
		return pr.Assessment, reject(http.StatusBadRequest, ReasonVerificationFail, pr.ErrorCodes...)
	}
	return pr.Assessment, nil
}
