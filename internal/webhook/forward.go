package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ForwardResult is the receiver's answer, returned to the caller unmodified.
type ForwardResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// destinationError rejects a proxy request before anything is sent.
type destinationError struct{ msg string }

func (e destinationError) Error() string   { return "webhook proxy: " + e.msg }
func (e destinationError) StatusCode() int { return http.StatusBadRequest }

// IsDestinationError reports whether err is a rejected destination.
func IsDestinationError(err error) bool {
	_, ok := err.(destinationError)
	return ok
}

// Forwarder is the server half of the webhook proxy. It makes exactly one
// attempt per request.
type Forwarder struct {
	allowedHosts map[string]bool
	httpClient   *http.Client
	log          zerolog.Logger
}

// NewForwarder builds a forwarder. When allowedHosts is non-empty only those
// hosts are reachable.
func NewForwarder(allowedHosts []string, cli *http.Client, log zerolog.Logger) *Forwarder {
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}
	return &Forwarder{allowedHosts: hosts, httpClient: cli, log: log}
}

// Forward posts req.Payload to req.Destination with req.Headers.
func (f *Forwarder) Forward(ctx context.Context, req ProxyRequest) (ForwardResult, error) {
	u, err := url.Parse(strings.TrimSpace(req.Destination))
	if err != nil || u.Host == "" {
		return ForwardResult{}, destinationError{msg: "destination must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ForwardResult{}, destinationError{msg: "destination scheme must be http or https"}
	}
	if len(f.allowedHosts) > 0 && !f.allowedHosts[strings.ToLower(u.Hostname())] {
		return ForwardResult{}, destinationError{msg: "destination host not allowed"}
	}
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("webhook proxy: encode: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return ForwardResult{}, fmt.Errorf("webhook proxy: build request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}
	resp, err := f.httpClient.Do(hr)
	if err != nil {
		f.log.Warn().Str("destination", u.Host).Err(err).Msg("webhook proxy forward failed")
		return ForwardResult{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	f.log.Debug().Str("destination", u.Host).Int("status", resp.StatusCode).Msg("webhook proxied")
	return ForwardResult{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Body: b}, nil
}
