package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"waitlist/internal/events"
)

// Mode selects the delivery path.
type Mode string

const (
	// ModeDirect posts straight to the receiver with headers merged in and
	// retries per spec.
	ModeDirect Mode = "direct"
	// ModeProxy routes through the same-origin webhook proxy; it never
	// retries and skips delivery when no proxy is configured.
	ModeProxy Mode = "proxy"
)

// Attempt describes one delivery attempt, for observers.
type Attempt struct {
	URL     string
	Event   events.Kind
	Mode    Mode
	Number  int
	Status  int
	Err     error
	Final   bool
	Success bool
}

// Config configures a Dispatcher.
type Config struct {
	Specs       []Spec
	Mode        Mode
	ProxyURL    string
	BackoffUnit time.Duration
	// MaxConcurrent bounds simultaneous deliveries per event; 0 is unbounded.
	MaxConcurrent int
	Client        *http.Client
	Sleeper       Sleeper
	Logger        zerolog.Logger
	OnAttempt     func(Attempt)
}

// Dispatcher delivers payloads without blocking its caller.
type Dispatcher struct {
	specs      []Spec
	mode       Mode
	proxyURL   string
	unit       time.Duration
	limit      int
	httpClient *http.Client
	sleeper    Sleeper
	log        zerolog.Logger
	onAttempt  func(Attempt)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Close cancels outstanding retries.
func NewDispatcher(cfg Config) *Dispatcher {
	cli := cfg.Client
	if cli == nil {
		cli = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
			Timeout: 10 * time.Second,
		}
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDirect
	}
	sl := cfg.Sleeper
	if sl == nil {
		sl = timerSleeper{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		specs:      append([]Spec(nil), cfg.Specs...),
		mode:       mode,
		proxyURL:   strings.TrimSpace(cfg.ProxyURL),
		unit:       cfg.BackoffUnit,
		limit:      cfg.MaxConcurrent,
		httpClient: cli,
		sleeper:    sl,
		log:        cfg.Logger,
		onAttempt:  cfg.OnAttempt,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Specs returns the configured receivers.
func (d *Dispatcher) Specs() []Spec { return append([]Spec(nil), d.specs...) }

// Dispatch starts delivery of kind to every subscribed spec and returns
// immediately. Failures are logged and swallowed.
func (d *Dispatcher) Dispatch(kind events.Kind, del Delivery) {
	var matched []Spec
	for _, s := range d.specs {
		if s.Subscribed(kind) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var g errgroup.Group
		if d.limit > 0 {
			g.SetLimit(d.limit)
		}
		for _, s := range matched {
			s := s
			g.Go(func() error {
				d.Deliver(d.ctx, s, BuildPayload(s, kind, del))
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until every dispatched delivery finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close cancels pending retries and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Deliver sends one payload to one spec synchronously and reports whether it
// eventually succeeded and how many attempts were made.
func (d *Dispatcher) Deliver(ctx context.Context, spec Spec, p Payload) (bool, int) {
	if d.mode == ModeProxy {
		if d.proxyURL == "" {
			d.log.Warn().Str("url", spec.URL).Str("event", string(p.Event)).Msg("webhook skipped: no proxy endpoint configured")
			return false, 0
		}
		status, err := d.postProxy(ctx, spec, p)
		ok := err == nil && status >= 200 && status < 300
		d.observe(Attempt{URL: spec.URL, Event: p.Event, Mode: ModeProxy, Number: 1, Status: status, Err: err, Final: true, Success: ok})
		if !ok {
			d.log.Warn().Str("url", spec.URL).Int("status", status).Err(err).Msg("webhook proxy delivery failed")
		}
		return ok, 1
	}

	body, err := json.Marshal(p)
	if err != nil {
		d.log.Error().Err(err).Msg("webhook payload encode failed")
		return false, 0
	}
	retry := NewRetry(spec.Retry, spec.MaxRetries, d.unit)
	attempts := 0
	for {
		attempts++
		status, err := d.postDirect(ctx, spec, body)
		ok := err == nil && status >= 200 && status < 300
		wait, again := retry.Next(ok)
		d.observe(Attempt{URL: spec.URL, Event: p.Event, Mode: ModeDirect, Number: attempts, Status: status, Err: err, Final: !again, Success: ok})
		if ok {
			return true, attempts
		}
		if !again {
			d.log.Warn().Str("url", spec.URL).Str("event", string(p.Event)).Int("attempts", attempts).Int("status", status).Err(err).Msg("webhook delivery gave up")
			return false, attempts
		}
		d.log.Debug().Str("url", spec.URL).Int("attempt", attempts).Dur("backoff", wait).Msg("webhook retry scheduled")
		if err := d.sleeper.Sleep(ctx, wait); err != nil {
			return false, attempts
		}
	}
}

func (d *Dispatcher) observe(a Attempt) {
	if d.onAttempt != nil {
		d.onAttempt(a)
	}
}

func (d *Dispatcher) postDirect(ctx context.Context, spec Spec, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) postProxy(ctx context.Context, spec Spec, p Payload) (int, error) {
	body, err := json.Marshal(ProxyRequest{Destination: spec.URL, Headers: spec.Headers, Payload: p})
	if err != nil {
		return 0, fmt.Errorf("webhook: encode proxy request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.proxyURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode, nil
}
