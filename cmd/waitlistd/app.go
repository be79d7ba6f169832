package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"waitlist/internal/captcha"
	"waitlist/internal/config"
	"waitlist/internal/events"
	"waitlist/internal/httpapi"
	"waitlist/internal/metrics"
	"waitlist/internal/pipeline"
	"waitlist/internal/registration"
	"waitlist/internal/security"
	"waitlist/internal/session"
	"waitlist/internal/webhook"
	"waitlist/pkg/types"
)

// app is the wired service.
type app struct {
	cfg        config.Config
	log        zerolog.Logger
	bus        *events.Bus
	dispatcher *webhook.Dispatcher
	sessions   *session.Store
	handler    http.Handler
}

func build(cfg config.Config, log zerolog.Logger) *app {
	bus := events.New(events.WithLogger(log))
	metrics.Subscribe(bus)
	bus.SubscribeMany(events.Kinds, func(rec events.Record) error {
		log.Debug().Str("kind", string(rec.Kind)).Str("form", rec.FormID).Str("event_id", rec.ID).Msg("pipeline event")
		return nil
	})

	var direct *registration.DirectClient
	var registrar registration.Client
	if cfg.Registration.Mode == config.ModeProxy {
		registrar = registration.NewProxyClient(cfg.Registration.ProxyURL, cfg.Registration.AudienceID, cfg.Form.Mapping, &http.Client{Timeout: cfg.Registration.Timeout()})
	} else {
		direct = registration.NewDirectClient(registration.DirectConfig{
			BaseURL:    cfg.Registration.BaseURL,
			APIKey:     cfg.Registration.APIKey,
			AudienceID: cfg.Registration.AudienceID,
			Mapping:    cfg.Form.Mapping,
			Timeout:    cfg.Registration.Timeout(),
			Logger:     log.With().Str("component", "registration").Logger(),
		})
		registrar = direct
	}
	registrar = metrics.InstrumentRegistrar(registrar)

	// The site verifier holds the secret; it backs both the in-process step
	// and the CAPTCHA proxy endpoint.
	var site *captcha.SiteVerifier
	if cfg.Captcha.Secret != "" {
		site = captcha.NewSiteVerifier(captcha.SiteVerifierConfig{
			Secret:    cfg.Captcha.Secret,
			VerifyURL: cfg.Captcha.VerifyURL,
			Policy:    cfg.Captcha.Policy(),
			Timeout:   cfg.Captcha.Timeout(),
			Logger:    log.With().Str("component", "captcha").Logger(),
		})
	}
	var step *pipeline.CaptchaStep
	if cfg.Captcha.Enabled {
		step = &pipeline.CaptchaStep{Action: cfg.Captcha.Action, Source: tokenSource(cfg.Captcha)}
		if cfg.Captcha.Mode == config.ModeProxy {
			step.Verifier = captcha.NewProxyVerifier(cfg.Captcha.ProxyURL, &http.Client{Timeout: cfg.Captcha.Timeout()})
		} else {
			step.Verifier = site
		}
	}

	dispatcher := webhook.NewDispatcher(webhook.Config{
		Specs:         cfg.Webhooks.Endpoints,
		Mode:          webhook.Mode(cfg.Webhooks.Mode),
		ProxyURL:      cfg.Webhooks.ProxyURL,
		BackoffUnit:   cfg.Webhooks.Backoff(),
		MaxConcurrent: cfg.Webhooks.MaxConcurrent,
		Logger:        log.With().Str("component", "webhook").Logger(),
		OnAttempt:     metrics.ObserveAttempt,
	})

	gateCfg := cfg.Security.Gate()
	plog := log.With().Str("component", "pipeline").Logger()
	sessions := session.NewStore(func(id string) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Config{
			FormID:    id,
			Fields:    cfg.Form.Fields,
			Gate:      security.NewGate(gateCfg),
			Captcha:   step,
			Registrar: registrar,
			Webhooks:  dispatcher,
			Bus:       bus,
			Messages:  pipeline.Messages{Failure: cfg.Form.FailureMessage, Captcha: cfg.Captcha.Message},
			Logger:    plog,
		})
	}, session.StoreConfig{
		TTL:    time.Duration(cfg.Server.SessionTTLSeconds) * time.Second,
		Logger: log.With().Str("component", "session").Logger(),
	})

	api := httpapi.Config{
		Sessions:       sessions,
		Captcha:        captchaInfo(cfg.Captcha),
		SuccessMessage: cfg.Form.SuccessMessage,
	}
	if direct != nil && !cfg.Registration.DisableProxy {
		api.Contacts = direct
	}
	if site != nil {
		api.Verifier = site
	}
	if cfg.Webhooks.ServeProxy {
		api.Forwarder = webhook.NewForwarder(cfg.Webhooks.ProxyAllowedHosts, nil, log.With().Str("component", "webhook-proxy").Logger())
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetRequestLogLevel(cfg.Server.RequestLog)
	c := cfg.Server.CORS
	httpapi.SetCORSOptions(c.Enabled, c.AllowedOrigins, c.AllowedMethods, c.AllowedHeaders)

	return &app{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		dispatcher: dispatcher,
		sessions:   sessions,
		handler:    httpapi.NewMux(api),
	}
}

func captchaInfo(c config.CaptchaConfig) types.CaptchaInfo {
	if !c.Enabled {
		return types.CaptchaInfo{}
	}
	return types.CaptchaInfo{Enabled: true, SiteKey: c.SiteKey, Action: c.Action}
}

// shutdown closes every session, then gives webhook deliveries until ctx is
// done before cancelling them.
func (a *app) shutdown(ctx context.Context) {
	_ = a.sessions.Close()
	done := make(chan struct{})
	go func() {
		a.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn().Msg("webhook deliveries still running at shutdown; cancelling")
	}
	a.dispatcher.Close()
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a := build(cfg, log)
	httpapi.SetBaseContext(ctx)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("fields", len(cfg.Form.Fields)).Bool("captcha", cfg.Captcha.Enabled).
			Int("webhooks", len(cfg.Webhooks.Endpoints)).Msg("waitlistd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			a.shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	a.shutdown(sctx)
	log.Info().Msg("waitlistd stopped")
	return nil
}

// tokenSource returns the loader consulted when a submission arrives without
// a browser-obtained token. Loaders are shared per site key.
func tokenSource(c config.CaptchaConfig) captcha.TokenSource {
	fallback := c.FallbackToken
	return captcha.Shared(c.SiteKey+"\x00"+fallback, func(context.Context) (captcha.TokenSource, error) {
		if fallback == "" {
			return nil, errors.New("no fallback token configured; submissions must carry one")
		}
		return captcha.StaticTokenSource(fallback), nil
	})
}
