// Package httpapi exposes form sessions and the same-origin proxies
// (registration, CAPTCHA verification and webhook forwarding) over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"waitlist/internal/captcha"
	"waitlist/internal/registration"
	"waitlist/internal/session"
	"waitlist/internal/webhook"
	"waitlist/pkg/types"
)

// ContactCreator is the credential-holding side of the registration proxy.
type ContactCreator interface {
	Create(ctx context.Context, audienceID string, c registration.Contact) (registration.Record, error)
}

// Forwarder is the server side of the webhook proxy.
type Forwarder interface {
	Forward(ctx context.Context, req webhook.ProxyRequest) (webhook.ForwardResult, error)
}

// Config wires the handlers to their backends. A nil backend disables the
// matching endpoint with 503.
type Config struct {
	Sessions  *session.Store
	Captcha   types.CaptchaInfo
	Contacts  ContactCreator
	Verifier  captcha.Verifier
	Forwarder Forwarder
	// SuccessMessage is rendered for successful (and suppressed) submits.
	SuccessMessage string
	// Ready reports readiness for /readyz; nil means always ready.
	Ready func() bool
}

// DefaultSuccessMessage is shown after a successful submission.
const DefaultSuccessMessage = "You're on the list!"

type server struct {
	cfg Config
}

// NewMux builds the HTTP handler.
func NewMux(cfg Config) http.Handler {
	if cfg.SuccessMessage == "" {
		cfg.SuccessMessage = DefaultSuccessMessage
	}
	s := &server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	// inflight runs per route so it sees the full pattern.
	r.Group(func(r chi.Router) {
		r.Use(inflight)
		r.Post("/api/sessions", s.createSession)
		r.Delete("/api/sessions/{id}", s.deleteSession)
		r.Post("/api/sessions/{id}/focus", s.focus)
		r.Post("/api/sessions/{id}/submit", s.submit)
		r.Post("/api/register", s.registerProxy)
		r.Post("/api/captcha/verify", s.captchaProxy)
		r.Post("/api/webhook-proxy", s.webhookProxy)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready == nil || cfg.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}
