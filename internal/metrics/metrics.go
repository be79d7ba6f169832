// Package metrics exports pipeline analytics to Prometheus. It listens on
// the event bus like any other analytics sink and observes webhook
// attempts and registration calls through small hooks.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"waitlist/internal/events"
	"waitlist/internal/registration"
	"waitlist/internal/validate"
	"waitlist/internal/webhook"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitlist",
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Pipeline notifications by kind",
		},
		[]string{"kind"},
	)

	suppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitlist",
			Subsystem: "security",
			Name:      "suppressed_total",
			Help:      "Submissions suppressed as bot-like, by reason",
		},
		[]string{"reason"},
	)

	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitlist",
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Failed submissions by failure kind",
		},
		[]string{"kind"},
	)

	webhookAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitlist",
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "Webhook delivery attempts",
		},
		[]string{"event", "mode", "status"},
	)

	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitlist",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Finished webhook deliveries by outcome",
		},
		[]string{"event", "outcome"},
	)

	registrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "waitlist",
			Subsystem: "registration",
			Name:      "duration_seconds",
			Help:      "Registration call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, suppressedTotal, failuresTotal,
		webhookAttemptsTotal, webhookDeliveriesTotal, registrationDuration)
}

// Subscribe attaches the sink to every canonical kind on bus.
func Subscribe(bus *events.Bus) events.Unsubscribe {
	return bus.SubscribeMany(events.Kinds, Record)
}

// Record counts one bus notification.
func Record(rec events.Record) error {
	eventsTotal.WithLabelValues(string(rec.Kind)).Inc()
	switch rec.Kind {
	case events.KindSecurity:
		suppressedTotal.WithLabelValues(label(rec.Payload["reason"])).Inc()
	case events.KindError:
		failuresTotal.WithLabelValues(label(rec.Payload["kind"])).Inc()
	}
	return nil
}

// ObserveAttempt is a webhook.Config.OnAttempt hook.
func ObserveAttempt(a webhook.Attempt) {
	status := "error"
	if a.Status > 0 {
		status = strconv.Itoa(a.Status)
	}
	webhookAttemptsTotal.WithLabelValues(string(a.Event), string(a.Mode), status).Inc()
	if !a.Final {
		return
	}
	outcome := "failed"
	if a.Success {
		outcome = "delivered"
	}
	webhookDeliveriesTotal.WithLabelValues(string(a.Event), outcome).Inc()
}

// InstrumentRegistrar times every Register call of c.
func InstrumentRegistrar(c registration.Client) registration.Client {
	return timedClient{next: c}
}

type timedClient struct {
	next registration.Client
}

func (t timedClient) Register(ctx context.Context, v validate.Values) (registration.Record, error) {
	start := time.Now()
	rec, err := t.next.Register(ctx, v)
	registrationDuration.WithLabelValues(registrationOutcome(err)).Observe(time.Since(start).Seconds())
	return rec, err
}

func registrationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case registration.IsNetwork(err):
		return "network"
	case registration.IsRejected(err):
		return "rejected"
	case registration.IsFault(err):
		return "fault"
	default:
		return "error"
	}
}

func label(v any) string {
	s, _ := v.(string)
	if s == "" {
		return "unspecified"
	}
	return s
}
