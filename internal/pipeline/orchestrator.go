// Package pipeline sequences the security gate, field validation, CAPTCHA
// verification, registration and webhook fan-out for one form instance, and
// owns the state machine the visitor sees.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"waitlist/internal/captcha"
	"waitlist/internal/events"
	"waitlist/internal/registration"
	"waitlist/internal/security"
	"waitlist/internal/validate"
	"waitlist/internal/webhook"
)

// Default user-visible messages.
const (
	DefaultFailureMessage = "Submission failed"
	DefaultCaptchaMessage = "We could not verify your submission. Please try again."
)

// Messages overrides the user-visible failure texts.
type Messages struct {
	Failure string
	Captcha string
}

// CaptchaStep enables CAPTCHA verification.
type CaptchaStep struct {
	// Source is used when the submission does not carry its own token.
	Source   captcha.TokenSource
	Verifier captcha.Verifier
	Action   string
}

// Config wires an Orchestrator.
type Config struct {
	FormID    string
	Fields    []validate.FieldSpec
	Gate      *security.Gate
	Captcha   *CaptchaStep
	Registrar registration.Client
	Webhooks  *webhook.Dispatcher
	Bus       *events.Bus
	Messages  Messages
	Logger    zerolog.Logger
}

// Extras is the per-attempt data that is not a form field.
type Extras struct {
	HoneypotValue string
	CaptchaToken  string
}

// Orchestrator runs submissions for one form instance. At most one
// submission is in flight at a time.
type Orchestrator struct {
	formID    string
	fields    []validate.FieldSpec
	gate      *security.Gate
	captcha   *CaptchaStep
	registrar registration.Client
	webhooks  *webhook.Dispatcher
	bus       *events.Bus
	msgs      Messages
	log       zerolog.Logger

	inFlight atomic.Bool
	closed   atomic.Bool

	mu      sync.Mutex
	state   State
	history []State
	values  validate.Values
	sc      security.Context
	mounted bool
}

// New builds an orchestrator and starts its submission context.
func New(cfg Config) *Orchestrator {
	gate := cfg.Gate
	if gate == nil {
		gate = security.NewGate(security.DefaultConfig())
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.Default()
	}
	msgs := cfg.Messages
	if msgs.Failure == "" {
		msgs.Failure = DefaultFailureMessage
	}
	if msgs.Captcha == "" {
		msgs.Captcha = DefaultCaptchaMessage
	}
	fields := append([]validate.FieldSpec(nil), cfg.Fields...)
	return &Orchestrator{
		formID:    cfg.FormID,
		fields:    fields,
		gate:      gate,
		captcha:   cfg.Captcha,
		registrar: cfg.Registrar,
		webhooks:  cfg.Webhooks,
		bus:       bus,
		msgs:      msgs,
		log:       cfg.Logger.With().Str("form", cfg.FormID).Logger(),
		state:     StateIdle,
		history:   []State{StateIdle},
		values:    validate.Values{},
		sc:        gate.NewContext(),
	}
}

// FormID returns the instance id.
func (o *Orchestrator) FormID() string { return o.formID }

// Fields returns the immutable field specs.
func (o *Orchestrator) Fields() []validate.FieldSpec {
	return append([]validate.FieldSpec(nil), o.fields...)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns every state entered so far, in order.
func (o *Orchestrator) History() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.history...)
}

// SubmissionContext returns the instance's security context.
func (o *Orchestrator) SubmissionContext() security.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sc
}

// Values returns a copy of the current form values.
func (o *Orchestrator) Values() validate.Values {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.values.Clone()
}

// SetValue records a field edit.
func (o *Orchestrator) SetValue(name string, v validate.Value) {
	o.mu.Lock()
	o.values[name] = v
	o.mu.Unlock()
}

// Mount emits the one-time view notification. Later calls are no-ops.
func (o *Orchestrator) Mount() {
	o.mu.Lock()
	if o.mounted || o.closed.Load() {
		o.mu.Unlock()
		return
	}
	o.mounted = true
	o.mu.Unlock()
	o.emit(events.KindView, map[string]any{"field": "", "trigger": "mount"})
}

// Focus emits field_focus for a field.
func (o *Orchestrator) Focus(field string) {
	if o.closed.Load() {
		return
	}
	o.emit(events.KindFieldFocus, map[string]any{"field": field, "trigger": "focus"})
}

// Close tears the instance down. A registration call still outstanding
// completes, but its result is discarded.
func (o *Orchestrator) Close() { o.closed.Store(true) }

// Closed reports whether Close was called.
func (o *Orchestrator) Closed() bool { return o.closed.Load() }

// Submit runs the pipeline once. values replace the current form values.
func (o *Orchestrator) Submit(ctx context.Context, values validate.Values, extras Extras) Outcome {
	if o.closed.Load() {
		return Ignored{Reason: "closed"}
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.log.Debug().Msg("submit ignored: submission pending")
		return Ignored{Reason: "pending"}
	}
	defer o.inFlight.Store(false)

	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return Ignored{Reason: "finished"}
	}
	if values != nil {
		o.values = values.Clone()
	}
	vals := o.values.Clone()
	sc := o.sc
	o.mu.Unlock()
	sc.HoneypotValue = extras.HoneypotValue
	sc.CaptchaToken = extras.CaptchaToken

	o.emit(events.KindSubmit, map[string]any{"values": vals.Plain()})

	o.transition(StateValidating)
	results := validate.ValidateForm(vals, o.fields)
	if !validate.IsValid(results) {
		o.transition(StateIdle)
		return Invalid{Fields: validate.Messages(results)}
	}

	o.transition(StateSecurityCheck)
	if v := o.gate.Check(sc); v.BotLike {
		o.transition(StateSuppressed)
		o.log.Warn().Str("reason", string(v.Reason)).Msg("submission suppressed")
		o.emit(events.KindSecurity, map[string]any{
			"reason":         string(v.Reason),
			"honeypot_field": sc.HoneypotFieldName,
			"elapsed_ms":     o.gate.Now().Sub(sc.StartedAt).Milliseconds(),
		})
		return Suppressed{Reason: v.Reason}
	}

	// Network-bound steps are not cancelled by the caller going away.
	netCtx := context.WithoutCancel(ctx)

	if o.captcha != nil {
		o.transition(StateCaptchaPending)
		if err := o.verifyCaptcha(netCtx, sc); err != nil {
			if o.closed.Load() {
				return Ignored{Reason: "closed"}
			}
			return o.fail(vals, Failure{Kind: FailureCaptcha, Message: o.msgs.Captcha, Err: err})
		}
		if o.closed.Load() {
			o.log.Debug().Msg("registration skipped: form closed during captcha")
			return Ignored{Reason: "closed"}
		}
	}

	o.transition(StateSubmitting)
	if o.registrar == nil {
		return o.fail(vals, Failure{Kind: FailureInternal, Message: o.msgs.Failure, Err: errors.New("no registration client configured")})
	}
	start := time.Now()
	rec, err := o.registrar.Register(netCtx, vals)
	if o.closed.Load() {
		o.log.Debug().Err(err).Msg("registration result discarded: form closed")
		return Ignored{Reason: "closed"}
	}
	if err != nil {
		return o.fail(vals, o.classify(err))
	}

	o.transition(StateSucceeded)
	o.log.Info().Str("id", rec.ID).Dur("dur", time.Since(start)).Msg("submission registered")
	now := o.gate.Now()
	o.emit(events.KindSuccess, map[string]any{"values": vals.Plain(), "response": rec})
	if o.webhooks != nil {
		r := rec
		o.webhooks.Dispatch(events.KindSuccess, webhook.Delivery{FormID: o.formID, Timestamp: now, Values: vals.Plain(), Response: &r})
	}
	return Success{Record: rec}
}

func (o *Orchestrator) verifyCaptcha(ctx context.Context, sc security.Context) error {
	src := o.captcha.Source
	if sc.CaptchaToken != "" {
		src = captcha.StaticTokenSource(sc.CaptchaToken)
	}
	if src == nil {
		src = captcha.StaticTokenSource("")
	}
	action := o.captcha.Action
	if action == "" {
		action = captcha.DefaultAction
	}
	token, err := src.Token(ctx, action)
	if err != nil {
		return err
	}
	if o.captcha.Verifier == nil {
		return errors.New("captcha: no verifier configured")
	}
	_, err = o.captcha.Verifier.Verify(ctx, token)
	return err
}

func (o *Orchestrator) classify(err error) Failure {
	msg := registration.UserMessage(err)
	if msg == "" {
		msg = o.msgs.Failure
	}
	switch {
	case registration.IsNetwork(err):
		return Failure{Kind: FailureNetwork, Message: o.msgs.Failure, Err: err}
	case registration.IsRejected(err):
		return Failure{Kind: FailureRejected, Message: msg, Err: err}
	case registration.IsFault(err):
		return Failure{Kind: FailureFault, Message: msg, Err: err}
	default:
		return Failure{Kind: FailureInternal, Message: o.msgs.Failure, Err: err}
	}
}

// fail enters failed, reports the error, then returns to idle with the
// values cleared so the visitor can resubmit.
func (o *Orchestrator) fail(vals validate.Values, f Failure) Outcome {
	o.transition(StateFailed)
	o.log.Info().Str("kind", string(f.Kind)).Err(f.Err).Msg("submission failed")
	now := o.gate.Now()
	o.emit(events.KindError, map[string]any{"kind": string(f.Kind), "message": f.Message, "values": vals.Plain()})
	if o.webhooks != nil {
		o.webhooks.Dispatch(events.KindError, webhook.Delivery{
			FormID:    o.formID,
			Timestamp: now,
			Values:    vals.Plain(),
			Error:     &webhook.ErrorDetail{Kind: string(f.Kind), Message: f.Message},
		})
	}
	o.mu.Lock()
	o.values = validate.Values{}
	o.mu.Unlock()
	o.transition(StateIdle)
	return f
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.state = s
	o.history = append(o.history, s)
	o.mu.Unlock()
	o.log.Debug().Str("state", string(s)).Msg("transition")
}

func (o *Orchestrator) emit(kind events.Kind, payload map[string]any) {
	o.bus.Emit(events.NewRecord(kind, o.formID, o.gate.Now(), payload))
}
