package webhook

import (
	"context"
	"time"
)

// DefaultBackoffUnit is the wait before the first retry; attempt n waits n
// units.
const DefaultBackoffUnit = time.Second

// Retry is the bounded retry state machine for one delivery. It is pure:
// callers feed it attempt outcomes and perform the waits themselves.
type Retry struct {
	enabled bool
	max     int
	unit    time.Duration
	retries int
	done    bool
}

// NewRetry builds a state machine for a spec.
func NewRetry(enabled bool, maxRetries int, unit time.Duration) *Retry {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if unit <= 0 {
		unit = DefaultBackoffUnit
	}
	return &Retry{enabled: enabled, max: maxRetries, unit: unit}
}

// Next records the outcome of the latest attempt. It returns the wait before
// the next attempt and whether one should happen at all.
func (r *Retry) Next(succeeded bool) (time.Duration, bool) {
	if r.done {
		return 0, false
	}
	if succeeded || !r.enabled || r.retries >= r.max {
		r.done = true
		return 0, false
	}
	r.retries++
	return time.Duration(r.retries) * r.unit, true
}

// Retries is the number of retries scheduled so far.
func (r *Retry) Retries() int { return r.retries }

// Done reports whether the machine reached a terminal state.
func (r *Retry) Done() bool { return r.done }

// Sleeper waits between attempts. Tests inject one that records waits.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
