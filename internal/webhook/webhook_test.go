package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"waitlist/internal/events"
	"waitlist/internal/registration"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return nil
}

func TestRetry_LinearBackoffAndGiveUp(t *testing.T) {
	r := NewRetry(true, 3, time.Second)
	for i := 1; i <= 3; i++ {
		wait, again := r.Next(false)
		if !again || wait != time.Duration(i)*time.Second {
			t.Fatalf("retry %d: wait=%s again=%v", i, wait, again)
		}
	}
	if _, again := r.Next(false); again {
		t.Fatalf("should give up after max retries")
	}
	if !r.Done() || r.Retries() != 3 {
		t.Fatalf("done=%v retries=%d", r.Done(), r.Retries())
	}
	if _, again := r.Next(false); again {
		t.Fatalf("terminal state must stay terminal")
	}
}

func TestRetry_StopsOnSuccessAndWhenDisabled(t *testing.T) {
	r := NewRetry(true, 5, time.Second)
	if _, again := r.Next(true); again || !r.Done() {
		t.Fatalf("success must be terminal")
	}
	r = NewRetry(false, 5, time.Second)
	if _, again := r.Next(false); again {
		t.Fatalf("disabled retry must not retry")
	}
	r = NewRetry(true, -1, 0)
	if _, again := r.Next(false); again {
		t.Fatalf("negative max retries means none")
	}
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("custom header missing")
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	sl := &recordingSleeper{}
	var attempts []Attempt
	d := NewDispatcher(Config{Sleeper: sl, OnAttempt: func(a Attempt) { attempts = append(attempts, a) }})
	spec := Spec{URL: srv.URL, Events: []events.Kind{events.KindSuccess}, Headers: map[string]string{"X-Token": "abc"}, Retry: true, MaxRetries: 2}
	ok, n := d.Deliver(context.Background(), spec, Payload{Event: events.KindSuccess})
	if !ok || n != 3 || calls.Load() != 3 {
		t.Fatalf("ok=%v attempts=%d calls=%d", ok, n, calls.Load())
	}
	if len(sl.waits) != 2 || sl.waits[0] != time.Second || sl.waits[1] != 2*time.Second {
		t.Fatalf("waits=%v", sl.waits)
	}
	if len(attempts) != 3 || !attempts[2].Final || !attempts[2].Success {
		t.Fatalf("attempts=%+v", attempts)
	}
}

func TestDeliver_GivesUpSilently(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	d := NewDispatcher(Config{Sleeper: &recordingSleeper{}, Logger: zerolog.Nop()})
	ok, n := d.Deliver(context.Background(), Spec{URL: srv.URL, Retry: true, MaxRetries: 2}, Payload{})
	if ok || n != 3 || calls.Load() != 3 {
		t.Fatalf("ok=%v attempts=%d calls=%d", ok, n, calls.Load())
	}
	ok, n = d.Deliver(context.Background(), Spec{URL: srv.URL, Retry: false, MaxRetries: 5}, Payload{})
	if ok || n != 1 {
		t.Fatalf("retry disabled: ok=%v attempts=%d", ok, n)
	}
}

func TestDispatch_FiltersAndSelectsFields(t *testing.T) {
	var mu sync.Mutex
	got := map[string]Payload{}
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var p Payload
			_ = json.NewDecoder(r.Body).Decode(&p)
			mu.Lock()
			got[name] = p
			mu.Unlock()
		}
	}
	all := httptest.NewServer(handler("all"))
	defer all.Close()
	some := httptest.NewServer(handler("some"))
	defer some.Close()
	errOnly := httptest.NewServer(handler("err"))
	defer errOnly.Close()

	d := NewDispatcher(Config{Specs: []Spec{
		{URL: all.URL, Events: []events.Kind{events.KindSuccess}},
		{URL: some.URL, Events: []events.Kind{events.KindSuccess, events.KindError}, Fields: []string{"email"}},
		{URL: errOnly.URL, Events: []events.Kind{events.KindError}},
	}})
	rec := &registration.Record{ID: "abc"}
	d.Dispatch(events.KindSuccess, Delivery{
		FormID:   "f1",
		Values:   map[string]any{"email": "user@example.com", "company": "ACME"},
		Response: rec,
		Error:    &ErrorDetail{Kind: "x", Message: "should not be attached"},
	})
	d.Wait()
	if len(got) != 2 {
		t.Fatalf("expected 2 receivers, got %v", got)
	}
	if got["all"].Fields["company"] != "ACME" || got["all"].Response == nil || got["all"].Response.ID != "abc" {
		t.Fatalf("all=%+v", got["all"])
	}
	if got["all"].Error != nil {
		t.Fatalf("error detail attached to success payload")
	}
	if _, ok := got["some"].Fields["company"]; ok || got["some"].Fields["email"] != "user@example.com" {
		t.Fatalf("field selection not applied: %+v", got["some"].Fields)
	}
}

func TestDispatch_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	d := NewDispatcher(Config{Specs: []Spec{{URL: srv.URL, Events: []events.Kind{events.KindSuccess}}}})
	done := make(chan struct{})
	go func() {
		d.Dispatch(events.KindSuccess, Delivery{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Dispatch blocked on delivery")
	}
	close(release)
	d.Wait()
}

func TestDeliver_ProxyMode(t *testing.T) {
	var got ProxyRequest
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxy.Close()
	d := NewDispatcher(Config{Mode: ModeProxy, ProxyURL: proxy.URL, Sleeper: &recordingSleeper{}})
	spec := Spec{URL: "https://hooks.example.com/x", Headers: map[string]string{"Authorization": "Bearer t"}, Retry: true, MaxRetries: 3}
	ok, n := d.Deliver(context.Background(), spec, Payload{Event: events.KindError})
	if ok || n != 1 {
		t.Fatalf("proxy mode must not retry: ok=%v n=%d", ok, n)
	}
	if got.Destination != spec.URL || got.Headers["Authorization"] != "Bearer t" || got.Payload.Event != events.KindError {
		t.Fatalf("proxy request=%+v", got)
	}
}

func TestDeliver_ProxyModeWithoutEndpointSkips(t *testing.T) {
	d := NewDispatcher(Config{Mode: ModeProxy})
	if ok, n := d.Deliver(context.Background(), Spec{URL: "https://x.example.com"}, Payload{}); ok || n != 0 {
		t.Fatalf("ok=%v n=%d", ok, n)
	}
}

func TestForwarder_PassesResponseThrough(t *testing.T) {
	var gotHeader string
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Sig")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer dest.Close()
	f := NewForwarder(nil, nil, zerolog.Nop())
	res, err := f.Forward(context.Background(), ProxyRequest{Destination: dest.URL, Headers: map[string]string{"X-Sig": "s"}, Payload: Payload{Event: events.KindSuccess}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Status != http.StatusAccepted || string(res.Body) != "queued" || res.ContentType != "text/plain" || gotHeader != "s" {
		t.Fatalf("res=%+v header=%q", res, gotHeader)
	}
}

func TestForwarder_RejectsBadDestinations(t *testing.T) {
	f := NewForwarder([]string{"hooks.example.com"}, nil, zerolog.Nop())
	for _, dst := range []string{"", "ftp://hooks.example.com/x", "/relative", "https://evil.example.net/x"} {
		if _, err := f.Forward(context.Background(), ProxyRequest{Destination: dst}); !IsDestinationError(err) {
			t.Fatalf("%q: expected destination error, got %v", dst, err)
		}
	}
}

func TestBuildPayload_ErrorAttachment(t *testing.T) {
	p := BuildPayload(Spec{}, events.KindError, Delivery{Response: &registration.Record{ID: "x"}, Error: &ErrorDetail{Kind: "backend", Message: "Invalid email"}})
	if p.Response != nil || p.Error == nil || p.Error.Message != "Invalid email" {
		t.Fatalf("payload=%+v", p)
	}
}
