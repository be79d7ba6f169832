package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func siteverify(t *testing.T, status int, body any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" {
			t.Errorf("secret not forwarded: %q", r.PostForm.Get("secret"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var r *Rejection
	if !errors.As(err, &r) {
		t.Fatalf("expected *Rejection, got %T %v", err, err)
	}
	return r
}

func TestSiteVerifier_MissingToken(t *testing.T) {
	srv, calls := siteverify(t, 200, Assessment{Success: true, Score: 0.9})
	v := NewSiteVerifier(SiteVerifierConfig{Secret: "s3cret", VerifyURL: srv.URL})
	_, err := v.Verify(context.Background(), "  ")
	r := rejection(t, err)
	if r.StatusCode() != http.StatusBadRequest || r.Reason != ReasonTokenRequired {
		t.Fatalf("got %+v", r)
	}
	if calls.Load() != 0 {
		t.Fatalf("backend called for empty token")
	}
}

func TestSiteVerifier_PolicyOrder(t *testing.T) {
	cases := []struct {
		name   string
		body   Assessment
		policy Policy
		status int
		reason string
	}{
		{"backend failure", Assessment{Success: false, ErrorCodes: []string{"invalid-input-response"}, Score: 0.9}, Policy{}, 400, ReasonVerificationFail},
		{"low score", Assessment{Success: true, Score: 0.2, Action: "submit_waitlist"}, Policy{MinScore: 0.5}, 403, ReasonScoreTooLow},
		{"default min score", Assessment{Success: true, Score: 0.49}, Policy{}, 403, ReasonScoreTooLow},
		{"action not allowed", Assessment{Success: true, Score: 0.9, Action: "login"}, Policy{AllowedActions: []string{"submit_waitlist"}}, 403, ReasonActionNotAllowed},
		{"score checked before action", Assessment{Success: true, Score: 0.1, Action: "login"}, Policy{AllowedActions: []string{"submit_waitlist"}}, 403, ReasonScoreTooLow},
	}
	for _, c := range cases {
		srv, _ := siteverify(t, 200, c.body)
		v := NewSiteVerifier(SiteVerifierConfig{Secret: "s3cret", VerifyURL: srv.URL, Policy: c.policy})
		_, err := v.Verify(context.Background(), "tok")
		r := rejection(t, err)
		if r.StatusCode() != c.status || r.Reason != c.reason {
			t.Fatalf("%s: got %+v", c.name, r)
		}
	}
}

func TestSiteVerifier_PassesThroughErrorCodes(t *testing.T) {
	srv, _ := siteverify(t, 200, Assessment{Success: false, ErrorCodes: []string{"timeout-or-duplicate"}})
	v := NewSiteVerifier(SiteVerifierConfig{Secret: "s3cret", VerifyURL: srv.URL})
	_, err := v.Verify(context.Background(), "tok")
	r := rejection(t, err)
	if len(r.Codes) != 1 || r.Codes[0] != "timeout-or-duplicate" {
		t.Fatalf("codes=%v", r.Codes)
	}
}

func TestSiteVerifier_Accepts(t *testing.T) {
	srv, _ := siteverify(t, 200, Assessment{Success: true, Score: 0.9, Action: "submit_waitlist", Hostname: "example.com"})
	v := NewSiteVerifier(SiteVerifierConfig{Secret: "s3cret", VerifyURL: srv.URL, Policy: Policy{AllowedActions: []string{"submit_waitlist"}}})
	a, err := v.Verify(context.Background(), "tok")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if a.Hostname != "example.com" || a.Score != 0.9 {
		t.Fatalf("assessment=%+v", a)
	}
}

func TestSiteVerifier_BackendFaultIs500(t *testing.T) {
	srv, _ := siteverify(t, 502, map[string]string{"oops": "x"})
	v := NewSiteVerifier(SiteVerifierConfig{Secret: "s3cret", VerifyURL: srv.URL})
	_, err := v.Verify(context.Background(), "tok")
	if r := rejection(t, err); r.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("status=%d", r.StatusCode())
	}
}

func TestProxyVerifier_MapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req proxyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Token == "good" {
			_ = json.NewEncoder(w).Encode(Assessment{Success: true, Score: 0.8, Action: "submit_waitlist"})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "score too low", "score": 0.2})
	}))
	defer srv.Close()
	p := NewProxyVerifier(srv.URL, nil)
	if _, err := p.Verify(context.Background(), "good"); err != nil {
		t.Fatalf("good token: %v", err)
	}
	_, err := p.Verify(context.Background(), "bad")
	r := rejection(t, err)
	if r.StatusCode() != http.StatusForbidden || r.Reason != ReasonScoreTooLow {
		t.Fatalf("got %+v", r)
	}
}

func TestLoader_InitialisesOnceAndFailureIsSticky(t *testing.T) {
	var inits atomic.Int32
	l := NewLoader(func(context.Context) (TokenSource, error) {
		inits.Add(1)
		return TokenSourceFunc(func(_ context.Context, action string) (string, error) { return "tok-" + action, nil }), nil
	})
	for i := 0; i < 3; i++ {
		tok, err := l.Token(context.Background(), DefaultAction)
		if err != nil || tok != "tok-submit_waitlist" {
			t.Fatalf("token=%q err=%v", tok, err)
		}
	}
	if inits.Load() != 1 {
		t.Fatalf("init ran %d times", inits.Load())
	}

	bad := NewLoader(func(context.Context) (TokenSource, error) { inits.Add(1); return nil, errors.New("blocked") })
	for i := 0; i < 2; i++ {
		if _, err := bad.Token(context.Background(), DefaultAction); !IsLoadFailure(err) {
			t.Fatalf("expected load failure, got %v", err)
		}
	}
	if inits.Load() != 2 {
		t.Fatalf("failed init should not be retried, inits=%d", inits.Load())
	}
}

func TestShared_ReturnsSameLoader(t *testing.T) {
	a := Shared("test-key", nil)
	b := Shared("test-key", func(context.Context) (TokenSource, error) { return StaticTokenSource("x"), nil })
	if a != b {
		t.Fatalf("shared loaders differ")
	}
}

func TestStaticTokenSource_Empty(t *testing.T) {
	if _, err := StaticTokenSource("").Token(context.Background(), DefaultAction); !IsLoadFailure(err) {
		t.Fatalf("expected load failure, got %v", err)
	}
}
