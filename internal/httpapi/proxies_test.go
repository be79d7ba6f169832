package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"waitlist/internal/captcha"
	"waitlist/internal/events"
	"waitlist/internal/registration"
	"waitlist/internal/webhook"
	"waitlist/pkg/types"
)

type mockContacts struct {
	got      registration.Contact
	audience string
	err      error
}

func (m *mockContacts) Create(_ context.Context, audienceID string, c registration.Contact) (registration.Record, error) {
	m.got, m.audience = c, audienceID
	if m.err != nil {
		return registration.Record{}, m.err
	}
	return registration.Record{ID: "c_1", Email: c.Email, AudienceID: audienceID, Fields: c.Attributes}, nil
}

func TestRegisterProxy_Success(t *testing.T) {
	mc := &mockContacts{}
	h := NewMux(Config{Contacts: mc})
	w := postJSON(t, h, "/api/register", registration.ProxyRequest{
		AudienceID: "aud_1",
		Email:      "user@example.com",
		Fields:     map[string]any{"first_name": "Ada", "plan": "pro"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["id"] != "c_1" || body["audienceId"] != "aud_1" || body["plan"] != "pro" {
		t.Fatalf("body=%v", body)
	}
	if mc.got.FirstName != "Ada" || mc.audience != "aud_1" {
		t.Fatalf("contact=%+v", mc.got)
	}
}

func TestRegisterProxy_Errors(t *testing.T) {
	cases := []struct {
		name  string
		email string
		err   error
		code  int
		msg   string
	}{
		{"bad email", "nope", nil, http.StatusBadRequest, "a valid email is required"},
		{"rejected", "user@example.com", &registration.RejectedError{Status: 422, Message: "Invalid email"}, http.StatusBadRequest, "Invalid email"},
		{"fault", "user@example.com", &registration.FaultError{Status: 503, Message: "maintenance"}, http.StatusInternalServerError, "maintenance"},
		{"network", "user@example.com", &registration.NetworkError{Err: errors.New("dial")}, http.StatusInternalServerError, "registration backend unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMux(Config{Contacts: &mockContacts{err: tc.err}})
			w := postJSON(t, h, "/api/register", registration.ProxyRequest{Email: tc.email})
			var er types.ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &er)
			if w.Code != tc.code || er.Error != tc.msg {
				t.Fatalf("status=%d error=%q", w.Code, er.Error)
			}
		})
	}
}

type verifierFunc func(ctx context.Context, token string) (captcha.Assessment, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (captcha.Assessment, error) {
	return f(ctx, token)
}

func TestCaptchaProxy_StatusMapping(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		a := captcha.Assessment{Success: true, Score: 0.9, Action: "submit_waitlist", Hostname: "example.com"}
		switch r.PostForm.Get("response") {
		case "low":
			a.Score = 0.2
		case "bad":
			a = captcha.Assessment{Success: false, ErrorCodes: []string{"invalid-input-response"}}
		}
		_ = json.NewEncoder(w).Encode(a)
	}))
	defer backend.Close()
	v := captcha.NewSiteVerifier(captcha.SiteVerifierConfig{Secret: "s", VerifyURL: backend.URL, Policy: captcha.Policy{MinScore: 0.5}})
	h := NewMux(Config{Verifier: v})

	cases := []struct {
		token string
		code  int
	}{
		{"good", http.StatusOK},
		{"", http.StatusBadRequest},
		{"bad", http.StatusBadRequest},
		{"low", http.StatusForbidden},
	}
	for _, tc := range cases {
		w := postJSON(t, h, "/api/captcha/verify", types.CaptchaVerifyRequest{Token: tc.token})
		var resp types.CaptchaVerifyResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != tc.code {
			t.Fatalf("token %q: status=%d body=%s", tc.token, w.Code, w.Body.String())
		}
		if (tc.code == http.StatusOK) != resp.Success {
			t.Fatalf("token %q: success=%v", tc.token, resp.Success)
		}
		if tc.token == "bad" && (len(resp.ErrorCodes) != 1 || resp.Error == "") {
			t.Fatalf("backend detail not passed through: %+v", resp)
		}
		if tc.token == "low" && resp.Error != captcha.ReasonScoreTooLow {
			t.Fatalf("error=%q", resp.Error)
		}
	}
}

func TestCaptchaProxy_UnexpectedError(t *testing.T) {
	h := NewMux(Config{Verifier: verifierFunc(func(context.Context, string) (captcha.Assessment, error) {
		return captcha.Assessment{}, errors.New("boom")
	})})
	w := postJSON(t, h, "/api/captcha/verify", types.CaptchaVerifyRequest{Token: "t"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestWebhookProxy_PassesResponseThrough(t *testing.T) {
	var gotHeader string
	var gotPayload webhook.Payload
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "queued")
	}))
	defer dest.Close()
	h := NewMux(Config{Forwarder: webhook.NewForwarder(nil, nil, zerolog.Nop())})
	w := postJSON(t, h, "/api/webhook-proxy", webhook.ProxyRequest{
		Destination: dest.URL,
		Headers:     map[string]string{"X-Token": "secret"},
		Payload:     webhook.Payload{Event: events.KindSuccess, FormID: "f"},
	})
	if w.Code != http.StatusAccepted || w.Body.String() != "queued" || w.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if gotHeader != "secret" || gotPayload.FormID != "f" {
		t.Fatalf("forwarded header=%q payload=%+v", gotHeader, gotPayload)
	}
}

func TestWebhookProxy_Errors(t *testing.T) {
	h := NewMux(Config{Forwarder: webhook.NewForwarder([]string{"allowed.example"}, nil, zerolog.Nop())})
	w := postJSON(t, h, "/api/webhook-proxy", webhook.ProxyRequest{Destination: "https://evil.example/hook"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("disallowed host status=%d", w.Code)
	}
	w = postJSON(t, h, "/api/webhook-proxy", webhook.ProxyRequest{Destination: "ftp://allowed.example/x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad scheme status=%d", w.Code)
	}
	h = NewMux(Config{Forwarder: webhook.NewForwarder(nil, nil, zerolog.Nop())})
	w = postJSON(t, h, "/api/webhook-proxy", webhook.ProxyRequest{Destination: "http://127.0.0.1:1/hook"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("unreachable status=%d", w.Code)
	}
}
