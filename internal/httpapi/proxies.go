package httpapi

import (
	"errors"
	"net/http"
	"time"

	"waitlist/internal/captcha"
	"waitlist/internal/registration"
	"waitlist/internal/validate"
	"waitlist/internal/webhook"
	"waitlist/pkg/types"
)

// registerProxy creates a contact on behalf of a caller without the
// credential: 200 with the record, 400 for rejected input, 500 otherwise.
func (s *server) registerProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.cfg.Contacts == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "registration proxy disabled")
		return
	}
	var req registration.ProxyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	contact := req.Contact()
	if !validate.IsEmail(contact.Email) {
		countProxy("register", http.StatusBadRequest)
		writeJSONError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	rec, err := s.cfg.Contacts.Create(ctx, req.AudienceID, contact)
	if err != nil {
		status, msg := http.StatusInternalServerError, "registration backend unavailable"
		switch {
		case registration.IsRejected(err):
			status, msg = http.StatusBadRequest, registration.UserMessage(err)
		case registration.IsFault(err):
			msg = registration.UserMessage(err)
		}
		countProxy("register", status)
		logOutcome(r, "register", status, start, err)
		writeJSONError(w, status, msg)
		return
	}
	countProxy("register", http.StatusOK)
	logOutcome(r, "register", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, rec)
}

// captchaProxy verifies a token with the secret: 200 accepted, 400
// structural failure, 403 policy rejection, 500 backend fault.
func (s *server) captchaProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.cfg.Verifier == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "captcha proxy disabled")
		return
	}
	var req types.CaptchaVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	a, err := s.cfg.Verifier.Verify(ctx, req.Token)
	resp := types.CaptchaVerifyResponse{
		Success:     a.Success,
		Score:       a.Score,
		Action:      a.Action,
		ChallengeTS: a.ChallengeTS,
		Hostname:    a.Hostname,
		ErrorCodes:  a.ErrorCodes,
	}
	status := http.StatusOK
	if err != nil {
		resp.Success = false
		var rej *captcha.Rejection
		if errors.As(err, &rej) {
			status = rej.StatusCode()
			resp.Error = rej.Reason
			if len(rej.Codes) > 0 {
				resp.ErrorCodes = rej.Codes
			}
		} else {
			status = http.StatusInternalServerError
			resp.Error = captcha.ReasonUnavailable
		}
	}
	countProxy("captcha", status)
	logOutcome(r, "captcha", status, start, err)
	writeJSON(w, status, resp)
}

// webhookProxy forwards one payload and returns the receiver's answer
// unmodified. It never retries.
func (s *server) webhookProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.cfg.Forwarder == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "webhook proxy disabled")
		return
	}
	var req webhook.ProxyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	res, err := s.cfg.Forwarder.Forward(ctx, req)
	if err != nil {
		status := statusOf(err, http.StatusBadGateway)
		msg := err.Error()
		if status == http.StatusBadGateway {
			msg = "destination unreachable"
		}
		countProxy("webhook", status)
		logOutcome(r, "webhook", status, start, err)
		writeJSONError(w, status, msg)
		return
	}
	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	countProxy("webhook", res.Status)
	logOutcome(r, "webhook", res.Status, start, nil)
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}
