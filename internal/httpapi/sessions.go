package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"waitlist/internal/pipeline"
	"waitlist/internal/security"
	"waitlist/internal/session"
	"waitlist/internal/validate"
	"waitlist/pkg/types"
)

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.cfg.Sessions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "sessions disabled")
		return nil, false
	}
	sess, err := s.cfg.Sessions.Get(chi.URLParam(r, "id"))
	if errors.Is(err, session.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return sess, true
}

// createSession mounts a form instance and emits its view notification.
func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "sessions disabled")
		return
	}
	sess := s.cfg.Sessions.Create()
	o := sess.Orchestrator
	o.Mount()
	specs := o.Fields()
	fields := make([]types.FieldInfo, 0, len(specs))
	for _, f := range specs {
		fields = append(fields, types.FieldInfo{
			Name:     f.Name,
			Kind:     string(f.Kind),
			Label:    f.Label,
			Required: f.Required,
			Options:  f.Options,
		})
	}
	writeJSON(w, http.StatusCreated, types.SessionResponse{
		SessionID:     sess.ID,
		HoneypotField: o.SubmissionContext().HoneypotFieldName,
		HiddenAttrs:   security.HiddenFieldAttrs(),
		Fields:        fields,
		Captcha:       s.cfg.Captcha,
	})
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil || !s.cfg.Sessions.Delete(chi.URLParam(r, "id")) {
		writeJSONError(w, http.StatusNotFound, session.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) focus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req types.FocusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess.Orchestrator.Focus(req.Field)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req types.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	values, err := validate.ValuesFromMap(req.Values)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	o := sess.Orchestrator
	out := o.Submit(r.Context(), values, pipeline.Extras{HoneypotValue: req.Honeypot, CaptchaToken: req.CaptchaToken})
	status, body := s.render(o.State(), out)
	logOutcome(r, "submit", status, start, failureErr(out))
	writeJSON(w, status, body)
}

// render maps an outcome onto the response body. A suppressed submission is
// indistinguishable from a real success.
func (s *server) render(state pipeline.State, out pipeline.Outcome) (int, types.SubmitResponse) {
	resp := types.SubmitResponse{State: string(state), Result: string(out.Rendered())}
	switch o := out.(type) {
	case pipeline.Success:
		resp.Message = s.cfg.SuccessMessage
		resp.ID = o.Record.ID
		return http.StatusOK, resp
	case pipeline.Suppressed:
		resp.State = string(pipeline.StateSucceeded)
		resp.Message = s.cfg.SuccessMessage
		resp.ID = uuid.NewString()
		return http.StatusOK, resp
	case pipeline.Failure:
		resp.Message = o.Message
		return http.StatusOK, resp
	case pipeline.Invalid:
		resp.FieldErrors = o.Fields
		return http.StatusUnprocessableEntity, resp
	case pipeline.Ignored:
		resp.Message = "submission " + o.Reason
		return http.StatusConflict, resp
	}
	return http.StatusInternalServerError, resp
}

func failureErr(out pipeline.Outcome) error {
	if f, ok := out.(pipeline.Failure); ok {
		return f.Err
	}
	return nil
}
