package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"waitlist/internal/events"
	"waitlist/internal/validate"
	"waitlist/internal/webhook"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

var wantFields = []validate.FieldSpec{
	{Name: "email", Kind: validate.KindEmail, Label: "Email", Required: true},
	{Name: "role", Kind: validate.KindSelect, Label: "Role", Options: []string{"dev", "pm"}},
}

var wantHooks = []webhook.Spec{
	{URL: "https://hooks.example.com/a", Events: []events.Kind{events.KindSuccess, events.KindError}, Retry: true, MaxRetries: 2},
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `
server:
  addr: ":9999"
form:
  fields:
    - {name: email, kind: email, label: Email, required: true}
    - {name: role, kind: select, label: Role, options: [dev, pm]}
registration:
  api_key: re_123
  audience_id: aud_1
webhooks:
  endpoints:
    - url: https://hooks.example.com/a
      events: [success, error]
      retry: true
      max_retries: 2
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Registration.APIKey != "re_123" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if diff := cmp.Diff(wantFields, cfg.Form.Fields); diff != "" {
		t.Fatalf("fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantHooks, cfg.Webhooks.Endpoints); diff != "" {
		t.Fatalf("webhooks (-want +got):\n%s", diff)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{
  "server": {"addr": ":7070"},
  "form": {"fields": [
    {"name": "email", "kind": "email", "label": "Email", "required": true},
    {"name": "role", "kind": "select", "label": "Role", "options": ["dev", "pm"]}
  ]},
  "webhooks": {"endpoints": [{"url": "https://hooks.example.com/a", "events": ["success", "error"], "retry": true, "max_retries": 2}]}
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if diff := cmp.Diff(wantFields, cfg.Form.Fields); diff != "" {
		t.Fatalf("fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantHooks, cfg.Webhooks.Endpoints); diff != "" {
		t.Fatalf("webhooks (-want +got):\n%s", diff)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", `
[server]
addr = ":8081"

[[form.fields]]
name = "email"
kind = "email"
label = "Email"
required = true

[[form.fields]]
name = "role"
kind = "select"
label = "Role"
options = ["dev", "pm"]

[[webhooks.endpoints]]
url = "https://hooks.example.com/a"
events = ["success", "error"]
retry = true
max_retries = 2
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8081" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if diff := cmp.Diff(wantFields, cfg.Form.Fields); diff != "" {
		t.Fatalf("fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantHooks, cfg.Webhooks.Endpoints); diff != "" {
		t.Fatalf("webhooks (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	for name, body := range map[string]string{
		"bad.yaml": "server: [",
		"bad.json": "{",
		"bad.toml": "server = [",
	} {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.Security.MinElapsedMS = 500
	cfg.ApplyDefaults()
	if cfg.Server.Addr != ":8080" || cfg.Captcha.MinScore != 0.5 || cfg.Log.Format != "json" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Security.MinElapsed() != 500*time.Millisecond {
		t.Fatalf("explicit value overwritten: %v", cfg.Security.MinElapsed())
	}
	if cfg.Form.Mapping.FirstNameField != "first_name" || len(cfg.Form.Fields) != 1 {
		t.Fatalf("form defaults: %+v", cfg.Form)
	}
	g := cfg.Security.Gate()
	if !g.HoneypotEnabled || !g.TimingEnabled {
		t.Fatalf("checks should default on: %+v", g)
	}
}

func validConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	cfg.Registration.APIKey = "re_123"
	cfg.Registration.AudienceID = "aud_1"
	return cfg
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := map[string]func(*Config){
		"api_key":      func(c *Config) { c.Registration.APIKey = "" },
		"proxy_url":    func(c *Config) { c.Registration.Mode = ModeProxy },
		"email_field":  func(c *Config) { c.Form.Mapping.EmailField = "contact" },
		"unknown kind": func(c *Config) { c.Form.Fields = append(c.Form.Fields, validate.FieldSpec{Name: "x", Kind: "date"}) },
		"duplicate":    func(c *Config) { c.Form.Fields = append(c.Form.Fields, c.Form.Fields[0]) },
		"captcha.secret": func(c *Config) {
			c.Captcha.Enabled = true
		},
		"min_score": func(c *Config) {
			c.Captcha.Enabled, c.Captcha.Secret, c.Captcha.MinScore = true, "s", 1.5
		},
		"unknown event": func(c *Config) {
			c.Webhooks.Endpoints = []webhook.Spec{{URL: "https://h.example.com", Events: []events.Kind{"signup"}}}
		},
		"proxy_allowed_hosts": func(c *Config) {
			c.Webhooks.ServeProxy = true
		},
		"url must be": func(c *Config) {
			c.Webhooks.Endpoints = []webhook.Spec{{URL: "/relative", Events: []events.Kind{events.KindSuccess}}}
		},
	}
	allowed := validConfig()
	allowed.Webhooks.ServeProxy = true
	allowed.Webhooks.ProxyAllowedHosts = []string{"hooks.example.com"}
	if err := allowed.Validate(); err != nil {
		t.Fatalf("proxy with allow-list rejected: %v", err)
	}
	for want, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: err=%v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"WAITLIST_ADDR":                 ":1234",
		"WAITLIST_REGISTRATION_API_KEY": "re_env",
		"WAITLIST_CAPTCHA_ENABLED":      "true",
		"WAITLIST_CAPTCHA_SECRET":       "sec",
		"WAITLIST_CAPTCHA_MIN_SCORE":    "0.7",
		"WAITLIST_MIN_ELAPSED_MS":       "2000",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := validConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":1234" || cfg.Registration.APIKey != "re_env" || !cfg.Captcha.Enabled ||
		cfg.Captcha.Secret != "sec" || cfg.Captcha.MinScore != 0.7 || cfg.Security.MinElapsedMS != 2000 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	env["WAITLIST_CAPTCHA_ENABLED"] = "maybe"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestResolve_FileDefaultsEnv(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "registration:\n  audience_id: aud_file\n")
	t.Setenv("WAITLIST_REGISTRATION_API_KEY", "re_env")
	cfg, err := Resolve(p)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Registration.AudienceID != "aud_file" || cfg.Registration.APIKey != "re_env" || cfg.Server.Addr != ":8080" {
		t.Fatalf("cfg=%+v", cfg.Registration)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	got, err := expandHome("~/waitlist.yaml")
	if err != nil || got != "/home/tester/waitlist.yaml" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, _ := expandHome("/etc/waitlist.yaml"); got != "/etc/waitlist.yaml" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
