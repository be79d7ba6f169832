package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"waitlist/internal/validate"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml. Unset values stay zero.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := expandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Resolve builds the effective configuration: the optional file, then
// defaults for anything unset, then WAITLIST_* environment overrides. A .env
// file next to the working directory is loaded first when present.
func Resolve(path string) (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides deployment-specific values and secrets from the
// environment. lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("WAITLIST_ADDR", &c.Server.Addr)
	str("WAITLIST_LOG_LEVEL", &c.Log.Level)
	str("WAITLIST_LOG_FORMAT", &c.Log.Format)
	str("WAITLIST_REGISTRATION_API_KEY", &c.Registration.APIKey)
	str("WAITLIST_REGISTRATION_AUDIENCE_ID", &c.Registration.AudienceID)
	str("WAITLIST_REGISTRATION_BASE_URL", &c.Registration.BaseURL)
	str("WAITLIST_CAPTCHA_SECRET", &c.Captcha.Secret)
	str("WAITLIST_CAPTCHA_SITE_KEY", &c.Captcha.SiteKey)
	if v, ok := lookup("WAITLIST_CAPTCHA_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: WAITLIST_CAPTCHA_ENABLED: %w", err)
		}
		c.Captcha.Enabled = b
	}
	if v, ok := lookup("WAITLIST_MIN_ELAPSED_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WAITLIST_MIN_ELAPSED_MS: %w", err)
		}
		c.Security.MinElapsedMS = n
	}
	if v, ok := lookup("WAITLIST_CAPTCHA_MIN_SCORE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: WAITLIST_CAPTCHA_MIN_SCORE: %w", err)
		}
		c.Captcha.MinScore = f
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, a ...any) { errs = append(errs, fmt.Errorf("config: "+format, a...)) }

	if c.Server.MaxBodyBytes <= 0 {
		bad("server.max_body_bytes must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		bad("log.format must be json or console, got %q", c.Log.Format)
	}

	if len(c.Form.Fields) == 0 {
		bad("form.fields must declare at least one field")
	}
	seen := map[string]bool{}
	emailField := false
	for i, f := range c.Form.Fields {
		if strings.TrimSpace(f.Name) == "" {
			bad("form.fields[%d]: name is required", i)
			continue
		}
		if seen[f.Name] {
			bad("form.fields[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case validate.KindText, validate.KindEmail, validate.KindSelect, validate.KindCheckbox:
		default:
			bad("form.fields[%d]: unknown kind %q", i, f.Kind)
		}
		if f.Name == c.Form.Mapping.EmailField {
			emailField = true
		}
	}
	if !emailField {
		bad("form.mapping.email_field %q does not name a declared field", c.Form.Mapping.EmailField)
	}

	if c.Security.MinElapsedMS < 0 {
		bad("security.min_elapsed_ms must not be negative")
	}

	if c.Captcha.Enabled {
		if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
			bad("captcha.min_score must be within [0,1]")
		}
		switch c.Captcha.Mode {
		case ModeDirect:
			if c.Captcha.Secret == "" {
				bad("captcha.secret is required in direct mode")
			}
		case ModeProxy:
			if !isHTTPURL(c.Captcha.ProxyURL) {
				bad("captcha.proxy_url must be an absolute http(s) URL")
			}
		default:
			bad("captcha.mode must be direct or proxy, got %q", c.Captcha.Mode)
		}
	}

	switch c.Registration.Mode {
	case ModeDirect:
		if c.Registration.APIKey == "" {
			bad("registration.api_key is required in direct mode")
		}
		if c.Registration.AudienceID == "" {
			bad("registration.audience_id is required in direct mode")
		}
	case ModeProxy:
		if !isHTTPURL(c.Registration.ProxyURL) {
			bad("registration.proxy_url must be an absolute http(s) URL")
		}
	default:
		bad("registration.mode must be direct or proxy, got %q", c.Registration.Mode)
	}

	switch c.Webhooks.Mode {
	case ModeDirect, ModeProxy:
	default:
		bad("webhooks.mode must be direct or proxy, got %q", c.Webhooks.Mode)
	}
	if c.Webhooks.ServeProxy && len(c.Webhooks.ProxyAllowedHosts) == 0 {
		bad("webhooks.proxy_allowed_hosts must not be empty when serve_proxy is set")
	}
	for i, s := range c.Webhooks.Endpoints {
		if !isHTTPURL(s.URL) {
			bad("webhooks.endpoints[%d]: url must be an absolute http(s) URL", i)
		}
		if len(s.Events) == 0 {
			bad("webhooks.endpoints[%d]: events must not be empty", i)
		}
		for _, k := range s.Events {
			if !k.Valid() {
				bad("webhooks.endpoints[%d]: unknown event %q", i, k)
			}
		}
		if s.MaxRetries < 0 {
			bad("webhooks.endpoints[%d]: max_retries must not be negative", i)
		}
	}
	return errors.Join(errs...)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")), nil
}
