package httpapi

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_HeaderOverride(t *testing.T) {
	SetRequestLogLevel("off")
	r := httptest.NewRequest("GET", "/x", nil)
	if got := requestLogLevel(r); got != LevelOff {
		t.Fatalf("default=%v", got)
	}
	r.Header.Set("X-Log-Level", "debug")
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestLogOutcome_UsesStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer func() { zlog = nil }()
	SetRequestLogLevel("error")
	defer SetRequestLogLevel("")

	r := httptest.NewRequest("POST", "/api/register", nil)
	logOutcome(r, "register", 200, time.Now(), nil)
	if buf.Len() != 0 {
		t.Fatalf("info line logged at error level: %s", buf.String())
	}
	logOutcome(r, "register", 500, time.Now(), errors.New("backend down"))
	out := buf.String()
	if !strings.Contains(out, `"status":500`) || !strings.Contains(out, "backend down") || !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("log=%s", out)
	}
}
