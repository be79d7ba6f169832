package httpapi

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("WAITLIST_REQUEST_LOG"))

// SetRequestLogLevel overrides the default per-request log level.
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logOutcome reports the end of a handled request. Server errors log at
// LevelError and above, everything else at LevelInfo.
func logOutcome(r *http.Request, op string, status int, start time.Time, err error) {
	lvl := requestLogLevel(r)
	if lvl < LevelInfo && !(lvl >= LevelError && status >= 500) {
		return
	}
	if zlog != nil {
		ev := zlog.Info()
		if status >= 500 {
			ev = zlog.Error()
		}
		ev = ev.Str("op", op).Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("request end")
		return
	}
	log.Printf("%s end status=%d dur=%s err=%v", op, status, time.Since(start), err)
}
