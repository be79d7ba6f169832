// Command waitlistd serves waitlist form sessions and the same-origin
// registration, CAPTCHA and webhook proxies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"waitlist/internal/config"
)

func main() {
	// Graceful shutdown (Ctrl+C / SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	logLevel    string
	addr        string
	corsOrigins string
}

func newRootCmd() *cobra.Command {
	f := &flags{configPath: os.Getenv("WAITLIST_CONFIG")}
	root := &cobra.Command{
		Use:           "waitlistd",
		Short:         "Waitlist signup service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", f.configPath, "Config file (.yaml, .yml, .json, .toml); defaults WAITLIST_CONFIG")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg.Log))
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080 (overrides config)")
	serve.Flags().StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")

	validate := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %d field(s), registration=%s, captcha=%t, %d webhook(s)\n",
				len(cfg.Form.Fields), cfg.Registration.Mode, cfg.Captcha.Enabled, len(cfg.Webhooks.Endpoints))
			return nil
		},
	}

	root.AddCommand(serve, validate)
	// Bare invocation serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// resolve loads the config and applies command-line overrides.
func (f *flags) resolve() (config.Config, error) {
	cfg, err := config.Resolve(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if origins := splitCSV(f.corsOrigins); len(origins) > 0 {
		cfg.Server.CORS.Enabled = true
		cfg.Server.CORS.AllowedOrigins = origins
	}
	return cfg, nil
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if lc.Format == "console" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(lvl).With().Timestamp().Str("svc", "waitlistd").Logger()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
