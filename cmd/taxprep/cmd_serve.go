package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/user/taxprep/internal/sources"
	"github.com/user/taxprep/internal/telegram"
	"github.com/user/taxprep/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taxprep daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	pf := newPIDFile(cfg.DataDir)
	if err := pf.write(); err != nil {
		return err
	}
	defer pf.remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	slog.Info("taxprep started",
		"events", a.rules.Len(),
		"threshold", cfg.Matcher.Threshold,
		"timezone", cfg.Timezone,
		"max_concurrent", cfg.MaxConcurrent,
		"notify", cfg.Reminders.Notify,
		"pid_file", string(pf),
	)

	fetcher := sources.NewFetcher()
	if err := startTelegram(ctx, a, fetcher); err != nil {
		return err
	}
	if cfg.HTTP.Enabled {
		shutdown := startHTTP(a, fetcher)
		defer shutdown()
	}
	return waitForSignal(pf)
}

// startTelegram runs the bot when a token is configured and routes due
// notifications for telegram sessions through it.
func startTelegram(ctx context.Context, a *app, fetcher *sources.Fetcher) error {
	if a.cfg.Telegram.Token == "" {
		slog.Warn("telegram disabled: no token")
		return nil
	}
	adapter, err := telegram.New(a.cfg.Telegram.Token, a.gateway, a.sessions, a.rules, telegram.WithSources(fetcher))
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}
	a.delivery.Register("telegram:", adapter.Deliver)
	go adapter.Start(ctx)
	slog.Info("telegram adapter started")
	return nil
}

// startHTTP serves the JSON API and /metrics. The returned func drains it.
func startHTTP(a *app, fetcher *sources.Fetcher) func() {
	api := webhook.NewServer(a.gateway, a.sessions, a.rules,
		webhook.WithRateLimit(a.cfg.HTTP.RateLimitRPM, a.cfg.HTTP.RateLimitBurst),
		webhook.WithMetrics(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
		webhook.WithSources(fetcher),
	)
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}
}

// waitForSignal blocks until SIGINT or SIGTERM. SIGHUP re-executes the
// binary in place so config and rules are read again.
func waitForSignal(pf pidFile) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for sig := range sigs {
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig.String())
			return nil
		}
		exe, err := os.Executable()
		if err != nil {
			slog.Error("restart: resolve executable", "error", err)
			continue
		}
		slog.Info("restarting", "exe", exe)
		pf.remove()
		if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
			slog.Error("restart: exec", "error", err)
			if werr := pf.write(); werr != nil {
				slog.Error("restart: rewrite PID file", "error", werr)
			}
		}
	}
	return nil
}
