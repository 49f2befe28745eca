package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/user/taxprep/internal/config"
	"github.com/user/taxprep/internal/conversation"
	"github.com/user/taxprep/internal/dateparse"
	"github.com/user/taxprep/internal/delivery"
	"github.com/user/taxprep/internal/gateway"
	"github.com/user/taxprep/internal/metrics"
	"github.com/user/taxprep/internal/ruleset"
	"github.com/user/taxprep/internal/runtime"
	"github.com/user/taxprep/internal/scheduler"
	"github.com/user/taxprep/internal/state"
	"github.com/user/taxprep/internal/types"
)

// app is the transport-independent core shared by serve and chat.
type app struct {
	cfg       *config.Config
	rules     *ruleset.Ruleset
	sessions  *state.SessionStore
	machine   *conversation.Machine
	runtime   *runtime.Runtime
	gateway   *gateway.Gateway
	delivery  *delivery.Registry
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Reminders.Notify {
		if err := scheduler.ValidateSchedule(cfg.Reminders.CheckSchedule); err != nil {
			return nil, fmt.Errorf("config: reminders.check_schedule: %w", err)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	rules, err := ruleset.Load(cfg.Matcher.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	sessions, err := state.NewSessionStore(cfg.Sessions.MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)

	machine := conversation.New(rules, dateparse.New(dateparse.WithLocation(loc)),
		conversation.WithThreshold(cfg.Matcher.Threshold),
		conversation.WithDebug(cfg.Matcher.Debug),
		conversation.WithObserver(m),
	)

	gw := gateway.New(sessions, gateway.WithConcurrency(cfg.MaxConcurrent))
	metrics.WatchQueue(reg, gw.Queue.Stats)
	deliveryReg := delivery.NewRegistry(gw.Retry())

	rtOpts := []runtime.Option{
		runtime.WithRunObserver(m),
		runtime.WithClock(func() time.Time { return time.Now().In(loc) }),
		runtime.WithDefaultTime(cfg.Reminders.DefaultTime),
	}
	if cfg.Reminders.Notify {
		rtOpts = append(rtOpts, runtime.WithNotifier(deliveryReg))
	}
	rt := runtime.New(machine, sessions, rtOpts...)
	gw.Queue.SetProcessor(rt.ProcessRun)

	a := &app{
		cfg:      cfg,
		rules:    rules,
		sessions: sessions,
		machine:  machine,
		runtime:  rt,
		gateway:  gw,
		delivery: deliveryReg,
		registry: reg,
	}
	if cfg.Reminders.Notify {
		a.scheduler = scheduler.New(cfg.Reminders.CheckSchedule, sessions, func(ctx context.Context, id types.SessionID, ev *types.InboundEvent) error {
			return gw.HandleSession(ctx, id, ev)
		})
	}
	return a, nil
}

// start launches the gateway workers and, when enabled, the reminder checks.
func (a *app) start(ctx context.Context) error {
	a.gateway.Start(ctx)
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			a.gateway.Stop()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	return nil
}

func (a *app) stop() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.gateway.Stop()
}
