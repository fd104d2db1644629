// Package app wires the messengerq components together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkrv/messengerq/internal/api"
	"github.com/mkrv/messengerq/internal/automation"
	"github.com/mkrv/messengerq/internal/config"
	"github.com/mkrv/messengerq/internal/engine"
	"github.com/mkrv/messengerq/internal/maintenance"
	"github.com/mkrv/messengerq/internal/messages"
	"github.com/mkrv/messengerq/internal/metrics"
	"github.com/mkrv/messengerq/internal/quota"
	"github.com/mkrv/messengerq/internal/store"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Store
	quota         *quota.Tracker
	engine        *engine.Engine
	messages      *messages.Provider
	sandbox       *automation.Sandbox
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	janitor       *maintenance.Janitor
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	profile, err := s.EnsureDefaultProfile(store.ProfileDefaults{
		Nickname:   cfg.Profile.Nickname,
		DailyLimit: cfg.Profile.DailyLimit,
		Timezone:   cfg.Profile.Timezone,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to ensure default profile: %w", err)
	}
	logger.Info("active profile",
		"profile_id", profile.ID,
		"nickname", profile.Nickname,
		"daily_limit", profile.DailyLimit,
		"timezone", profile.Timezone,
	)

	tracker := quota.New(s, quota.Policy(cfg.Engine.QuotaPolicy))

	provider, err := messages.NewProvider(cfg.Messages.Path, logger.With("component", "messages"))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load message templates: %w", err)
	}
	logger.Info("message templates loaded", "count", provider.Count(), "path", cfg.Messages.Path)

	// The sandbox backend is the only in-process automation. A real browser
	// backend would plug in here behind the same PageAutomation interface.
	sandbox := automation.NewSandbox(logger.With("component", "sandbox"))
	runner := automation.NewRunner(sandbox, automation.RunnerConfig{
		ChatURLFormat: cfg.Automation.ChatURLFormat,
		PageLoadWait:  cfg.Automation.PageLoadWait,
		SendWait:      cfg.Automation.SendWait,
	}, logger.With("component", "runner"))

	eng := engine.New(s, tracker, runner, provider, engine.Config{
		ProfileID:        profile.ID,
		RetryMaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseBackoff:      cfg.Engine.BaseBackoff,
		BackoffCap:       cfg.Engine.BackoffCap,
		SendDelay:        cfg.Engine.SendDelay,
		RetryPoll:        cfg.Engine.RetryPoll,
		StaleAfter:       cfg.Engine.StaleAfter,
		Heartbeat:        cfg.Engine.Heartbeat,
	}, logger.With("component", "engine"))

	apiServer := api.NewServer(s, tracker, eng, sandbox, &cfg.API, logger.With("component", "api"))

	app := &App{
		config:    cfg,
		store:     s,
		quota:     tracker,
		engine:    eng,
		messages:  provider,
		sandbox:   sandbox,
		apiServer: apiServer,
		logger:    logger,
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		app.collector = metrics.NewCollector(m,
			&storeStats{store: s, engine: eng},
			&quotaStats{tracker: tracker, engine: eng},
			cfg.Storage.Path,
			cfg.Metrics.FlushInterval,
		)
		app.metricsServer = metrics.NewServer(m,
			cfg.Metrics.ListenAddr,
			cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs,
			logger.With("component", "metrics"),
		)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	app.janitor = maintenance.NewJanitor(s, maintenance.Config{
		EventsMaxAge:  cfg.Maintenance.EventsMaxAge,
		PruneSchedule: cfg.Maintenance.PruneSchedule,
	}, logger.With("component", "maintenance"))
	app.janitor.OnMidnight(app.logQuotaRollover)

	return app, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting messengerq",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := a.engine.Run(engineCtx); err != nil && engineCtx.Err() == nil {
			a.logger.Error("engine exited", "error", err)
		}
	}()

	go a.consumeNotifications(ctx)

	if a.config.Messages.Watch {
		go func() {
			if err := a.messages.Watch(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("message template watcher failed", "error", err)
			}
		}()
	}

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	if err := a.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.shutdown(engineCancel, engineDone)
}

// shutdown stops the components in dependency order and closes the store
// last so everything can still persist state on the way down.
func (a *App) shutdown(engineCancel context.CancelFunc, engineDone chan struct{}) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	engineCancel()
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("engine did not stop before shutdown deadline")
	}

	if a.collector != nil {
		a.collector.Stop()
	}

	a.janitor.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// consumeNotifications drains the engine notification stream. The stream
// exists for UI consumers; without one attached we log state changes and
// send results at debug level so the channel never fills up.
func (a *App) consumeNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-a.engine.Notifications():
			if !ok {
				return
			}
			a.logger.Debug("engine notification",
				"kind", n.Kind,
				"state", n.State,
				"recipient", n.RecipientID,
				"disposition", n.Disposition,
				"code", n.Code,
			)
		}
	}
}

// logQuotaRollover logs each profile's quota position at server-local
// midnight. Profiles in other timezones roll over at their own midnight;
// the quota tracker handles that, this is operator-facing logging only.
func (a *App) logQuotaRollover() {
	profiles, err := a.store.ListProfiles()
	if err != nil {
		a.logger.Error("failed to list profiles for quota rollover", "error", err)
		return
	}
	for _, p := range profiles {
		st, err := a.quota.Status(p.ID, time.Now())
		if err != nil {
			a.logger.Error("failed to read quota", "profile_id", p.ID, "error", err)
			continue
		}
		a.logger.Info("daily quota status",
			"profile_id", p.ID,
			"nickname", p.Nickname,
			"day", st.Day,
			"remaining", st.Remaining,
			"limit", st.Limit,
		)
	}
}

// storeStats adapts the recipient store to the metrics collector.
type storeStats struct {
	store  *store.Store
	engine *engine.Engine
}

func (s *storeStats) RecipientStats(ctx context.Context) (metrics.RecipientStats, error) {
	counts, err := s.store.Counts(s.engine.ProfileID())
	if err != nil {
		return nil, err
	}
	stats := make(metrics.RecipientStats, len(counts))
	for status, n := range counts {
		stats[string(status)] = n
	}
	return stats, nil
}

// quotaStats adapts the quota tracker to the metrics collector.
type quotaStats struct {
	tracker *quota.Tracker
	engine  *engine.Engine
}

func (q *quotaStats) QuotaSnapshot(ctx context.Context) (int, int, error) {
	st, err := q.tracker.Status(q.engine.ProfileID(), time.Now())
	if err != nil {
		return 0, 0, err
	}
	return st.Remaining, st.Limit, nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
