// Package maintenance runs scheduled housekeeping over the recipient store.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner removes audit events older than maxAge.
type Pruner interface {
	PruneEvents(maxAge time.Duration) (int, error)
}

// Config contains maintenance settings
type Config struct {
	EventsMaxAge  time.Duration
	PruneSchedule string
}

// Janitor prunes old audit events on a cron schedule.
type Janitor struct {
	store    Pruner
	cfg      Config
	logger   *slog.Logger
	cron     *cron.Cron
	midnight []func()
}

// NewJanitor creates a janitor for the given store
func NewJanitor(store Pruner, cfg Config, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:  store,
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
	}
}

// OnMidnight registers a job that runs at server-local midnight. Must be
// called before Start.
func (j *Janitor) OnMidnight(fn func()) {
	j.midnight = append(j.midnight, fn)
}

// Start registers the jobs and starts the scheduler. The first prune runs
// immediately so a long-stopped instance catches up on start.
func (j *Janitor) Start() error {
	if j.cfg.EventsMaxAge > 0 {
		if _, err := j.cron.AddFunc(j.cfg.PruneSchedule, j.runPrune); err != nil {
			return err
		}
		j.runPrune()
	} else {
		j.logger.Info("event pruning disabled")
	}

	for _, fn := range j.midnight {
		if _, err := j.cron.AddFunc("@midnight", fn); err != nil {
			return err
		}
	}

	j.cron.Start()

	j.logger.Info("maintenance started",
		"events_max_age", j.cfg.EventsMaxAge,
		"prune_schedule", j.cfg.PruneSchedule,
	)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("maintenance stopped")
}

func (j *Janitor) runPrune() {
	pruned, err := j.store.PruneEvents(j.cfg.EventsMaxAge)
	if err != nil {
		j.logger.Error("failed to prune events", "error", err)
		return
	}
	if pruned > 0 {
		j.logger.Info("pruned old events", "count", pruned, "max_age", j.cfg.EventsMaxAge)
	}
}
