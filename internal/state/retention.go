package state

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls the retention janitor.
type RetentionConfig struct {
	// Schedule is a standard five-field cron expression. Default: hourly.
	Schedule string
	// MaxAge is how long finished plans are kept. Default: 30 days.
	MaxAge time.Duration
	// KeepMin plans are always retained regardless of age. Default: 20.
	KeepMin int
}

func (c RetentionConfig) schedule() string {
	if c.Schedule != "" {
		return c.Schedule
	}
	return "0 * * * *"
}

func (c RetentionConfig) maxAge() time.Duration {
	if c.MaxAge > 0 {
		return c.MaxAge
	}
	return 30 * 24 * time.Hour
}

func (c RetentionConfig) keepMin() int {
	if c.KeepMin > 0 {
		return c.KeepMin
	}
	return 20
}

// Janitor prunes stale plans and execution records on a cron schedule.
type Janitor struct {
	store    *Store
	config   RetentionConfig
	schedule cron.Schedule
	logger   *slog.Logger
}

// NewJanitor creates a retention janitor. The schedule expression is
// validated here so a bad config fails at boot.
func NewJanitor(store *Store, cfg RetentionConfig, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	schedule, err := cron.ParseStandard(cfg.schedule())
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", cfg.schedule(), err)
	}
	return &Janitor{store: store, config: cfg, schedule: schedule, logger: logger}, nil
}

// Start begins the janitor loop. Returns a cancel function.
func (j *Janitor) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		j.logger.InfoContext(ctx, "retention janitor started",
			slog.String("schedule", j.config.schedule()),
			slog.Duration("max_age", j.config.maxAge()),
		)
		for {
			next := j.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				j.logger.Info("retention janitor stopped")
				return
			case <-timer.C:
				j.run(ctx)
			}
		}
	}()

	return cancel
}

func (j *Janitor) run(ctx context.Context) {
	removed, err := j.store.PruneExecutions(ctx, j.config.maxAge(), j.config.keepMin())
	if err != nil {
		j.logger.ErrorContext(ctx, "retention prune failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "retention prune completed",
			slog.Int("removed", removed),
		)
	}
}
