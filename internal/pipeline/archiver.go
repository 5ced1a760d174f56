// Package pipeline schedules background data jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// Archiver copies newly closed positions to cold storage on a schedule.
// Each run covers the window since the previous successful run; the first
// run covers all history.
type Archiver struct {
	blobArchiver domain.Archiver
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		logger:       logger.With(slog.String("component", "archiver")),
		now:          time.Now,
	}
}

// Run executes a single archive run. The watermark only advances when the
// upload succeeds, so a failed window is retried next time.
func (a *Archiver) Run(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	since := a.lastRun
	until := a.now().UTC()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("since", since),
		slog.Time("until", until),
	)

	n, err := a.blobArchiver.ArchiveClosedPositions(ctx, since, until)
	if err != nil {
		return fmt.Errorf("pipeline: archive closed positions: %w", err)
	}
	a.lastRun = until

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("closed_positions", n))
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule (UTC) until
// ctx is cancelled. Overlapping runs are skipped.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("pipeline: parse cron expression %q: %w", cronExpr, err)
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(cronExpr, func() {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: schedule archive: %w", err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
