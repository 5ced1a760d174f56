package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/weatherbot/internal/config"
	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/pipeline"
	"github.com/alanyoungcy/weatherbot/internal/platform/polymarket"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
	"github.com/alanyoungcy/weatherbot/internal/runner"
	"github.com/alanyoungcy/weatherbot/internal/scorer"
	"github.com/alanyoungcy/weatherbot/internal/server"
	"github.com/alanyoungcy/weatherbot/internal/server/handler"
	"github.com/alanyoungcy/weatherbot/internal/server/ws"
)

// core is the decision engine shared by every mode.
type core struct {
	scorer    *scorer.Scorer
	portfolio *portfolio.Portfolio
	runner    *runner.Runner
}

// FullMode runs the engine, the archive job and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, a.cfg.Server.Enabled)
}

// HeadlessMode runs the engine and the archive job without the HTTP server.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode")
	return a.run(ctx, deps, false)
}

func (a *App) run(ctx context.Context, deps *Dependencies, withServer bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		lock, err := deps.LockManager.Acquire(ctx, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: single-instance lock: %w", err)
		}
		a.closers = append(a.closers, lock.Release)
		g.Go(func() error {
			return a.holdLock(ctx, lock, a.cfg.Redis.LockTTL.Duration)
		})
	}

	c := a.buildCore(deps)

	if err := c.portfolio.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "portfolio restore failed, starting fresh",
			slog.String("error", err.Error()),
		)
	}

	goEngine(ctx, g, c.portfolio.Run, func(ctx context.Context) error {
		return c.runner.Run(ctx, a.cfg.Runner.AutoStart)
	})

	a.startArchiveJob(ctx, g, deps)

	if withServer {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// goEngine runs the persistence journal and the runner in g. The journal's
// context ends only after the runner has returned, so writes queued by the
// final cycle are still applied.
func goEngine(ctx context.Context, g *errgroup.Group, journal, engine func(context.Context) error) {
	journalCtx, stopJournal := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		return journal(journalCtx)
	})
	g.Go(func() error {
		defer stopJournal()
		return engine(ctx)
	})
}

func (a *App) buildCore(deps *Dependencies) *core {
	sc := scorer.New(scorer.Config{
		VolumeHigh: a.cfg.Scoring.VolumeHigh,
		VolumeMid:  a.cfg.Scoring.VolumeMid,
		VolumeLow:  a.cfg.Scoring.VolumeLow,
		HistoryTTL: a.cfg.Scoring.HistoryTTL.Duration,
		MaxHistory: a.cfg.Scoring.MaxHistory,
		UTCOffsets: a.cfg.Cities.UTCOffsets,
	}, a.logger)

	var opts []portfolio.Option
	if deps.PortfolioStore != nil {
		opts = append(opts, portfolio.WithStore(deps.PortfolioStore))
	}
	if deps.Snapshots != nil {
		opts = append(opts, portfolio.WithSnapshotUploader(deps.Snapshots))
	}
	pf := portfolio.New(portfolio.Config{
		InitialCapital:    a.cfg.Portfolio.InitialCapital,
		MaxPositions:      a.cfg.Portfolio.MaxPositions,
		MaxRegionExposure: a.cfg.Portfolio.MaxRegionExposure,
		TakeProfit:        a.cfg.Entry.TakeProfit,
		Regions:           a.cfg.Cities.Regions,
		HistoryCap:        a.cfg.Portfolio.HistoryCap,
		CheckpointEvery:   a.cfg.Portfolio.CheckpointEvery,
	}, a.logger, opts...)

	clientOpts := polymarket.ClientOptions{
		Timeout:           a.cfg.Polymarket.HTTPTimeout.Duration,
		RequestsPerSecond: a.cfg.Polymarket.RequestsPerSecond,
		Burst:             a.cfg.Polymarket.Burst,
	}
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost, clientOpts, polymarket.ScanConfig{
		TagSlug:      a.cfg.Discovery.TagSlug,
		EventLimit:   a.cfg.Discovery.EventLimit,
		MinYesPrice:  a.cfg.Discovery.MinYesPrice,
		MaxYesPrice:  a.cfg.Discovery.MaxYesPrice,
		MinVolume:    a.cfg.Discovery.MinVolume,
		DaysAhead:    a.cfg.Discovery.DaysAhead,
		MinLocalHour: a.cfg.Discovery.MinLocalHour,
		Cities:       a.cfg.Discovery.Cities,
		UTCOffsets:   a.cfg.Cities.UTCOffsets,
	}, a.logger)
	clob := polymarket.NewPriceClient(a.cfg.Polymarket.ClobHost, clientOpts)

	rdeps := runner.Deps{
		Scorer:    sc,
		Portfolio: pf,
		Discovery: gamma,
		Prices:    clob,
		Fallback:  gamma,
		Metrics:   deps.Metrics,
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		rdeps.Notifier = deps.Notifier
	}
	if deps.AuditStore != nil {
		rdeps.Audit = deps.AuditStore
	}
	if deps.QuoteCache != nil {
		rdeps.Quotes = deps.QuoteCache
	}

	return &core{
		scorer:    sc,
		portfolio: pf,
		runner:    runner.New(runnerConfig(a.cfg), rdeps, a.logger),
	}
}

func runnerConfig(cfg *config.Config) runner.Config {
	band := func(b config.BandConfig) runner.Band {
		return runner.Band{MinYes: b.MinYesPrice, MaxYes: b.MaxYesPrice, MinScore: b.MinScore}
	}
	return runner.Config{
		CycleInterval:      cfg.Runner.CycleInterval.Duration,
		RefreshInterval:    cfg.Runner.RefreshInterval.Duration,
		Weekday:            band(cfg.Entry.Weekday),
		Weekend:            band(cfg.Entry.Weekend),
		WeekendEnabled:     cfg.Entry.WeekendEnabled,
		MinFraction:        cfg.Sizing.MinFraction,
		MaxFraction:        cfg.Sizing.MaxFraction,
		MaxPositions:       cfg.Portfolio.MaxPositions,
		VerifyFloor:        cfg.Runner.VerifyFloor,
		DiscoveryBreaker:   cfg.Runner.DiscoveryBreaker,
		RepriceBreaker:     cfg.Runner.RepriceBreaker,
		InvertedPriceAbove: cfg.Runner.InvertedPriceAbove,
		DisplayLimit:       cfg.Runner.DisplayLimit,
		HighScore:          cfg.Runner.HighScore,
	}
}

// holdLock refreshes the lock at a third of its TTL. Losing it stops the
// application.
func (a *App) holdLock(ctx context.Context, lock domain.Lock, ttl time.Duration) error {
	interval := ttl / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.ErrorContext(ctx, "lost single-instance lock", slog.String("error", err.Error()))
				return fmt.Errorf("app: refresh lock: %w", err)
			}
		}
	}
}

func (a *App) startArchiveJob(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || a.cfg.Pipeline.ArchiveCron == "" {
		a.logger.InfoContext(ctx, "archive job disabled")
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Pipeline.ArchiveCron)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(func() any { return c.runner.Status() }, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx, a.cfg.Server.StatusPushInterval.Duration)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks),
		Bot:     handler.NewBotHandler(c.runner, c.scorer, c.portfolio, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
