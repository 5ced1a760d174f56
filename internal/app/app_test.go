package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/weatherbot/internal/config"
	"github.com/alanyoungcy/weatherbot/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLock struct {
	refreshes atomic.Int32
	failAfter int32
}

func (l *fakeLock) Refresh(context.Context) error {
	if n := l.refreshes.Add(1); l.failAfter > 0 && n >= l.failAfter {
		return domain.ErrLockHeld
	}
	return nil
}

func (l *fakeLock) Release() {}

func TestRunnerConfigFromConfig(t *testing.T) {
	cfg := config.Defaults()
	rc := runnerConfig(&cfg)

	assert.Equal(t, 30*time.Second, rc.CycleInterval)
	assert.Equal(t, 10*time.Second, rc.RefreshInterval)
	assert.Equal(t, 0.06, rc.Weekday.MinYes)
	assert.Equal(t, 0.12, rc.Weekday.MaxYes)
	assert.Equal(t, 60, rc.Weekday.MinScore)
	assert.Equal(t, 75, rc.Weekend.MinScore)
	assert.False(t, rc.WeekendEnabled)
	assert.Equal(t, 20, rc.MaxPositions)
	assert.Equal(t, 5, rc.DiscoveryBreaker)
	assert.Equal(t, 2, rc.RepriceBreaker)
}

func TestHoldLockStopsWhenLost(t *testing.T) {
	a := New(&config.Config{}, discardLogger)
	lock := &fakeLock{failAfter: 2}

	err := a.holdLock(context.Background(), lock, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
	assert.EqualValues(t, 2, lock.refreshes.Load())
}

func TestHoldLockReturnsOnCancel(t *testing.T) {
	a := New(&config.Config{}, discardLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.holdLock(ctx, &fakeLock{}, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWireSQLiteOnly(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "bot.db")

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.PortfolioStore)
	assert.NotNil(t, deps.AuditStore)
	assert.Nil(t, deps.QuoteCache)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.Metrics)
	assert.False(t, deps.Notifier.Enabled())
	assert.Contains(t, deps.HealthChecks, "store")
	assert.NoError(t, deps.HealthChecks["store"](context.Background()))
}

func TestWireNoStorage(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "none"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.PortfolioStore)
	assert.Nil(t, deps.AuditStore)

	c := New(&cfg, discardLogger).buildCore(deps)
	assert.Equal(t, "stopped", c.runner.Status().BotStatus)
	assert.Equal(t, 100.0, c.runner.Status().TotalCapital)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = "none"
	cfg.Mode = "trade"

	a := New(&cfg, discardLogger)
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
}

func TestGoEngineStopsJournalAfterRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	var runnerReturned, journalSawRunner atomic.Bool
	goEngine(gctx, g,
		func(jctx context.Context) error {
			<-jctx.Done()
			journalSawRunner.Store(runnerReturned.Load())
			return nil
		},
		func(rctx context.Context) error {
			<-rctx.Done()
			// The final cycle is still enqueueing writes here.
			time.Sleep(20 * time.Millisecond)
			runnerReturned.Store(true)
			return rctx.Err()
		},
	)

	cancel()
	assert.ErrorIs(t, g.Wait(), context.Canceled)
	assert.True(t, journalSawRunner.Load(), "journal outlives the runner")
}
