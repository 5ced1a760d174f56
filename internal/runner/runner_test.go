package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/metrics"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
	"github.com/alanyoungcy/weatherbot/internal/scorer"
)

// monday is a weekday at 21:00 UTC.
var monday = time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)

type fakeDiscovery struct {
	mu       sync.Mutex
	opps     []domain.Opportunity
	err      error
	panicMsg string
	excluded []map[string]struct{}
}

func (f *fakeDiscovery) Scan(_ context.Context, excluded map[string]struct{}) ([]domain.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.excluded = append(f.excluded, excluded)
	var out []domain.Opportunity
	for _, o := range f.opps {
		if _, skip := excluded[o.ConditionID]; !skip {
			out = append(out, o)
		}
	}
	return out, f.err
}

type fakePrices struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	panics map[string]bool
	calls  []string
}

func (f *fakePrices) FetchYesPrice(_ context.Context, tokenID string) (domain.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tokenID)
	q, ok := f.quotes[tokenID]
	boom := f.panics[tokenID]
	f.mu.Unlock()
	if boom {
		panic("price source exploded")
	}
	if !ok {
		return domain.Quote{}, errors.New("no orderbook")
	}
	return q, nil
}

func (f *fakePrices) set(tokenID string, q domain.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[tokenID] = q
}

func (f *fakePrices) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFallback struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	calls  []string
}

func (f *fakeFallback) FetchLivePrices(_ context.Context, slug string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slug)
	q, ok := f.quotes[slug]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

// gatedPrices holds every fetch until the test releases it, and answers
// even when the caller's context was cancelled meanwhile.
type gatedPrices struct {
	inner   *fakePrices
	entered chan string
	release chan struct{}
}

func (g *gatedPrices) FetchYesPrice(ctx context.Context, tokenID string) (domain.Quote, error) {
	g.entered <- tokenID
	<-g.release
	return g.inner.FetchYesPrice(ctx, tokenID)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type harness struct {
	runner    *Runner
	portfolio *portfolio.Portfolio
	scorer    *scorer.Scorer
	discovery *fakeDiscovery
	prices    *fakePrices
	fallback  *fakeFallback
	notifier  *fakeNotifier
	audit     *fakeAudit
	metrics   *metrics.Metrics
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunnerConfig() Config {
	return Config{
		CycleInterval:      time.Hour,
		RefreshInterval:    time.Hour,
		Weekday:            Band{MinYes: 0.06, MaxYes: 0.12, MinScore: 50},
		Weekend:            Band{MinYes: 0.06, MaxYes: 0.10, MinScore: 75},
		MinFraction:        0.01,
		MaxFraction:        0.02,
		MaxPositions:       5,
		VerifyFloor:        15,
		DiscoveryBreaker:   5,
		RepriceBreaker:     2,
		InvertedPriceAbove: 0.50,
		DisplayLimit:       20,
		HighScore:          60,
	}
}

func newHarness(t *testing.T, mutate func(*Config, *portfolio.Config)) *harness {
	t.Helper()
	logger := testLogger()

	cfg := testRunnerConfig()
	pcfg := portfolio.Config{
		InitialCapital:    100,
		MaxPositions:      5,
		MaxRegionExposure: 0.25,
		TakeProfit:        0.15,
		Regions:           map[string]string{"nyc": "northeast", "boston": "northeast", "london": "europe"},
	}
	if mutate != nil {
		mutate(&cfg, &pcfg)
	}
	cfg.MaxPositions = pcfg.MaxPositions

	h := &harness{
		portfolio: portfolio.New(pcfg, logger),
		scorer: scorer.New(scorer.Config{
			VolumeHigh: 500, VolumeMid: 300, VolumeLow: 200,
			HistoryTTL: time.Hour,
			UTCOffsets: map[string]int{"nyc": -5, "london": 0},
		}, logger),
		discovery: &fakeDiscovery{},
		prices:    &fakePrices{quotes: map[string]domain.Quote{}, panics: map[string]bool{}},
		fallback:  &fakeFallback{quotes: map[string]domain.Quote{}},
		notifier:  &fakeNotifier{},
		audit:     &fakeAudit{},
		metrics:   metrics.New(),
	}
	h.runner = New(cfg, Deps{
		Scorer:    h.scorer,
		Portfolio: h.portfolio,
		Discovery: h.discovery,
		Prices:    h.prices,
		Fallback:  h.fallback,
		Notifier:  h.notifier,
		Audit:     h.audit,
		Metrics:   h.metrics,
	}, logger)
	h.runner.now = func() time.Time { return monday }
	return h
}

// candidate builds a discoverable market whose fast-source price is yes.
func (h *harness) candidate(id, city string, yes, volume float64) domain.Opportunity {
	o := domain.Opportunity{
		ConditionID: id,
		Question:    fmt.Sprintf("Will %s reach 80F? (%s)", city, id),
		City:        city,
		Slug:        "slug-" + id,
		YesTokenID:  "tok-" + id,
		Volume:      volume,
		YesPrice:    yes,
		NoPrice:     domain.Round(1-yes, 4),
	}
	h.discovery.opps = append(h.discovery.opps, o)
	h.prices.set(o.YesTokenID, domain.Quote{Yes: yes, No: domain.Round(1-yes, 4)})
	return o
}

func TestPositionSize(t *testing.T) {
	band := Band{MinYes: 0.06, MaxYes: 0.12}

	assert.InDelta(t, 2.0, PositionSize(100, 0.06, band, 0.01, 0.02), 1e-9)
	assert.InDelta(t, 1.0, PositionSize(100, 0.12, band, 0.01, 0.02), 1e-9)
	assert.InDelta(t, 1.5, PositionSize(100, 0.09, band, 0.01, 0.02), 1e-9)
	assert.InDelta(t, 2.0, PositionSize(100, 0.01, band, 0.01, 0.02), 1e-9, "clamped below band")
	assert.InDelta(t, 1.0, PositionSize(100, 0.50, band, 0.01, 0.02), 1e-9, "clamped above band")
	assert.InDelta(t, 2.0, PositionSize(100, 0.08, Band{MinYes: 0.08, MaxYes: 0.08}, 0.01, 0.02), 1e-9)

	prev := PositionSize(100, band.MinYes, band, 0.01, 0.02)
	for p := band.MinYes; p <= band.MaxYes; p += 0.001 {
		size := PositionSize(100, p, band, 0.01, 0.02)
		assert.LessOrEqual(t, size, prev+1e-12, "non-increasing at %v", p)
		prev = size
	}
}

func TestCycleOpensVerifiedEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("c1", "nyc", 0.07, 600)

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 1, res.Discovered)
	assert.Equal(t, 1, res.Verified)
	assert.Equal(t, 1, res.Entries)
	require.Len(t, res.Opened, 1)

	pos := res.Opened[0]
	assert.Equal(t, "c1", pos.ConditionID)
	assert.Equal(t, 0.07, pos.EntryYes)
	// t = (0.12-0.07)/0.06, fraction = 0.01 + t*0.01
	assert.InDelta(t, 100*(0.01+(0.05/0.06)*0.01), pos.Allocated, 1e-9)

	assert.Equal(t, 1, h.portfolio.OpenCount())
	assert.True(t, h.notifier.has(EventPositionOpened))
	assert.Contains(t, h.audit.entries, EventPositionOpened)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PositionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OpenPositions))
}

func TestCycleEntryGate(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("outside", "nyc", 0.04, 600)  // below band
	h.candidate("lowscore", "nyc", 0.10, 100) // zone B 20 + volume 0 + time <= 20
	h.candidate("ok", "london", 0.08, 600)

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 3, res.Verified)
	assert.Equal(t, 1, res.Entries)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, "ok", res.Opened[0].ConditionID)
	assert.Equal(t, 3, h.scorer.Tracked(), "every verified candidate is recorded")
}

func TestCycleExcludesOpenAndClosedIDs(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("c1", "nyc", 0.07, 600)
	h.candidate("c2", "london", 0.07, 600)

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Opened, 2)

	// c2 resolves NO on the next cycle, c1 stays open.
	h.prices.set("tok-c2", domain.Quote{Yes: 0.01, No: 0.99})
	res = h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.PositionStatusLost, res.Closed[0].Status)

	res = h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Discovered)

	last := h.discovery.excluded[len(h.discovery.excluded)-1]
	assert.Contains(t, last, "c1")
	assert.Contains(t, last, "c2")
}

func TestDiscoveryBreakerStopsFastSourceAfterFiveFailures(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 8; i++ {
		h.candidate(fmt.Sprintf("c%d", i), "nyc", 0.07, 600)
	}
	h.prices.quotes = map[string]domain.Quote{}

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 5, h.prices.callCount(), "sixth candidate never reaches the fast source")
	assert.Equal(t, 8, res.Unscored)
	assert.Equal(t, 0, res.Verified)
	assert.Contains(t, res.BreakerTripped, passDiscovery)
	assert.True(t, h.notifier.has(EventBreakerOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BreakerTrips.WithLabelValues(passDiscovery)))

	status := h.runner.Status()
	require.Len(t, status.LastOpportunities, 8)
	for _, c := range status.LastOpportunities {
		assert.Equal(t, 0, c.Score)
		assert.Equal(t, domain.ZoneNone, c.Zone)
	}
}

func TestDiscoveryBreakerResetsEachCycle(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 6; i++ {
		h.candidate(fmt.Sprintf("c%d", i), "nyc", 0.07, 600)
	}
	h.prices.quotes = map[string]domain.Quote{}

	h.runner.RunCycle(context.Background())
	h.runner.RunCycle(context.Background())
	assert.Equal(t, 10, h.prices.callCount())
}

func TestInvertedPriceCountsAsFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("inv", "nyc", 0.07, 600)
	h.prices.set("tok-inv", domain.Quote{Yes: 0.93, No: 0.07})

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Unscored)
	assert.Empty(t, res.Opened)
	assert.Equal(t, 0, h.scorer.Tracked())
}

func TestVerificationWindow(t *testing.T) {
	h := newHarness(t, func(c *Config, p *portfolio.Config) {
		c.VerifyFloor = 3
		p.MaxPositions = 2
	})
	for i := 0; i < 30; i++ {
		h.candidate(fmt.Sprintf("c%02d", i), "other-city", 0.20, 600)
	}

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 3, h.prices.callCount(), "max(slots, floor) candidates verified")

	display := h.runner.Status().LastOpportunities
	require.Len(t, display, 20)
	assert.Equal(t, "c00", display[0].ConditionID)
	assert.Equal(t, "c19", display[19].ConditionID)
	assert.Equal(t, 0, display[5].Score, "tail rows are placeholders")
}

func TestWeekendRegime(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 21, 0, 0, 0, time.UTC)

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, nil)
		h.runner.now = func() time.Time { return saturday }
		h.candidate("c1", "nyc", 0.07, 600)

		res := h.runner.RunCycle(context.Background())
		require.NoError(t, res.Err)
		assert.Equal(t, 1, res.Verified)
		assert.Empty(t, res.Opened)
		assert.Equal(t, 1, h.scorer.Tracked())
	})

	t.Run("enabled uses weekend band", func(t *testing.T) {
		h := newHarness(t, func(c *Config, _ *portfolio.Config) {
			c.WeekendEnabled = true
			c.Weekend = Band{MinYes: 0.06, MaxYes: 0.10, MinScore: 50}
		})
		h.runner.now = func() time.Time { return saturday }
		h.candidate("cheap", "nyc", 0.07, 600)
		h.candidate("dear", "london", 0.11, 600)

		res := h.runner.RunCycle(context.Background())
		require.NoError(t, res.Err)
		require.Len(t, res.Opened, 1)
		assert.Equal(t, "cheap", res.Opened[0].ConditionID)
	})
}

func TestRegionCapacitySkipsWithoutConsumingSlot(t *testing.T) {
	h := newHarness(t, nil)
	h.portfolio.Update(func(b *portfolio.Book) {
		b.OpenPosition(domain.Opportunity{ConditionID: "seed", City: "boston", YesPrice: 0.08}, 24.5)
	})
	h.candidate("nyc1", "nyc", 0.07, 600)
	h.candidate("ldn1", "london", 0.07, 600)

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Opened, 1)
	assert.Equal(t, "ldn1", res.Opened[0].ConditionID)
}

func TestMaxPositionsStopsExecution(t *testing.T) {
	h := newHarness(t, func(_ *Config, p *portfolio.Config) {
		p.MaxPositions = 2
		p.MaxRegionExposure = 1
	})
	for i := 0; i < 4; i++ {
		h.candidate(fmt.Sprintf("c%d", i), "nyc", 0.07, 600)
	}

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Entries)
	assert.Len(t, res.Opened, 2)
	assert.Equal(t, 2, h.portfolio.OpenCount())
}

func TestRepriceFallsBackAfterBreakerTrips(t *testing.T) {
	h := newHarness(t, func(_ *Config, p *portfolio.Config) { p.MaxRegionExposure = 1 })
	for _, id := range []string{"a", "b", "c", "d"} {
		h.candidate(id, "nyc", 0.07, 600)
	}
	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Opened, 4)

	// Fast source goes dark. a and b fail and trip the breaker; c and d go
	// straight to the fallback.
	h.discovery.opps = nil
	h.prices.quotes = map[string]domain.Quote{}
	before := h.prices.callCount()
	h.fallback.quotes["slug-a"] = domain.Quote{Yes: 0.99, No: 0.01}
	h.fallback.quotes["slug-b"] = domain.Quote{Yes: 0.01, No: 0.99}
	h.fallback.quotes["slug-c"] = domain.Quote{Yes: 0.20, No: 0.80}
	h.fallback.quotes["slug-d"] = domain.Quote{Yes: 0.08, No: 0.92}

	res = h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, 2, h.prices.callCount()-before)
	assert.Len(t, h.fallback.calls, 4)
	assert.Contains(t, res.BreakerTripped, passReprice)

	status := map[string]domain.PositionStatus{}
	for _, pos := range res.Closed {
		status[pos.ConditionID] = pos.Status
	}
	assert.Equal(t, map[string]domain.PositionStatus{
		"a": domain.PositionStatusWon,
		"b": domain.PositionStatusLost,
		"c": domain.PositionStatusTakeProfit,
	}, status, "fallback quotes are not inversion-checked so resolution is visible")
	assert.Equal(t, 1, h.portfolio.OpenCount())
}

func TestAutoLiquidation(t *testing.T) {
	h := newHarness(t, nil)
	h.portfolio.Update(func(b *portfolio.Book) {
		b.OpenPosition(domain.Opportunity{ConditionID: "old", City: "nyc", YesPrice: 0.04, YesTokenID: "tok-old"}, 2)
	})
	h.prices.set("tok-old", domain.Quote{Yes: 0.05, No: 0.95})

	res := h.runner.RunCycle(context.Background())
	require.NoError(t, res.Err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, domain.PositionStatusLiquidated, res.Closed[0].Status)
	assert.Equal(t, 0.5, res.Closed[0].PnL)
	assert.True(t, h.notifier.has(EventPositionLiquidated))
}

func TestCycleErrorsAreReturned(t *testing.T) {
	h := newHarness(t, nil)
	h.discovery.err = errors.New("gamma down")

	res := h.runner.RunCycle(context.Background())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "gamma down")

	h.runner.logCycle(context.Background(), res)
	assert.True(t, h.notifier.has(EventError))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("error")))
}

func TestCyclePanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil)
	h.discovery.panicMsg = "nil map"

	var res CycleResult
	require.NotPanics(t, func() { res = h.runner.RunCycle(context.Background()) })
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "nil map")
	assert.Equal(t, int64(1), res.Scan)
}

func TestCycleHonoursCancellation(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("c1", "nyc", 0.07, 600)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.runner.RunCycle(ctx)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, h.prices.callCount())
}

func TestRefreshPricesUpdatesWithoutClosing(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("c1", "nyc", 0.07, 600)
	require.NoError(t, h.runner.RunCycle(context.Background()).Err)

	h.prices.set("tok-c1", domain.Quote{Yes: 0.30, No: 0.70})
	h.runner.RefreshPrices(context.Background())

	assert.Equal(t, 1, h.portfolio.OpenCount(), "refresh never settles")
	snap := h.portfolio.Snapshot()
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, 0.30, snap.OpenPositions[0].CurrentYes)
	assert.NotNil(t, h.runner.Status().LastPriceUpdate)
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx, false) }()

	require.Eventually(t, func() bool { return h.runner.Start() }, time.Second, 5*time.Millisecond)
	assert.False(t, h.runner.Start(), "second start is a no-op")
	assert.True(t, h.runner.Running())
	assert.Equal(t, StatusRunning, h.runner.Status().BotStatus)
	assert.Eventually(t, h.runner.RefreshLoopAlive, time.Second, 5*time.Millisecond)

	assert.True(t, h.runner.Stop())
	assert.False(t, h.runner.Stop(), "second stop is a no-op")
	assert.Equal(t, StatusStopped, h.runner.Status().BotStatus)
	assert.False(t, h.runner.RefreshLoopAlive())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, h.runner.Start(), "cannot start after the parent context ends")
}

func TestWatchdogRestartsDeadRefreshLoop(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *portfolio.Config) {
		c.CycleInterval = 20 * time.Millisecond
		c.RefreshInterval = 5 * time.Millisecond
	})
	h.portfolio.Update(func(b *portfolio.Book) {
		b.OpenPosition(domain.Opportunity{ConditionID: "boom", City: "nyc", YesPrice: 0.08, YesTokenID: "tok-boom"}, 1)
	})
	h.prices.mu.Lock()
	h.prices.panics["tok-boom"] = true
	h.prices.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx, true) }()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.RefreshRestarts) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// The cycle loop survives its own panics from the same source.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("error")) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStatusAggregatesScores(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("hi", "nyc", 0.07, 600) // 30 + 20 + time >= 50
	h.candidate("lo", "nyc", 0.20, 100) // 0 + 0 + time <= 20
	require.NoError(t, h.runner.RunCycle(context.Background()).Err)

	st := h.runner.Status()
	assert.Equal(t, 2, st.TrackedMarkets)
	assert.Equal(t, int64(1), st.ScanCount)
	assert.LessOrEqual(t, st.HighScoreCount, 1)
	assert.Equal(t, StatusStopped, st.BotStatus)
	assert.Len(t, st.OpenPositions, 1)
}

func TestRestartWaitsForInFlightCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.candidate("c1", "nyc", 0.07, 600)
	gate := &gatedPrices{inner: h.prices, entered: make(chan string), release: make(chan struct{})}
	h.runner.deps.Prices = gate

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx, true) }()

	assert.Equal(t, "tok-c1", <-gate.entered, "first cycle is verifying c1")
	require.True(t, h.runner.Stop())

	started := make(chan bool, 1)
	go func() { started <- h.runner.Start() }()
	select {
	case <-started:
		t.Fatal("Start returned while the stopped cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// The stopped cycle's quote arrives late; it must not open anything.
	gate.release <- struct{}{}
	select {
	case ok := <-started:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the old cycle exited")
	}
	assert.Equal(t, 0, h.portfolio.OpenCount())

	assert.Equal(t, "tok-c1", <-gate.entered, "second cycle is verifying c1")
	gate.release <- struct{}{}
	require.Eventually(t, func() bool { return h.portfolio.OpenCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.portfolio.Update(func(b *portfolio.Book) {
		pos, ok := b.Position("c1")
		require.True(t, ok)
		assert.InDelta(t, 100, b.Available()+pos.Allocated, 1e-9, "capital is debited once")
		assert.InDelta(t, 100, b.Total(), 1e-9)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBreakerAlertsOnceWhileSourceStaysDown(t *testing.T) {
	h := newHarness(t, nil)
	h.portfolio.Update(func(b *portfolio.Book) {
		b.OpenPosition(domain.Opportunity{ConditionID: "a", City: "nyc", YesPrice: 0.08, YesTokenID: "tok-a"}, 1)
		b.OpenPosition(domain.Opportunity{ConditionID: "b", City: "london", YesPrice: 0.08, YesTokenID: "tok-b"}, 1)
	})

	for i := 0; i < 3; i++ {
		h.runner.RefreshPrices(context.Background())
	}
	assert.Equal(t, 1, h.notifier.count(EventBreakerOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.BreakerTrips.WithLabelValues(passRefresh)))

	// A healthy pass re-arms the alert.
	h.prices.set("tok-a", domain.Quote{Yes: 0.08, No: 0.92})
	h.prices.set("tok-b", domain.Quote{Yes: 0.08, No: 0.92})
	h.runner.RefreshPrices(context.Background())
	assert.Equal(t, 1, h.notifier.count(EventBreakerOpen))

	h.prices.mu.Lock()
	h.prices.quotes = map[string]domain.Quote{}
	h.prices.mu.Unlock()
	h.runner.RefreshPrices(context.Background())
	assert.Equal(t, 2, h.notifier.count(EventBreakerOpen))
}
