// Package runner drives the decision engine. A cycle loop discovers, verifies,
// scores and enters markets and settles open positions; a faster refresh loop
// re-prices open positions only. Both share the portfolio through its lock.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/metrics"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
	"github.com/alanyoungcy/weatherbot/internal/scorer"
)

// Bot status values reported by Status.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Discovery returns candidate markets ranked most attractive first. It must
// not return an excluded id.
type Discovery interface {
	Scan(ctx context.Context, excluded map[string]struct{}) ([]domain.Opportunity, error)
}

// PriceSource is the fast real-time price source, keyed by YES token id.
type PriceSource interface {
	FetchYesPrice(ctx context.Context, tokenID string) (domain.Quote, error)
}

// FallbackSource is the slower price source, keyed by market slug.
type FallbackSource interface {
	FetchLivePrices(ctx context.Context, slug string) (domain.Quote, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Band is an entry price band and the minimum score required inside it.
type Band struct {
	MinYes   float64
	MaxYes   float64
	MinScore int
}

// Contains reports whether p is within the band, inclusive.
func (b Band) Contains(p float64) bool {
	return p >= b.MinYes && p <= b.MaxYes
}

// Config holds the runner's timing, gating and sizing inputs.
type Config struct {
	CycleInterval   time.Duration
	RefreshInterval time.Duration

	// Weekday is also the band auto-liquidation enforces.
	Weekday        Band
	Weekend        Band
	WeekendEnabled bool

	MinFraction  float64
	MaxFraction  float64
	MaxPositions int

	VerifyFloor        int
	DiscoveryBreaker   int
	RepriceBreaker     int
	InvertedPriceAbove float64
	DisplayLimit       int
	HighScore          int
}

// Deps are the runner's collaborators. Notifier, Audit, Quotes and Metrics
// are optional.
type Deps struct {
	Scorer    *scorer.Scorer
	Portfolio *portfolio.Portfolio
	Discovery Discovery
	Prices    PriceSource
	Fallback  FallbackSource

	Notifier Notifier
	Audit    domain.AuditStore
	Quotes   domain.QuoteCache
	Metrics  *metrics.Metrics
}

// Candidate is one row of the last cycle's ranked display list.
type Candidate struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	City        string      `json:"city"`
	YesPrice    float64     `json:"yes_price"`
	NoPrice     float64     `json:"no_price"`
	Volume      float64     `json:"volume"`
	Score       int         `json:"score"`
	Zone        domain.Zone `json:"zone"`
}

// Status is the portfolio snapshot plus the runner's own state.
type Status struct {
	portfolio.Snapshot
	BotStatus         string      `json:"bot_status"`
	ScanCount         int64       `json:"scan_count"`
	LastOpportunities []Candidate `json:"last_opportunities"`
	LastPriceUpdate   *time.Time  `json:"last_price_update"`
	RefreshLoopAlive  bool        `json:"refresh_loop_alive"`
	TrackedMarkets    int         `json:"tracked_markets"`
	HighScoreCount    int         `json:"high_score_count"`
}

// worker tracks one refresh loop goroutine.
type worker struct {
	done chan struct{}
}

func (w *worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Runner owns the cycle and refresh loops.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// startMu serialises Start so a restart waits for the previous cycle
	// loop without holding mu.
	startMu   sync.Mutex
	mu        sync.Mutex
	parent    context.Context
	cancel    context.CancelFunc
	running   bool
	refresh   *worker
	cycleDone chan struct{}
	wg        sync.WaitGroup

	scanCount atomic.Int64

	statusMu        sync.RWMutex
	lastCandidates  []Candidate
	lastPriceUpdate *time.Time
	breakerOpen     map[string]bool
}

// New creates a stopped Runner.
func New(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = 20
	}
	if cfg.InvertedPriceAbove <= 0 {
		cfg.InvertedPriceAbove = 0.50
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "runner")),
		now:    time.Now,
		parent: context.Background(),
	}
}

// Run attaches the runner to ctx, optionally starts the loops, and blocks
// until ctx is cancelled. It waits for both loops to exit before returning.
func (r *Runner) Run(ctx context.Context, autoStart bool) error {
	r.mu.Lock()
	r.parent = ctx
	r.mu.Unlock()

	if autoStart {
		r.Start()
	}
	<-ctx.Done()
	r.Stop()
	r.wg.Wait()
	r.logger.Info("runner stopped")
	return ctx.Err()
}

// Start launches the cycle and refresh loops. It returns false if they were
// already running. After a Stop it first waits for the previous cycle loop
// to exit, so two cycles never overlap.
func (r *Runner) Start() bool {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	r.mu.Lock()
	if r.running || r.parent.Err() != nil {
		r.mu.Unlock()
		return false
	}
	parent, prev := r.parent, r.cycleDone
	r.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-parent.Done():
			return false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.parent.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel
	r.running = true
	r.refresh = nil
	r.spawnRefreshLocked(ctx)

	done := make(chan struct{})
	r.cycleDone = done
	r.wg.Add(1)
	go r.cycleLoop(ctx, done)

	r.logger.Info("runner started",
		slog.Duration("cycle_interval", r.cfg.CycleInterval),
		slog.Duration("refresh_interval", r.cfg.RefreshInterval),
	)
	return true
}

// Stop signals both loops to exit. It returns false if they were not running.
// In-flight I/O finishes within one round trip.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return false
	}
	r.cancel()
	r.running = false
	r.logger.Info("runner stop requested")
	return true
}

// Running reports whether the loops are started.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RefreshLoopAlive reports whether the current refresh loop goroutine is
// still running.
func (r *Runner) RefreshLoopAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.refresh != nil && r.refresh.alive()
}

// Status assembles the full status view.
func (r *Runner) Status() Status {
	st := Status{
		Snapshot:         r.deps.Portfolio.Snapshot(),
		BotStatus:        StatusStopped,
		ScanCount:        r.scanCount.Load(),
		RefreshLoopAlive: r.RefreshLoopAlive(),
	}
	if r.Running() {
		st.BotStatus = StatusRunning
	}

	r.statusMu.RLock()
	st.LastOpportunities = append([]Candidate{}, r.lastCandidates...)
	if r.lastPriceUpdate != nil {
		t := *r.lastPriceUpdate
		st.LastPriceUpdate = &t
	}
	r.statusMu.RUnlock()

	scores := r.deps.Scorer.AllScores()
	st.TrackedMarkets = len(scores)
	for _, sc := range scores {
		if sc.Total >= r.cfg.HighScore {
			st.HighScoreCount++
		}
	}
	return st
}

func (r *Runner) cycleLoop(ctx context.Context, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		r.ensureRefreshLoop(ctx)
		res := r.RunCycle(ctx)
		r.logCycle(ctx, res)

		timer.Reset(r.cfg.CycleInterval)
	}
}

// ensureRefreshLoop is the watchdog: it respawns the refresh loop when its
// goroutine has exited while the runner is still running.
func (r *Runner) ensureRefreshLoop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil || !r.running {
		return
	}
	if r.refresh != nil && r.refresh.alive() {
		return
	}
	r.logger.WarnContext(ctx, "price refresh loop is down, restarting")
	r.deps.Metrics.RefreshRestarted()
	r.spawnRefreshLocked(ctx)
}

func (r *Runner) spawnRefreshLocked(ctx context.Context) {
	w := &worker{done: make(chan struct{})}
	r.refresh = w
	r.wg.Add(1)
	go r.refreshLoop(ctx, w)
}

func (r *Runner) setCandidates(c []Candidate) {
	r.statusMu.Lock()
	r.lastCandidates = c
	r.statusMu.Unlock()
}

func (r *Runner) setLastPriceUpdate(t time.Time) {
	r.statusMu.Lock()
	r.lastPriceUpdate = &t
	r.statusMu.Unlock()
}
