// Package portfolio owns simulated capital accounting and the open/closed
// position sets. Every read or write of that state happens under one mutex;
// callers that need a multi-step critical section use Update.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// MinAllocation is the dust threshold in currency units. Below it no new
// position is opened and the portfolio reports no capacity.
const MinAllocation = 0.50

// OtherRegion is the region for cities missing from the region table.
const OtherRegion = "other"

// Config holds portfolio limits.
type Config struct {
	InitialCapital    float64
	MaxPositions      int
	MaxRegionExposure float64
	TakeProfit        float64
	Regions           map[string]string
	HistoryCap        int
	CheckpointEvery   int
}

// Portfolio is the mutex-guarded owner of a Book.
type Portfolio struct {
	cfg       Config
	logger    *slog.Logger
	store     domain.PortfolioStore
	snapshots domain.SnapshotUploader
	journal   *journal
	now       func() time.Time

	mu   sync.Mutex
	book *Book
}

// Option configures optional Portfolio collaborators.
type Option func(*Portfolio)

// WithStore persists every state change through store.
func WithStore(store domain.PortfolioStore) Option {
	return func(p *Portfolio) { p.store = store }
}

// WithSnapshotUploader uploads a full snapshot at every capital checkpoint.
func WithSnapshotUploader(u domain.SnapshotUploader) Option {
	return func(p *Portfolio) { p.snapshots = u }
}

// New creates a Portfolio holding cfg.InitialCapital and no positions.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Portfolio {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 500
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 120
	}
	logger = logger.With(slog.String("component", "portfolio"))
	p := &Portfolio{
		cfg:     cfg,
		logger:  logger,
		journal: newJournal(logger, journalBuffer),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.book = p.freshBook()
	return p
}

func (p *Portfolio) freshBook() *Book {
	now := p.now().UTC()
	return &Book{
		cfg:       &p.cfg,
		persist:   p,
		now:       p.now,
		initial:   p.cfg.InitialCapital,
		total:     p.cfg.InitialCapital,
		available: p.cfg.InitialCapital,
		open:      make(map[string]*domain.Position),
		closedIDs: make(map[string]struct{}),
		history:   []domain.CapitalPoint{{Time: now, Capital: domain.Round(p.cfg.InitialCapital, 2)}},
		session:   now,
	}
}

// Update runs fn with the lock held. fn must not block on I/O.
func (p *Portfolio) Update(fn func(b *Book)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.book)
}

// Run drains the persistence journal until ctx is cancelled, then flushes
// what is left within a bounded timeout.
func (p *Portfolio) Run(ctx context.Context) error {
	p.journal.run(ctx)
	return nil
}

// ExcludedIDs returns every condition id that is open or was ever closed.
func (p *Portfolio) ExcludedIDs() map[string]struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]struct{}, len(p.book.open)+len(p.book.closedIDs))
	for id := range p.book.open {
		out[id] = struct{}{}
	}
	for id := range p.book.closedIDs {
		out[id] = struct{}{}
	}
	return out
}

// OpenRefs copies the identifiers needed to re-price each open position.
func (p *Portfolio) OpenRefs() []domain.PositionRef {
	p.mu.Lock()
	defer p.mu.Unlock()

	refs := make([]domain.PositionRef, 0, len(p.book.open))
	for _, id := range p.book.openIDs() {
		pos := p.book.open[id]
		refs = append(refs, domain.PositionRef{
			ConditionID: pos.ConditionID,
			YesTokenID:  pos.YesTokenID,
			Slug:        pos.Slug,
		})
	}
	return refs
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.book.open)
}

// RefreshPrice sets the current YES price of an open position without
// evaluating exits. It reports the previous price and whether the position
// was still open.
func (p *Portfolio) RefreshPrice(conditionID string, yes float64) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.SetCurrentYes(conditionID, yes)
}

// ClosedPositions returns a copy of the closed log in close order.
func (p *Portfolio) ClosedPositions() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Position, len(p.book.closed))
	copy(out, p.book.closed)
	return out
}

// State returns the scalar capital fields.
func (p *Portfolio) State() domain.PortfolioState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.state()
}

// Insights computes win-rate analytics over closed positions. It returns nil
// until enough positions have closed.
func (p *Portfolio) Insights() *Insights {
	p.mu.Lock()
	closed := make([]domain.Position, len(p.book.closed))
	copy(closed, p.book.closed)
	p.mu.Unlock()

	return ComputeInsights(closed)
}

// Snapshot returns a read-only projection of the full portfolio.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.snapshot()
}

// Restore replaces the in-memory book with the persisted one. On any failure
// the portfolio keeps a fresh book at the configured initial capital and the
// error is returned for logging only.
func (p *Portfolio) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	book, err := p.load(ctx)
	if err != nil {
		p.mu.Lock()
		p.book = p.freshBook()
		p.mu.Unlock()
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.InfoContext(ctx, "no saved portfolio state, starting fresh",
				slog.Float64("capital", p.cfg.InitialCapital),
			)
			return nil
		}
		return fmt.Errorf("portfolio: restore: %w", err)
	}

	p.mu.Lock()
	p.book = book
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "portfolio restored",
		slog.Float64("total_capital", book.total),
		slog.Int("open", len(book.open)),
		slog.Int("closed", len(book.closed)),
	)
	return nil
}

func (p *Portfolio) load(ctx context.Context) (*Book, error) {
	state, err := p.store.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	open, err := p.store.LoadOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	closed, err := p.store.LoadClosedPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load closed positions: %w", err)
	}
	history, err := p.store.LoadCapitalHistory(ctx, p.cfg.HistoryCap)
	if err != nil {
		return nil, fmt.Errorf("load capital history: %w", err)
	}

	b := p.freshBook()
	b.initial = state.InitialCapital
	b.total = state.TotalCapital
	b.available = state.AvailableCapital
	if !state.SessionStart.IsZero() {
		b.session = state.SessionStart
	}
	for i := range open {
		pos := open[i]
		b.open[pos.ConditionID] = &pos
	}
	b.closed = closed
	for _, pos := range closed {
		b.closedIDs[pos.ConditionID] = struct{}{}
		delete(b.open, pos.ConditionID)
	}
	if len(history) > 0 {
		b.history = history
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Persistence side effects. Each call copies its arguments and queues the
// write; the in-memory book stays authoritative.
// ---------------------------------------------------------------------------

func (p *Portfolio) positionOpened(pos domain.Position, state domain.PortfolioState) {
	if p.store == nil {
		return
	}
	p.journal.enqueue("upsert open position", func(ctx context.Context) error {
		return p.store.UpsertOpenPosition(ctx, pos)
	})
	p.journal.enqueue("save state", func(ctx context.Context) error {
		return p.store.SaveState(ctx, state)
	})
}

func (p *Portfolio) positionClosed(pos domain.Position, state domain.PortfolioState) {
	if p.store == nil {
		return
	}
	p.journal.enqueue("delete open position", func(ctx context.Context) error {
		return p.store.DeleteOpenPosition(ctx, pos.ConditionID)
	})
	p.journal.enqueue("insert closed position", func(ctx context.Context) error {
		return p.store.InsertClosedPosition(ctx, pos)
	})
	p.journal.enqueue("save state", func(ctx context.Context) error {
		return p.store.SaveState(ctx, state)
	})
}

func (p *Portfolio) checkpoint(point domain.CapitalPoint, snap Snapshot) {
	if p.store != nil {
		p.journal.enqueue("append capital point", func(ctx context.Context) error {
			return p.store.AppendCapitalPoint(ctx, point)
		})
	}
	if p.snapshots != nil {
		p.journal.enqueue("upload snapshot", func(ctx context.Context) error {
			return p.snapshots.UploadSnapshot(ctx, point.Time, snap)
		})
	}
}
