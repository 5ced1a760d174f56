package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// Resolution thresholds: a side trading at or above this has settled.
const resolvedPrice = 0.99

type persister interface {
	positionOpened(pos domain.Position, state domain.PortfolioState)
	positionClosed(pos domain.Position, state domain.PortfolioState)
	checkpoint(point domain.CapitalPoint, snap Snapshot)
}

// Book is the portfolio state. It is only reachable through Portfolio.Update,
// so every method runs with the portfolio lock held.
type Book struct {
	cfg     *Config
	persist persister
	now     func() time.Time

	initial   float64
	total     float64
	available float64
	open      map[string]*domain.Position
	closed    []domain.Position
	closedIDs map[string]struct{}
	history   []domain.CapitalPoint
	session   time.Time
	records   int
}

// Available returns uncommitted capital.
func (b *Book) Available() float64 { return b.available }

// Total returns realized equity.
func (b *Book) Total() float64 { return b.total }

// OpenCount returns the number of open positions.
func (b *Book) OpenCount() int { return len(b.open) }

// Position returns a copy of the open position with the given id.
func (b *Book) Position(conditionID string) (domain.Position, bool) {
	pos, ok := b.open[conditionID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// CanOpenPosition reports whether another position fits under the position
// cap and available capital is above the dust threshold.
func (b *Book) CanOpenPosition() bool {
	return len(b.open) < b.cfg.MaxPositions && b.available >= MinAllocation
}

// RegionOf maps a city to its exposure region.
func (b *Book) RegionOf(city string) string {
	if r, ok := b.cfg.Regions[city]; ok {
		return r
	}
	return OtherRegion
}

// RegionAllocated sums the capital allocated to open positions in region.
func (b *Book) RegionAllocated(region string) float64 {
	var sum float64
	for _, pos := range b.open {
		if b.RegionOf(pos.City) == region {
			sum += pos.Allocated
		}
	}
	return sum
}

// RegionHasCapacity reports whether adding amount to the city's region keeps
// that region strictly below MaxRegionExposure of total capital.
func (b *Book) RegionHasCapacity(city string, amount float64) bool {
	allocated := b.RegionAllocated(b.RegionOf(city))
	return allocated+amount < b.total*b.cfg.MaxRegionExposure
}

// OpenPosition buys amount worth of YES at the opportunity's current price.
// The caller must have checked CanOpenPosition and RegionHasCapacity.
func (b *Book) OpenPosition(opp domain.Opportunity, amount float64) domain.Position {
	pos := &domain.Position{
		ConditionID: opp.ConditionID,
		Question:    opp.Question,
		City:        opp.City,
		Slug:        opp.Slug,
		YesTokenID:  opp.YesTokenID,
		EntryTime:   b.now().UTC(),
		EntryYes:    opp.YesPrice,
		CurrentYes:  opp.YesPrice,
		TakeProfit:  b.cfg.TakeProfit,
		Allocated:   amount,
		Tokens:      amount / opp.YesPrice,
		Status:      domain.PositionStatusOpen,
	}
	b.open[pos.ConditionID] = pos
	b.available -= amount

	b.persist.positionOpened(*pos, b.state())
	return *pos
}

// SetCurrentYes updates an open position's price without evaluating exits.
func (b *Book) SetCurrentYes(conditionID string, yes float64) (float64, bool) {
	pos, ok := b.open[conditionID]
	if !ok {
		return 0, false
	}
	old := pos.CurrentYes
	pos.CurrentYes = yes
	return old, true
}

// ApplyPriceUpdates marks open positions to the given quotes and closes each
// one on the first matching exit: YES resolved (WON), NO resolved (LOST), or
// take profit. Quotes for unknown ids are ignored. It returns the positions
// closed by this call.
func (b *Book) ApplyPriceUpdates(quotes map[string]domain.Quote) []domain.Position {
	ids := make([]string, 0, len(quotes))
	for id := range quotes {
		if _, ok := b.open[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var closed []domain.Position
	for _, id := range ids {
		pos := b.open[id]
		q := quotes[id]
		pos.CurrentYes = q.Yes

		var (
			status     domain.PositionStatus
			pnl        float64
			resolution string
		)
		switch {
		case q.Yes >= resolvedPrice:
			status = domain.PositionStatusWon
			pnl = pos.Tokens*q.Yes - pos.Allocated
			resolution = fmt.Sprintf("YES resolved at %.1f¢", q.Yes*100)
		case q.No >= resolvedPrice:
			status = domain.PositionStatusLost
			pnl = -pos.Allocated
			resolution = fmt.Sprintf("NO resolved at %.1f¢, YES stake lost", q.No*100)
		case q.Yes >= pos.TakeProfit:
			status = domain.PositionStatusTakeProfit
			pnl = pos.Tokens*q.Yes - pos.Allocated
			resolution = fmt.Sprintf("take profit at YES %.1f¢ (entry %.1f¢, %+.0f%%)",
				q.Yes*100, pos.EntryYes*100, pnl/pos.Allocated*100)
		default:
			continue
		}
		if c, ok := b.ClosePosition(id, status, pnl, resolution); ok {
			closed = append(closed, c)
		}
	}
	return closed
}

// ClosePosition moves an open position to the closed log, releasing its
// allocation plus pnl and realizing pnl into total capital. Closing an id that
// is not open is a no-op.
func (b *Book) ClosePosition(conditionID string, status domain.PositionStatus, pnl float64, resolution string) (domain.Position, bool) {
	pos, ok := b.open[conditionID]
	if !ok {
		return domain.Position{}, false
	}
	closedAt := b.now().UTC()
	pos.Status = status
	pos.PnL = pnl
	pos.CloseTime = &closedAt
	pos.Resolution = resolution

	b.available += pos.Allocated + pnl
	b.total += pnl

	delete(b.open, conditionID)
	out := *pos
	b.closed = append(b.closed, out)
	b.closedIDs[conditionID] = struct{}{}

	b.persist.positionClosed(out, b.state())
	return out, true
}

// LiquidateOutsideBand force-closes every open position whose entry price is
// outside [minYes, maxYes], realizing pnl at the current price.
func (b *Book) LiquidateOutsideBand(minYes, maxYes float64) []domain.Position {
	var out []domain.Position
	for _, id := range b.openIDs() {
		pos := b.open[id]
		if pos.EntryYes >= minYes && pos.EntryYes <= maxYes {
			continue
		}
		pnl := domain.Round(pos.Tokens*pos.CurrentYes-pos.Allocated, 2)
		resolution := fmt.Sprintf("auto-liquidated: entry YES %.1f¢ outside %.0f-%.0f¢ band",
			pos.EntryYes*100, minYes*100, maxYes*100)
		if c, ok := b.ClosePosition(id, domain.PositionStatusLiquidated, pnl, resolution); ok {
			out = append(out, c)
		}
	}
	return out
}

// RecordCapital appends a total-capital sample to the capped history. Every
// CheckpointEvery calls the sample and a full snapshot are persisted.
func (b *Book) RecordCapital() {
	point := domain.CapitalPoint{Time: b.now().UTC(), Capital: domain.Round(b.total, 2)}
	b.history = append(b.history, point)
	if over := len(b.history) - b.cfg.HistoryCap; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	b.records++
	if b.records%b.cfg.CheckpointEvery == 0 {
		b.persist.checkpoint(point, b.snapshot())
	}
}

func (b *Book) openIDs() []string {
	ids := make([]string, 0, len(b.open))
	for id := range b.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Book) state() domain.PortfolioState {
	return domain.PortfolioState{
		InitialCapital:   b.initial,
		TotalCapital:     b.total,
		AvailableCapital: b.available,
		SessionStart:     b.session,
	}
}
