package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
)

// CycleResult is the outcome of one decision cycle.
type CycleResult struct {
	Scan           int64
	Discovered     int
	Verified       int
	Unscored       int
	Entries        int
	Opened         []domain.Position
	Closed         []domain.Position
	BreakerTripped []string
	Duration       time.Duration
	Err            error
}

type entry struct {
	opp   domain.Opportunity
	score domain.Score
}

// RunCycle runs one full cycle. Failures, including panics, are reported in
// the result and never escape.
func (r *Runner) RunCycle(ctx context.Context) (res CycleResult) {
	start := r.now()
	res.Scan = r.scanCount.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("runner: cycle panicked: %v", rec)
		}
		res.Duration = r.now().Sub(start)
	}()

	res.Err = r.cycle(ctx, &res)
	return res
}

func (r *Runner) cycle(ctx context.Context, res *CycleResult) error {
	p := r.deps.Portfolio

	excluded := p.ExcludedIDs()
	opps, err := r.deps.Discovery.Scan(ctx, excluded)
	if err != nil {
		return fmt.Errorf("runner: discovery: %w", err)
	}
	res.Discovered = len(opps)

	slots := max(0, r.cfg.MaxPositions-p.OpenCount())
	verifyN := min(len(opps), max(slots, r.cfg.VerifyFloor))

	band, entriesAllowed := r.entryBand(r.now())
	if !entriesAllowed {
		r.logger.InfoContext(ctx, "weekend entries disabled, scoring only")
	}

	// Verification runs without the portfolio lock.
	discovery := r.newPass(ctx, passDiscovery, r.cfg.DiscoveryBreaker)
	display := make([]Candidate, 0, r.cfg.DisplayLimit)
	var entries []entry

	for _, opp := range opps[:verifyN] {
		if err := ctx.Err(); err != nil {
			return err
		}

		q, ok := r.verify(ctx, discovery, opp)
		if !ok {
			res.Unscored++
			r.deps.Metrics.Candidate("unscored")
			display = append(display, candidateOf(opp, domain.Score{Zone: domain.ZoneNone}))
			continue
		}
		res.Verified++

		r.deps.Scorer.Record(opp.ConditionID, q.Yes, opp.Volume, opp.City)
		opp = opp.WithQuote(q)
		sc := r.deps.Scorer.Score(opp.ConditionID, opp.City)
		display = append(display, candidateOf(opp, sc))

		switch {
		case !entriesAllowed:
			r.deps.Metrics.Candidate("regime_closed")
		case !band.Contains(q.Yes):
			r.deps.Metrics.Candidate("out_of_band")
			r.logger.InfoContext(ctx, "skip: YES outside entry band",
				slog.String("question", truncate(opp.Question, 40)),
				slog.Float64("yes", q.Yes),
			)
		case sc.Total < band.MinScore:
			r.deps.Metrics.Candidate("low_score")
			r.logger.InfoContext(ctx, "skip: score below minimum",
				slog.String("question", truncate(opp.Question, 40)),
				slog.Float64("yes", q.Yes),
				slog.Int("score", sc.Total),
				slog.Int("min_score", band.MinScore),
				slog.String("zone", string(sc.Zone)),
			)
		default:
			r.deps.Metrics.Candidate("entry")
			r.logger.InfoContext(ctx, "entry signal",
				slog.String("question", truncate(opp.Question, 40)),
				slog.Float64("yes", q.Yes),
				slog.Int("score", sc.Total),
				slog.String("zone", string(sc.Zone)),
			)
			entries = append(entries, entry{opp: opp, score: sc})
		}
	}
	if discovery.tripped {
		res.BreakerTripped = append(res.BreakerTripped, passDiscovery)
	}
	res.Entries = len(entries)

	for _, opp := range opps[verifyN:] {
		if len(display) >= r.cfg.DisplayLimit {
			break
		}
		display = append(display, candidateOf(opp, domain.Score{Zone: domain.ZoneNone}))
	}
	if len(display) > r.cfg.DisplayLimit {
		display = display[:r.cfg.DisplayLimit]
	}
	r.setCandidates(display)

	// Re-price open positions, again without the lock.
	quotes, tripped, err := r.repriceOpen(ctx, passReprice)
	if err != nil {
		return err
	}
	if tripped {
		res.BreakerTripped = append(res.BreakerTripped, passReprice)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// One critical section: execute entries, settle, liquidate, record.
	var (
		opened     []domain.Position
		openScores []domain.Score
		closed     []domain.Position
		total      float64
		available  float64
		openCount  int
	)
	p.Update(func(b *portfolio.Book) {
		for _, e := range entries {
			if !b.CanOpenPosition() {
				break
			}
			if _, held := b.Position(e.opp.ConditionID); held {
				continue
			}
			amount := PositionSize(b.Available(), e.opp.YesPrice, band, r.cfg.MinFraction, r.cfg.MaxFraction)
			if amount < portfolio.MinAllocation {
				r.logger.InfoContext(ctx, "skip: position below dust threshold",
					slog.String("question", truncate(e.opp.Question, 40)),
					slog.Float64("amount", amount),
				)
				continue
			}
			if !b.RegionHasCapacity(e.opp.City, amount) {
				r.logger.InfoContext(ctx, "skip: region exposure full",
					slog.String("city", e.opp.City),
					slog.String("region", b.RegionOf(e.opp.City)),
					slog.String("question", truncate(e.opp.Question, 30)),
				)
				continue
			}
			pos := b.OpenPosition(e.opp, amount)
			opened = append(opened, pos)
			openScores = append(openScores, e.score)
			r.logger.InfoContext(ctx, "position opened",
				slog.String("question", truncate(pos.Question, 40)),
				slog.Float64("yes", pos.EntryYes),
				slog.Float64("amount", domain.Round(amount, 2)),
				slog.Int("score", e.score.Total),
				slog.String("zone", string(e.score.Zone)),
			)
		}

		if len(quotes) > 0 {
			for _, pos := range b.ApplyPriceUpdates(quotes) {
				closed = append(closed, pos)
				r.logger.InfoContext(ctx, "position closed",
					slog.String("question", truncate(pos.Question, 40)),
					slog.String("status", string(pos.Status)),
					slog.Float64("pnl", domain.Round(pos.PnL, 2)),
				)
			}
		}

		for _, pos := range b.LiquidateOutsideBand(r.cfg.Weekday.MinYes, r.cfg.Weekday.MaxYes) {
			closed = append(closed, pos)
			r.logger.WarnContext(ctx, "auto-liquidated position outside entry band",
				slog.String("question", truncate(pos.Question, 40)),
				slog.Float64("entry_yes", pos.EntryYes),
				slog.Float64("pnl", pos.PnL),
			)
		}

		b.RecordCapital()
		total, available, openCount = b.Total(), b.Available(), b.OpenCount()
	})

	r.deps.Scorer.PurgeOld()

	res.Opened = opened
	res.Closed = closed
	r.deps.Metrics.SetPortfolio(total, available, openCount)

	// Side effects after the lock is released.
	for i, pos := range opened {
		r.emitOpened(ctx, pos, openScores[i])
	}
	for _, pos := range closed {
		r.emitClosed(ctx, pos)
	}
	if r.breakerAlert(passDiscovery, discovery.tripped) {
		r.emitBreaker(ctx, passDiscovery)
	}
	if r.breakerAlert(passReprice, tripped) {
		r.emitBreaker(ctx, passReprice)
	}
	return nil
}

// verify fetches a live quote for a discovered candidate. Candidates without
// a token id, or seen after the pass breaker opened, stay unscored.
func (r *Runner) verify(ctx context.Context, p *pass, opp domain.Opportunity) (domain.Quote, bool) {
	if opp.YesTokenID == "" || r.deps.Prices == nil {
		return domain.Quote{}, false
	}
	q, err := r.fetchFast(ctx, p, opp.YesTokenID)
	if err != nil {
		return domain.Quote{}, false
	}
	r.cacheQuote(ctx, opp.ConditionID, sourceFast, q)
	return q, true
}

// repriceOpen quotes every open position. Ids are copied under the lock and
// fetched without it. It returns early with ctx's error on cancellation.
func (r *Runner) repriceOpen(ctx context.Context, name string) (map[string]domain.Quote, bool, error) {
	refs := r.deps.Portfolio.OpenRefs()
	quotes := make(map[string]domain.Quote, len(refs))
	if len(refs) == 0 {
		return quotes, false, nil
	}

	p := r.newPass(ctx, name, r.cfg.RepriceBreaker)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, p.tripped, err
		}
		if q, _, ok := r.priceRef(ctx, p, ref); ok {
			quotes[ref.ConditionID] = q
		}
	}
	return quotes, p.tripped, nil
}

// entryBand picks the band for the UTC day of week. On weekends with the
// weekend regime disabled no entries are allowed.
func (r *Runner) entryBand(now time.Time) (Band, bool) {
	switch now.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		if !r.cfg.WeekendEnabled {
			return r.cfg.Weekend, false
		}
		return r.cfg.Weekend, true
	default:
		return r.cfg.Weekday, true
	}
}

func (r *Runner) logCycle(ctx context.Context, res CycleResult) {
	result := "ok"
	switch {
	case res.Err == nil:
		r.logger.InfoContext(ctx, "cycle complete",
			slog.Int64("scan", res.Scan),
			slog.Int("discovered", res.Discovered),
			slog.Int("verified", res.Verified),
			slog.Int("unscored", res.Unscored),
			slog.Int("entries", res.Entries),
			slog.Int("opened", len(res.Opened)),
			slog.Int("closed", len(res.Closed)),
			slog.Duration("duration", res.Duration),
		)
	case errors.Is(res.Err, context.Canceled):
		result = "cancelled"
	default:
		result = "error"
		r.logger.ErrorContext(ctx, "cycle failed",
			slog.Int64("scan", res.Scan),
			slog.String("error", res.Err.Error()),
		)
		r.emit(ctx, EventError, "Cycle failed", res.Err.Error(), map[string]any{
			"scan":  res.Scan,
			"error": res.Err.Error(),
		})
	}
	r.deps.Metrics.ObserveCycle(result, res.Duration)
}

func candidateOf(opp domain.Opportunity, sc domain.Score) Candidate {
	return Candidate{
		ConditionID: opp.ConditionID,
		Question:    opp.Question,
		City:        opp.City,
		YesPrice:    opp.YesPrice,
		NoPrice:     opp.NoPrice,
		Volume:      opp.Volume,
		Score:       sc.Total,
		Zone:        sc.Zone,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
