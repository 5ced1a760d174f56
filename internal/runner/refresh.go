package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// minLoggedMove is the smallest YES price change worth an info log line.
const minLoggedMove = 0.001

// refreshLoop re-prices open positions every RefreshInterval. A panic ends
// the loop; the cycle loop's watchdog starts a new one.
func (r *Runner) refreshLoop(ctx context.Context, w *worker) {
	defer r.wg.Done()
	defer close(w.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "price refresh loop crashed",
				slog.String("error", fmt.Sprint(rec)),
			)
		}
	}()

	r.logger.InfoContext(ctx, "price refresh loop started")
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "price refresh loop stopped")
			return
		case <-ticker.C:
			r.RefreshPrices(ctx)
		}
	}
}

// RefreshPrices updates the current YES price of every open position. It
// never closes positions; exits are evaluated by the cycle.
func (r *Runner) RefreshPrices(ctx context.Context) {
	refs := r.deps.Portfolio.OpenRefs()
	if len(refs) == 0 {
		r.setLastPriceUpdate(r.now().UTC())
		return
	}

	p := r.newPass(ctx, passRefresh, r.cfg.RepriceBreaker)
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		q, source, ok := r.priceRef(ctx, p, ref)
		if !ok {
			continue
		}
		old, open := r.deps.Portfolio.RefreshPrice(ref.ConditionID, q.Yes)
		if open && math.Abs(q.Yes-old) >= minLoggedMove {
			label := ref.Slug
			if label == "" {
				label = ref.ConditionID
			}
			r.logger.InfoContext(ctx, "YES price moved",
				slog.String("source", source),
				slog.String("market", truncate(label, 30)),
				slog.Float64("from", old),
				slog.Float64("to", q.Yes),
			)
		}
	}
	if r.breakerAlert(passRefresh, p.tripped) {
		r.emitBreaker(ctx, passRefresh)
	}
	r.setLastPriceUpdate(r.now().UTC())
}
