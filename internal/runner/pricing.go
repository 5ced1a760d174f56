package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// Price source labels used in logs, metrics and the quote cache.
const (
	sourceFast     = "clob"
	sourceFallback = "gamma"
)

// Breaker scopes.
const (
	passDiscovery = "discovery"
	passReprice   = "reprice"
	passRefresh   = "refresh"
)

// pass is one bounded sweep over the fast price source. Its breaker opens
// after threshold consecutive failures and stays open for the rest of the
// sweep; the next sweep builds a new one.
type pass struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	tripped bool
}

func (r *Runner) newPass(ctx context.Context, name string, threshold int) *pass {
	if threshold < 1 {
		threshold = 1
	}
	p := &pass{name: name}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     24 * time.Hour,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to != gobreaker.StateOpen {
				return
			}
			p.tripped = true
			r.deps.Metrics.BreakerTripped(name)
			r.logger.WarnContext(ctx, "fast price source unreliable, skipping it for the rest of the pass",
				slog.String("pass", name),
				slog.Int("consecutive_failures", threshold),
			)
		},
	})
	return p
}

// open reports whether the pass has stopped using the fast source.
func (p *pass) open() bool {
	return p.cb.State() == gobreaker.StateOpen
}

// fetchFast asks the fast source for a quote through the pass breaker. An
// inverted YES price counts as a failure.
func (r *Runner) fetchFast(ctx context.Context, p *pass, tokenID string) (domain.Quote, error) {
	v, err := p.cb.Execute(func() (interface{}, error) {
		q, err := r.deps.Prices.FetchYesPrice(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if q.Yes <= 0 {
			return nil, domain.ErrNoPrice
		}
		if q.Yes > r.cfg.InvertedPriceAbove {
			return nil, fmt.Errorf("%w: yes=%.3f", domain.ErrInvertedPrice, q.Yes)
		}
		return q, nil
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) {
			r.deps.Metrics.PriceFetch(sourceFast, "error")
			r.logger.DebugContext(ctx, "fast price fetch failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Quote{}, err
	}
	q := v.(domain.Quote)
	if q.No <= 0 {
		q.No = domain.Round(1-q.Yes, 4)
	}
	r.deps.Metrics.PriceFetch(sourceFast, "ok")
	return q, nil
}

// priceRef prices an open position: fast source first, then the fallback
// when the fast source failed, is tripped, or the position has no token id.
func (r *Runner) priceRef(ctx context.Context, p *pass, ref domain.PositionRef) (domain.Quote, string, bool) {
	if ref.YesTokenID != "" && r.deps.Prices != nil {
		if q, err := r.fetchFast(ctx, p, ref.YesTokenID); err == nil {
			r.cacheQuote(ctx, ref.ConditionID, sourceFast, q)
			return q, sourceFast, true
		}
	}
	if ref.Slug == "" || r.deps.Fallback == nil {
		return domain.Quote{}, "", false
	}
	q, err := r.deps.Fallback.FetchLivePrices(ctx, ref.Slug)
	if err != nil {
		r.deps.Metrics.PriceFetch(sourceFallback, "error")
		r.logger.DebugContext(ctx, "fallback price fetch failed",
			slog.String("slug", ref.Slug),
			slog.String("error", err.Error()),
		)
		return domain.Quote{}, "", false
	}
	r.deps.Metrics.PriceFetch(sourceFallback, "ok")
	r.cacheQuote(ctx, ref.ConditionID, sourceFallback, q)
	return q, sourceFallback, true
}

func (r *Runner) cacheQuote(ctx context.Context, conditionID, source string, q domain.Quote) {
	if r.deps.Quotes == nil {
		return
	}
	if err := r.deps.Quotes.SetQuote(ctx, conditionID, source, q, r.now().UTC()); err != nil {
		r.logger.DebugContext(ctx, "quote cache write failed",
			slog.String("condition_id", conditionID),
			slog.String("error", err.Error()),
		)
	}
}
