package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// Event names shared by notifications and the audit log.
const (
	EventPositionOpened     = "position_opened"
	EventPositionClosed     = "position_closed"
	EventPositionLiquidated = "position_liquidated"
	EventBreakerOpen        = "breaker_open"
	EventError              = "error"
)

// emit fans an event out to the notifier and the audit log. Called outside
// the portfolio lock; failures are logged only.
func (r *Runner) emit(ctx context.Context, event, title, message string, detail map[string]any) {
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Notify(ctx, event, title, message); err != nil {
			r.logger.WarnContext(ctx, "notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.deps.Audit != nil {
		if err := r.deps.Audit.Log(ctx, event, detail); err != nil {
			r.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Runner) emitOpened(ctx context.Context, pos domain.Position, sc domain.Score) {
	r.deps.Metrics.PositionOpened()
	r.emit(ctx, EventPositionOpened,
		"Position opened",
		fmt.Sprintf("%s\nYES %.1f¢  $%.2f  score %d zone %s", pos.Question, pos.EntryYes*100, pos.Allocated, sc.Total, sc.Zone),
		map[string]any{
			"condition_id": pos.ConditionID,
			"city":         pos.City,
			"entry_yes":    pos.EntryYes,
			"allocated":    pos.Allocated,
			"tokens":       pos.Tokens,
			"score":        sc.Total,
			"zone":         string(sc.Zone),
		},
	)
}

func (r *Runner) emitClosed(ctx context.Context, pos domain.Position) {
	r.deps.Metrics.PositionClosed(string(pos.Status))
	event := EventPositionClosed
	if pos.Status == domain.PositionStatusLiquidated {
		event = EventPositionLiquidated
	}
	r.emit(ctx, event,
		fmt.Sprintf("Position %s", pos.Status),
		fmt.Sprintf("%s\n%s\nPnL $%.2f", pos.Question, pos.Resolution, pos.PnL),
		map[string]any{
			"condition_id": pos.ConditionID,
			"city":         pos.City,
			"status":       string(pos.Status),
			"entry_yes":    pos.EntryYes,
			"current_yes":  pos.CurrentYes,
			"allocated":    pos.Allocated,
			"pnl":          pos.PnL,
			"resolution":   pos.Resolution,
		},
	)
}

// breakerAlert records whether the named pass tripped and reports true only
// when it trips after a healthy pass. A source that stays down alerts once.
func (r *Runner) breakerAlert(name string, tripped bool) bool {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.breakerOpen == nil {
		r.breakerOpen = make(map[string]bool)
	}
	was := r.breakerOpen[name]
	r.breakerOpen[name] = tripped
	return tripped && !was
}

func (r *Runner) emitBreaker(ctx context.Context, name string) {
	r.emit(ctx, EventBreakerOpen,
		"Price source breaker open",
		fmt.Sprintf("fast price source skipped for the rest of the %s pass", name),
		map[string]any{"pass": name},
	)
}
