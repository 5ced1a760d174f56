package portfolio

import (
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// Snapshot is the externally visible projection of a portfolio.
type Snapshot struct {
	InitialCapital   float64               `json:"initial_capital"`
	TotalCapital     float64               `json:"total_capital"`
	AvailableCapital float64               `json:"available_capital"`
	PnL              float64               `json:"pnl"`
	ROI              float64               `json:"roi"`
	Won              int                   `json:"won"`
	Lost             int                   `json:"lost"`
	TakeProfit       int                   `json:"take_profit"`
	Liquidated       int                   `json:"liquidated"`
	OpenPositions    []OpenPositionView    `json:"open_positions"`
	ClosedPositions  []ClosedPositionView  `json:"closed_positions"`
	CapitalHistory   []domain.CapitalPoint `json:"capital_history"`
	SessionStart     time.Time             `json:"session_start"`
	Insights         *Insights             `json:"insights"`
}

// OpenPositionView is an open position marked to its current price.
type OpenPositionView struct {
	ConditionID string                `json:"condition_id"`
	Question    string                `json:"question"`
	City        string                `json:"city"`
	EntryYes    float64               `json:"entry_yes"`
	CurrentYes  float64               `json:"current_yes"`
	TakeProfit  float64               `json:"take_profit"`
	Allocated   float64               `json:"allocated"`
	PnL         float64               `json:"pnl"`
	EntryTime   time.Time             `json:"entry_time"`
	Status      domain.PositionStatus `json:"status"`
}

// ClosedPositionView is a settled position.
type ClosedPositionView struct {
	ConditionID string                `json:"condition_id"`
	Question    string                `json:"question"`
	City        string                `json:"city"`
	EntryYes    float64               `json:"entry_yes"`
	Allocated   float64               `json:"allocated"`
	PnL         float64               `json:"pnl"`
	Status      domain.PositionStatus `json:"status"`
	Resolution  string                `json:"resolution"`
	EntryTime   time.Time             `json:"entry_time"`
	CloseTime   *time.Time            `json:"close_time,omitempty"`
}

func (b *Book) snapshot() Snapshot {
	pnl := b.total - b.initial
	var roi float64
	if b.initial != 0 {
		roi = pnl / b.initial * 100
	}

	snap := Snapshot{
		InitialCapital:   domain.Round(b.initial, 2),
		TotalCapital:     domain.Round(b.total, 2),
		AvailableCapital: domain.Round(b.available, 2),
		PnL:              domain.Round(pnl, 2),
		ROI:              domain.Round(roi, 2),
		OpenPositions:    make([]OpenPositionView, 0, len(b.open)),
		ClosedPositions:  make([]ClosedPositionView, 0, len(b.closed)),
		CapitalHistory:   make([]domain.CapitalPoint, len(b.history)),
		SessionStart:     b.session,
		Insights:         ComputeInsights(b.closed),
	}
	copy(snap.CapitalHistory, b.history)

	for _, id := range b.openIDs() {
		pos := b.open[id]
		snap.OpenPositions = append(snap.OpenPositions, OpenPositionView{
			ConditionID: pos.ConditionID,
			Question:    pos.Question,
			City:        pos.City,
			EntryYes:    pos.EntryYes,
			CurrentYes:  pos.CurrentYes,
			TakeProfit:  pos.TakeProfit,
			Allocated:   domain.Round(pos.Allocated, 2),
			PnL:         domain.Round(pos.FloatingPnL(), 2),
			EntryTime:   pos.EntryTime,
			Status:      pos.Status,
		})
	}

	for _, pos := range b.closed {
		switch pos.Status {
		case domain.PositionStatusLiquidated:
			snap.Liquidated++
		case domain.PositionStatusTakeProfit:
			snap.TakeProfit++
		}
		if pos.Status != domain.PositionStatusLiquidated {
			if pos.PnL > 0 {
				snap.Won++
			} else {
				snap.Lost++
			}
		}
		snap.ClosedPositions = append(snap.ClosedPositions, ClosedPositionView{
			ConditionID: pos.ConditionID,
			Question:    pos.Question,
			City:        pos.City,
			EntryYes:    pos.EntryYes,
			Allocated:   domain.Round(pos.Allocated, 2),
			PnL:         domain.Round(pos.PnL, 2),
			Status:      pos.Status,
			Resolution:  pos.Resolution,
			EntryTime:   pos.EntryTime,
			CloseTime:   pos.CloseTime,
		})
	}
	return snap
}
