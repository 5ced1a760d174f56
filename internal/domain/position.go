package domain

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusWon        PositionStatus = "WON"
	PositionStatusLost       PositionStatus = "LOST"
	PositionStatusTakeProfit PositionStatus = "TAKE_PROFIT"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// Position is a simulated YES stake in one market. ConditionID is unique
// across the open and closed sets. Entry fields are fixed at open time;
// CurrentYes moves with price updates until the position closes.
type Position struct {
	ConditionID string
	Question    string
	City        string
	Slug        string
	YesTokenID  string
	EntryTime   time.Time
	EntryYes    float64
	CurrentYes  float64
	TakeProfit  float64
	Allocated   float64
	Tokens      float64
	Status      PositionStatus
	PnL         float64
	CloseTime   *time.Time
	Resolution  string
}

// FloatingPnL is the mark-to-market result at the current YES price.
func (p Position) FloatingPnL() float64 {
	return p.Tokens*p.CurrentYes - p.Allocated
}

// PositionRef identifies an open position for re-pricing.
type PositionRef struct {
	ConditionID string
	YesTokenID  string
	Slug        string
}

// PortfolioState holds the scalar capital fields that are persisted.
type PortfolioState struct {
	InitialCapital   float64
	TotalCapital     float64
	AvailableCapital float64
	SessionStart     time.Time
}

// CapitalPoint is one sample of total capital over time.
type CapitalPoint struct {
	Time    time.Time `json:"time"`
	Capital float64   `json:"capital"`
}
