package domain

import (
	"math"
	"time"
)

// Opportunity is a candidate market surfaced by discovery. It lives for one
// cycle unless it becomes a Position.
type Opportunity struct {
	ConditionID string
	Question    string
	City        string
	Slug        string
	YesTokenID  string
	Volume      float64
	YesPrice    float64
	NoPrice     float64
	EndDate     time.Time
}

// WithQuote returns a copy of o priced at q. A missing NO side is derived
// from the YES side.
func (o Opportunity) WithQuote(q Quote) Opportunity {
	o.YesPrice = q.Yes
	o.NoPrice = q.No
	if o.NoPrice <= 0 {
		o.NoPrice = Round(1-q.Yes, 4)
	}
	return o
}

// Quote is a YES/NO price pair for one binary market.
type Quote struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Observation is one recorded YES price sample.
type Observation struct {
	At       time.Time
	YesPrice float64
	Volume   float64
}

// Zone labels the YES price sub-range used for scoring.
type Zone string

const (
	ZoneA    Zone = "A"
	ZoneB    Zone = "B"
	ZoneNone Zone = "-"
)

// Score is the composite 0-100 rating of a market, derived from its
// observation history.
type Score struct {
	Total        int  `json:"total"`
	Price        int  `json:"price"`
	Trajectory   int  `json:"trajectory"`
	Volume       int  `json:"volume"`
	Time         int  `json:"time"`
	Observations int  `json:"observations"`
	Zone         Zone `json:"zone"`
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
