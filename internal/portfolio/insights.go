package portfolio

import (
	"sort"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

const (
	minInsightTrades = 5
	minBucketTrades  = 2
	maxBuckets       = 6
)

// Insights summarises win rates over closed, non-liquidated positions.
type Insights struct {
	OverallWinRate float64     `json:"overall_win_rate"`
	TotalTrades    int         `json:"total_trades"`
	ByHour         []HourStats `json:"by_hour"`
	ByCity         []CityStats `json:"by_city"`
}

// HourStats is the win rate for positions entered at one UTC hour.
type HourStats struct {
	Hour    int     `json:"hour"`
	WinRate float64 `json:"win_rate"`
	Trades  int     `json:"trades"`
}

// CityStats is the win rate for one city.
type CityStats struct {
	City    string  `json:"city"`
	WinRate float64 `json:"win_rate"`
	Trades  int     `json:"trades"`
}

type tally struct{ won, total int }

func (t tally) rate() float64 { return domain.Round(float64(t.won)/float64(t.total), 2) }

// ComputeInsights returns nil when fewer than five qualifying positions have
// closed. A position counts as won when its pnl is positive.
func ComputeInsights(closed []domain.Position) *Insights {
	var (
		total, won int
		byHour     = map[int]*tally{}
		byCity     = map[string]*tally{}
	)
	for _, pos := range closed {
		if pos.Status == domain.PositionStatusLiquidated {
			continue
		}
		total++
		isWin := pos.PnL > 0
		if isWin {
			won++
		}

		city := pos.City
		if city == "" {
			city = "unknown"
		}
		buckets := []*tally{bucket(byCity, city)}
		if !pos.EntryTime.IsZero() {
			buckets = append(buckets, bucket(byHour, pos.EntryTime.UTC().Hour()))
		}
		for _, t := range buckets {
			t.total++
			if isWin {
				t.won++
			}
		}
	}
	if total < minInsightTrades {
		return nil
	}

	out := &Insights{
		OverallWinRate: domain.Round(float64(won)/float64(total), 2),
		TotalTrades:    total,
		ByHour:         []HourStats{},
		ByCity:         []CityStats{},
	}
	for h, t := range byHour {
		if t.total >= minBucketTrades {
			out.ByHour = append(out.ByHour, HourStats{Hour: h, WinRate: t.rate(), Trades: t.total})
		}
	}
	for c, t := range byCity {
		if t.total >= minBucketTrades {
			out.ByCity = append(out.ByCity, CityStats{City: c, WinRate: t.rate(), Trades: t.total})
		}
	}
	sort.Slice(out.ByHour, func(i, j int) bool {
		if out.ByHour[i].WinRate != out.ByHour[j].WinRate {
			return out.ByHour[i].WinRate > out.ByHour[j].WinRate
		}
		return out.ByHour[i].Hour < out.ByHour[j].Hour
	})
	sort.Slice(out.ByCity, func(i, j int) bool {
		if out.ByCity[i].WinRate != out.ByCity[j].WinRate {
			return out.ByCity[i].WinRate > out.ByCity[j].WinRate
		}
		return out.ByCity[i].City < out.ByCity[j].City
	})
	if len(out.ByHour) > maxBuckets {
		out.ByHour = out.ByHour[:maxBuckets]
	}
	if len(out.ByCity) > maxBuckets {
		out.ByCity = out.ByCity[:maxBuckets]
	}
	return out
}

func bucket[K comparable](m map[K]*tally, k K) *tally {
	t, ok := m[k]
	if !ok {
		t = &tally{}
		m[k] = t
	}
	return t
}
