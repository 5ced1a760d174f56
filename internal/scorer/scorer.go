// Package scorer keeps a short rolling YES price history per market and rates
// each market 0-100 from four independent signals: price zone, trajectory,
// volume and local time of day.
package scorer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// DefaultMaxHistory is the per-market observation cap used when Config leaves
// MaxHistory unset.
const DefaultMaxHistory = 50

// Config holds the scorer's tunable inputs.
type Config struct {
	VolumeHigh float64
	VolumeMid  float64
	VolumeLow  float64
	HistoryTTL time.Duration
	MaxHistory int
	// UTCOffsets maps a city slug to its fixed offset from UTC in hours.
	UTCOffsets map[string]int
}

type history struct {
	city string
	obs  []domain.Observation
}

// Scorer owns the observation history of every tracked market. All methods
// are safe for concurrent use.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	markets map[string]*history
}

// New creates a Scorer.
func New(cfg Config, logger *slog.Logger) *Scorer {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &Scorer{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scorer")),
		now:     time.Now,
		markets: make(map[string]*history),
	}
}

// Record appends one YES price observation for a market, creating its history
// if needed and trimming it to the most recent MaxHistory entries.
func (s *Scorer) Record(conditionID string, yesPrice, volume float64, city string) {
	obs := domain.Observation{At: s.now().UTC(), YesPrice: yesPrice, Volume: volume}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.markets[conditionID]
	if !ok {
		h = &history{}
		s.markets[conditionID] = h
	}
	if city != "" {
		h.city = city
	}
	h.obs = append(h.obs, obs)
	if over := len(h.obs) - s.cfg.MaxHistory; over > 0 {
		h.obs = append(h.obs[:0:0], h.obs[over:]...)
	}
}

// Score computes the market's current score from its full retained history.
// The history is copied under the lock and scored outside it.
func (s *Scorer) Score(conditionID, city string) domain.Score {
	s.mu.Lock()
	var obs []domain.Observation
	if h, ok := s.markets[conditionID]; ok {
		obs = make([]domain.Observation, len(h.obs))
		copy(obs, h.obs)
	}
	s.mu.Unlock()

	return s.compute(obs, city, s.now())
}

// AllScores returns a score for every tracked market, keyed by condition id.
// Each market is scored against the city it was last recorded with.
func (s *Scorer) AllScores() map[string]domain.Score {
	type entry struct {
		id   string
		city string
		obs  []domain.Observation
	}

	s.mu.Lock()
	entries := make([]entry, 0, len(s.markets))
	for id, h := range s.markets {
		obs := make([]domain.Observation, len(h.obs))
		copy(obs, h.obs)
		entries = append(entries, entry{id: id, city: h.city, obs: obs})
	}
	s.mu.Unlock()

	now := s.now()
	out := make(map[string]domain.Score, len(entries))
	for _, e := range entries {
		out[e.id] = s.compute(e.obs, e.city, now)
	}
	return out
}

// Tracked returns the number of markets with retained history.
func (s *Scorer) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markets)
}

// PurgeOld drops every market whose most recent observation is older than
// HistoryTTL and returns how many were removed.
func (s *Scorer) PurgeOld() int {
	if s.cfg.HistoryTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.HistoryTTL)

	s.mu.Lock()
	purged := 0
	for id, h := range s.markets {
		if n := len(h.obs); n > 0 && h.obs[n-1].At.Before(cutoff) {
			delete(s.markets, id)
			purged++
		}
	}
	s.mu.Unlock()

	if purged > 0 {
		s.logger.Info("purged stale market histories", slog.Int("count", purged))
	}
	return purged
}

func (s *Scorer) compute(obs []domain.Observation, city string, now time.Time) domain.Score {
	if len(obs) == 0 {
		return domain.Score{Zone: domain.ZoneNone}
	}
	last := obs[len(obs)-1]

	price, zone := PriceScore(last.YesPrice)
	sc := domain.Score{
		Price:        price,
		Trajectory:   TrajectoryScore(obs),
		Volume:       VolumeScore(last.Volume, s.cfg.VolumeHigh, s.cfg.VolumeMid, s.cfg.VolumeLow),
		Time:         TimeScore(now, city, s.cfg.UTCOffsets),
		Observations: len(obs),
		Zone:         zone,
	}
	sc.Total = sc.Price + sc.Trajectory + sc.Volume + sc.Time
	return sc
}
