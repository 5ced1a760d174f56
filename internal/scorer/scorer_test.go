package scorer

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScorer(t *testing.T, at time.Time) (*Scorer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: at}
	s := New(Config{
		VolumeHigh: 500,
		VolumeMid:  300,
		VolumeLow:  200,
		HistoryTTL: time.Hour,
		UTCOffsets: map[string]int{"nyc": -5, "london": 0},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = clock.Now
	return s, clock
}

func obsOf(prices ...float64) []domain.Observation {
	out := make([]domain.Observation, len(prices))
	for i, p := range prices {
		out[i] = domain.Observation{YesPrice: p}
	}
	return out
}

func TestPriceScore(t *testing.T) {
	cases := []struct {
		yes  float64
		pts  int
		zone domain.Zone
	}{
		{0.05, 0, domain.ZoneNone},
		{0.06, 30, domain.ZoneA},
		{0.0899, 30, domain.ZoneA},
		{0.09, 20, domain.ZoneB},
		{0.12, 20, domain.ZoneB},
		{0.1201, 0, domain.ZoneNone},
	}
	for _, tc := range cases {
		pts, zone := PriceScore(tc.yes)
		assert.Equal(t, tc.pts, pts, "yes=%v", tc.yes)
		assert.Equal(t, tc.zone, zone, "yes=%v", tc.yes)
	}
}

func TestTrajectoryScore(t *testing.T) {
	assert.Equal(t, 0, TrajectoryScore(nil))
	assert.Equal(t, 0, TrajectoryScore(obsOf(0.07)), "needs two observations")
	assert.Equal(t, 30, TrajectoryScore(obsOf(0.06, 0.07, 0.08, 0.09)), "gradual climb")
	assert.Equal(t, 10, TrajectoryScore(obsOf(0.06, 0.09)), "fast climb")
	assert.Equal(t, 20, TrajectoryScore(obsOf(0.080, 0.082, 0.081, 0.083)), "stable")
	assert.Equal(t, 0, TrajectoryScore(obsOf(0.10, 0.08, 0.07)), "falling")
	assert.Equal(t, 30, TrajectoryScore(obsOf(0.06, 0.065)), "0.005 step is gradual")
	assert.Equal(t, 30, TrajectoryScore(obsOf(0.06, 0.08)), "0.02 step is gradual")
}

func TestTrajectoryUsesLastFourObservations(t *testing.T) {
	// The early crash falls outside the window.
	obs := obsOf(0.30, 0.05, 0.07, 0.08, 0.09, 0.10)
	assert.Equal(t, 30, TrajectoryScore(obs))
}

func TestVolumeScore(t *testing.T) {
	assert.Equal(t, 20, VolumeScore(500, 500, 300, 200))
	assert.Equal(t, 15, VolumeScore(499, 500, 300, 200))
	assert.Equal(t, 10, VolumeScore(200, 500, 300, 200))
	assert.Equal(t, 0, VolumeScore(199.99, 500, 300, 200))
}

func TestTimeScore(t *testing.T) {
	offsets := map[string]int{"nyc": -5}
	at := func(hourUTC int) time.Time { return time.Date(2026, 3, 2, hourUTC, 30, 0, 0, time.UTC) }

	assert.Equal(t, 0, TimeScore(at(12), "unknown", offsets))
	assert.Equal(t, 0, TimeScore(at(15), "nyc", offsets))  // 10h local
	assert.Equal(t, 5, TimeScore(at(16), "nyc", offsets))  // 11h
	assert.Equal(t, 10, TimeScore(at(18), "nyc", offsets)) // 13h
	assert.Equal(t, 15, TimeScore(at(19), "nyc", offsets)) // 14h
	assert.Equal(t, 20, TimeScore(at(21), "nyc", offsets)) // 16h
	assert.Equal(t, 20, TimeScore(at(4), "nyc", offsets))  // 23h previous day
}

func TestScoreTotalsSubScores(t *testing.T) {
	s, clock := newTestScorer(t, time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))

	for _, p := range []float64{0.06, 0.07, 0.08, 0.09} {
		s.Record("m1", p, 350, "nyc")
		clock.Advance(time.Minute)
	}

	sc := s.Score("m1", "nyc")
	assert.Equal(t, 20, sc.Price, "0.09 is zone B")
	assert.Equal(t, domain.ZoneB, sc.Zone)
	assert.Equal(t, 30, sc.Trajectory)
	assert.Equal(t, 15, sc.Volume)
	assert.Equal(t, 20, sc.Time)
	assert.Equal(t, 4, sc.Observations)
	assert.Equal(t, sc.Price+sc.Trajectory+sc.Volume+sc.Time, sc.Total)
	assert.Equal(t, 85, sc.Total)
}

func TestScoreUnknownMarket(t *testing.T) {
	s, _ := newTestScorer(t, time.Now())
	sc := s.Score("missing", "nyc")
	assert.Equal(t, domain.Score{Zone: domain.ZoneNone}, sc)
}

func TestScoreSingleObservationHasNoTrajectory(t *testing.T) {
	s, _ := newTestScorer(t, time.Now())
	s.Record("m1", 0.07, 600, "nyc")
	sc := s.Score("m1", "nyc")
	assert.Equal(t, 0, sc.Trajectory)
	assert.Equal(t, 1, sc.Observations)
}

func TestRecordTrimsHistory(t *testing.T) {
	s, _ := newTestScorer(t, time.Now())
	for i := 0; i < DefaultMaxHistory+10; i++ {
		s.Record("m1", 0.07, 100, "nyc")
	}
	assert.Equal(t, DefaultMaxHistory, s.Score("m1", "nyc").Observations)
}

func TestAllScoresUsesRecordedCity(t *testing.T) {
	s, _ := newTestScorer(t, time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC))
	s.Record("m1", 0.07, 600, "london")
	s.Record("m2", 0.10, 100, "")

	all := s.AllScores()
	require.Len(t, all, 2)
	assert.Equal(t, 20, all["m1"].Time, "17h in london")
	assert.Equal(t, 0, all["m2"].Time)
	assert.Equal(t, 2, s.Tracked())
}

func TestPurgeOld(t *testing.T) {
	s, clock := newTestScorer(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	s.Record("stale", 0.07, 300, "nyc")
	clock.Advance(50 * time.Minute)
	s.Record("fresh", 0.07, 300, "nyc")
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, s.PurgeOld())
	all := s.AllScores()
	assert.NotContains(t, all, "stale")
	assert.Contains(t, all, "fresh")
}

func TestConcurrentRecordAndScore(t *testing.T) {
	s, _ := newTestScorer(t, time.Now())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Record("m1", 0.07, 300, "nyc")
				_ = s.Score("m1", "nyc")
				_ = s.AllScores()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultMaxHistory, s.Score("m1", "nyc").Observations)
}
