package scorer

import (
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// trajectoryWindow is the number of trailing observations the trajectory
// signal looks at.
const trajectoryWindow = 4

// PriceScore rates the YES price zone. Zone A is [0.06, 0.09), zone B is
// [0.09, 0.12].
func PriceScore(yes float64) (int, domain.Zone) {
	switch {
	case yes >= 0.06 && yes < 0.09:
		return 30, domain.ZoneA
	case yes >= 0.09 && yes <= 0.12:
		return 20, domain.ZoneB
	default:
		return 0, domain.ZoneNone
	}
}

// TrajectoryScore rates the recent YES price movement:
//
//	avg step > 0.02            10  already moved
//	0.005 <= avg step <= 0.02  30  gradual climb
//	total range < 0.01         20  stable
//	otherwise                   0  falling or erratic
//
// It needs at least two observations.
func TrajectoryScore(obs []domain.Observation) int {
	if len(obs) < 2 {
		return 0
	}
	window := obs[max(0, len(obs)-trajectoryWindow):]

	lo, hi := window[0].YesPrice, window[0].YesPrice
	for _, o := range window[1:] {
		lo = min(lo, o.YesPrice)
		hi = max(hi, o.YesPrice)
	}
	variation := hi - lo
	avgChange := (window[len(window)-1].YesPrice - window[0].YesPrice) / float64(len(window)-1)

	// Rounded to absorb float noise at the 0.005 and 0.02 breakpoints.
	avgChange = domain.Round(avgChange, 9)
	variation = domain.Round(variation, 9)

	switch {
	case avgChange > 0.02:
		return 10
	case avgChange >= 0.005:
		return 30
	case variation < 0.01:
		return 20
	default:
		return 0
	}
}

// VolumeScore rates market volume against three thresholds.
func VolumeScore(volume, high, mid, low float64) int {
	switch {
	case volume >= high:
		return 20
	case volume >= mid:
		return 15
	case volume >= low:
		return 10
	default:
		return 0
	}
}

// TimeScore rates the city's local hour. Later in the day the temperature
// outcome is closer to settled. Unknown cities score 0.
func TimeScore(now time.Time, city string, offsets map[string]int) int {
	offset, ok := offsets[city]
	if !ok {
		return 0
	}
	h := LocalHour(now, offset)
	switch {
	case h >= 16:
		return 20
	case h >= 14:
		return 15
	case h >= 12:
		return 10
	case h >= 11:
		return 5
	default:
		return 0
	}
}

// LocalHour returns the hour of day at a fixed UTC offset.
func LocalHour(now time.Time, utcOffset int) int {
	return now.UTC().Add(time.Duration(utcOffset) * time.Hour).Hour()
}
