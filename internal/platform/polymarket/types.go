package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. Gamma sends
// volume as "1234.5" on some endpoints and 1234.5 on others.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is a Gamma event with its nested markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Slug    string      `json:"slug"`
	Title   string      `json:"title"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	EndDate string      `json:"endDate"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket is a Gamma market. OutcomePrices and ClobTokenIDs arrive as
// JSON-encoded string arrays.
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	ConditionID   string    `json:"conditionId"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        flexBool  `json:"closed"`
	OutcomePrices string    `json:"outcomePrices"` // e.g. "[\"0.08\",\"0.92\"]"
	ClobTokenIDs  string    `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	Volume        flexFloat `json:"volume"`
	VolumeNum     flexFloat `json:"volumeNum"`
	EndDate       string    `json:"endDate"`
}

// Open reports whether the market is still trading.
func (m *APIMarket) Open() bool {
	return bool(m.Active) && !bool(m.Closed)
}

// TotalVolume prefers the numeric volume field when present.
func (m *APIMarket) TotalVolume() float64 {
	if m.VolumeNum > 0 {
		return float64(m.VolumeNum)
	}
	return float64(m.Volume)
}

// Prices decodes outcomePrices into a YES/NO quote.
func (m *APIMarket) Prices() (domain.Quote, bool) {
	vals := decodeStringArray(m.OutcomePrices)
	if len(vals) < 2 {
		return domain.Quote{}, false
	}
	yes, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return domain.Quote{}, false
	}
	no, err := strconv.ParseFloat(vals[1], 64)
	if err != nil {
		return domain.Quote{}, false
	}
	return domain.Quote{Yes: yes, No: no}, true
}

// YesTokenID returns the first CLOB token id, which is the YES outcome.
func (m *APIMarket) YesTokenID() string {
	ids := decodeStringArray(m.ClobTokenIDs)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// End parses the market end date, falling back to the event's.
func (m *APIMarket) End(eventEnd string) (time.Time, bool) {
	for _, raw := range []string{m.EndDate, eventEnd} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// decodeStringArray parses a JSON-encoded string array. Malformed input
// yields nil.
func decodeStringArray(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIMidpoint is the CLOB /midpoint response.
type APIMidpoint struct {
	Mid string `json:"mid"`
}
