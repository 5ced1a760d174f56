package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/scorer"
)

// ScanConfig selects which Gamma weather markets are surfaced.
type ScanConfig struct {
	TagSlug      string
	EventLimit   int
	MinYesPrice  float64
	MaxYesPrice  float64
	MinVolume    float64
	DaysAhead    int
	MinLocalHour int
	Cities       []string
	UTCOffsets   map[string]int
}

// GammaClient is the REST client for the Polymarket Gamma API. It serves as
// the discovery source and the slug-keyed fallback price source.
type GammaClient struct {
	rest   restClient
	scan   ScanConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ClientOptions, scan ScanConfig, logger *slog.Logger) *GammaClient {
	if scan.TagSlug == "" {
		scan.TagSlug = "weather"
	}
	if scan.EventLimit <= 0 {
		scan.EventLimit = 200
	}
	return &GammaClient{
		rest:   newRESTClient(baseURL, opts),
		scan:   scan,
		logger: logger.With(slog.String("component", "gamma")),
		now:    time.Now,
	}
}

// GetEvents returns active, unclosed events carrying the given tag.
func (g *GammaClient) GetEvents(ctx context.Context, tagSlug string, limit int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("tag_slug", tagSlug)
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.rest.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// GetMarketBySlug retrieves a single market by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.rest.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	if len(markets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: market slug %s: %w", slug, domain.ErrNotFound)
	}
	return markets[0], nil
}

// FetchLivePrices returns the outcome prices Gamma lists for slug.
func (g *GammaClient) FetchLivePrices(ctx context.Context, slug string) (domain.Quote, error) {
	if slug == "" {
		return domain.Quote{}, fmt.Errorf("polymarket/gamma: live prices: %w", domain.ErrNoPrice)
	}
	m, err := g.GetMarketBySlug(ctx, slug)
	if err != nil {
		return domain.Quote{}, err
	}
	q, ok := m.Prices()
	if !ok {
		return domain.Quote{}, fmt.Errorf("polymarket/gamma: live prices %s: %w", slug, domain.ErrNoPrice)
	}
	return q, nil
}

// Scan lists weather events and returns the markets that pass every
// discovery filter, ranked by volume descending. Markets in excluded are
// skipped.
func (g *GammaClient) Scan(ctx context.Context, excluded map[string]struct{}) ([]domain.Opportunity, error) {
	events, err := g.GetEvents(ctx, g.scan.TagSlug, g.scan.EventLimit)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	seen := make(map[string]struct{})
	var out []domain.Opportunity
	var dropped int

	for i := range events {
		ev := &events[i]
		for j := range ev.Markets {
			m := &ev.Markets[j]
			if m.ConditionID == "" {
				continue
			}
			if _, dup := seen[m.ConditionID]; dup {
				continue
			}
			seen[m.ConditionID] = struct{}{}

			opp, ok := g.accept(ev, m, now, excluded)
			if !ok {
				dropped++
				continue
			}
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Volume > out[j].Volume
	})

	g.logger.DebugContext(ctx, "weather scan complete",
		slog.Int("events", len(events)),
		slog.Int("accepted", len(out)),
		slog.Int("dropped", dropped),
	)
	return out, nil
}

func (g *GammaClient) accept(ev *APIEvent, m *APIMarket, now time.Time, excluded map[string]struct{}) (domain.Opportunity, bool) {
	if _, skip := excluded[m.ConditionID]; skip {
		return domain.Opportunity{}, false
	}
	if !m.Open() {
		return domain.Opportunity{}, false
	}

	city := matchCity(g.scan.Cities, m.Slug, ev.Slug)
	if city == "" {
		return domain.Opportunity{}, false
	}

	volume := m.TotalVolume()
	if volume < g.scan.MinVolume {
		return domain.Opportunity{}, false
	}

	q, ok := m.Prices()
	if !ok || q.Yes < g.scan.MinYesPrice || q.Yes > g.scan.MaxYesPrice {
		return domain.Opportunity{}, false
	}

	tokenID := m.YesTokenID()
	if tokenID == "" {
		return domain.Opportunity{}, false
	}

	end, ok := m.End(ev.EndDate)
	if !ok || !withinDays(end, now, g.scan.DaysAhead) {
		return domain.Opportunity{}, false
	}

	if g.scan.MinLocalHour > 0 {
		offset, known := g.scan.UTCOffsets[city]
		if !known || scorer.LocalHour(now, offset) < g.scan.MinLocalHour {
			return domain.Opportunity{}, false
		}
	}

	return domain.Opportunity{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		City:        city,
		Slug:        m.Slug,
		YesTokenID:  tokenID,
		Volume:      volume,
		YesPrice:    q.Yes,
		NoPrice:     q.No,
		EndDate:     end,
	}, true
}

// matchCity returns the longest configured city slug found as a
// hyphen-delimited segment of any of the given slugs.
func matchCity(cities []string, slugs ...string) string {
	best := ""
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		padded := "-" + strings.ToLower(slug) + "-"
		for _, c := range cities {
			if c == "" || len(c) <= len(best) {
				continue
			}
			if strings.Contains(padded, "-"+strings.ToLower(c)+"-") {
				best = c
			}
		}
	}
	return best
}

// withinDays reports whether end is in the future and falls on or before the
// UTC calendar day days after now.
func withinDays(end, now time.Time, days int) bool {
	if !end.After(now) {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.Before(today.AddDate(0, 0, days+1))
}
