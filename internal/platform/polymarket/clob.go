package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// PriceClient reads midpoint prices from the Polymarket CLOB (Central Limit
// Order Book) API. It is read-only.
type PriceClient struct {
	rest restClient
}

// NewPriceClient creates a CLOB price client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewPriceClient(baseURL string, opts ClientOptions) *PriceClient {
	return &PriceClient{rest: newRESTClient(baseURL, opts)}
}

// FetchYesPrice returns the midpoint of the YES token with the NO side
// derived from it. A missing or zero midpoint yields domain.ErrNoPrice.
func (c *PriceClient) FetchYesPrice(ctx context.Context, tokenID string) (domain.Quote, error) {
	if tokenID == "" {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: midpoint: %w", domain.ErrNoPrice)
	}

	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.rest.doGet(ctx, "/midpoint?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, err)
	}

	var mp APIMidpoint
	if err := json.Unmarshal(body, &mp); err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}
	mid, err := strconv.ParseFloat(mp.Mid, 64)
	if err != nil || mid <= 0 {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, domain.ErrNoPrice)
	}

	return domain.Quote{Yes: mid, No: domain.Round(1-mid, 4)}, nil
}
