package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each market is stored at "quote:{conditionID}" with fields "yes", "no",
// "source" and "ts" (Unix nanoseconds). Keys expire after ttl.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by c. A zero ttl keeps keys
// forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.rdb, ttl: ttl}
}

func quoteKey(conditionID string) string {
	return "quote:" + conditionID
}

// SetQuote stores the latest quote for a market.
func (qc *QuoteCache) SetQuote(ctx context.Context, conditionID, source string, q domain.Quote, ts time.Time) error {
	key := quoteKey(conditionID)
	fields := map[string]interface{}{
		"yes":    strconv.FormatFloat(q.Yes, 'f', -1, 64),
		"no":     strconv.FormatFloat(q.No, 'f', -1, 64),
		"source": source,
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", conditionID, err)
	}
	return nil
}

// GetQuote returns the cached quote and when it was observed. It returns
// domain.ErrNotFound when nothing is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, conditionID string) (domain.Quote, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(conditionID)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", conditionID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}

	var q domain.Quote
	if q.Yes, err = strconv.ParseFloat(vals["yes"], 64); err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse yes %s: %w", conditionID, err)
	}
	if q.No, err = strconv.ParseFloat(vals["no"], 64); err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse no %s: %w", conditionID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", conditionID, err)
	}

	return q, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
