package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// quoteTTL bounds how long a stale quote survives; evaluation loops only
// care about the current session.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// stock's latest quote is stored at key "quote:{code}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(code string) string {
	return "quote:" + code
}

// SetQuote stores the latest quote for a stock.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Code)
	fields := map[string]interface{}{
		"price":       strconv.FormatFloat(q.Price, 'f', -1, 64),
		"change_rate": strconv.FormatFloat(q.ChangeRate, 'f', -1, 64),
		"volume":      strconv.FormatInt(q.Volume, 10),
		"ts":          strconv.FormatInt(q.Time.UnixNano(), 10),
	}
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Code, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a stock. It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, code string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(code)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", code, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote price %s: %w", code, err)
	}
	change, _ := strconv.ParseFloat(vals["change_rate"], 64)
	volume, _ := strconv.ParseInt(vals["volume"], 10, 64)
	tsNano, _ := strconv.ParseInt(vals["ts"], 10, 64)

	return domain.Quote{
		Code:       code,
		Price:      price,
		ChangeRate: change,
		Volume:     volume,
		Time:       time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
