package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to the latest quote per stock, so
// evaluation loops can read prices without a broker round trip.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, code string) (Quote, error)
}

// RateLimiter provides distributed rate limiting for broker calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
