package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFillCumulative(t *testing.T) {
	o := Order{Quantity: 10, Remaining: 10, Status: OrderStatusPending}
	at := time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC)

	o.ApplyFill(4, 50000, at)
	assert.Equal(t, int64(4), o.Filled)
	assert.Equal(t, int64(6), o.Remaining)
	assert.Equal(t, OrderStatusPartiallyFilled, o.Status)
	assert.Nil(t, o.FilledAt)

	// Reports are cumulative totals; a stale smaller total is ignored.
	o.ApplyFill(2, 49900, at)
	assert.Equal(t, int64(4), o.Filled)
	assert.Equal(t, 50000.0, o.AvgFillPrice)

	o.ApplyFill(10, 50100, at)
	assert.Equal(t, int64(10), o.Filled)
	assert.Zero(t, o.Remaining)
	assert.Equal(t, OrderStatusFilled, o.Status)
	require.NotNil(t, o.FilledAt)
	assert.Equal(t, at, *o.FilledAt)
}

func TestApplyFillClampsAboveQuantity(t *testing.T) {
	o := Order{Quantity: 10, Remaining: 10, Status: OrderStatusPending}
	o.ApplyFill(12, 50000, time.Now())
	assert.Equal(t, int64(10), o.Filled)
	assert.Equal(t, int64(10), o.Filled+o.Remaining)
	assert.Equal(t, OrderStatusFilled, o.Status)
}

func TestApplyFillZeroIsNoop(t *testing.T) {
	o := Order{Quantity: 10, Remaining: 10, Status: OrderStatusPending}
	o.ApplyFill(0, 0, time.Now())
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Zero(t, o.Filled)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusFilled.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusFailed.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
}

func TestNextDecisionBar(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	close := time.Date(2025, 3, 14, 15, 30, 0, 0, kst)

	// 09:01:30 rounds up to the 09:03 bucket.
	at := time.Date(2025, 3, 14, 9, 1, 30, 0, kst)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 3, 0, 0, kst), NextDecisionBar(at, close))

	// An exact boundary moves to the next bucket.
	at = time.Date(2025, 3, 14, 9, 3, 0, 0, kst)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 6, 0, 0, kst), NextDecisionBar(at, close))

	// Near the close the bar clips to the close itself.
	at = time.Date(2025, 3, 14, 15, 29, 10, 0, kst)
	assert.Equal(t, close, NextDecisionBar(at, close))
}
