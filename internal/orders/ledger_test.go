package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

func newOrder(id, brokerID, code string, side domain.OrderSide, qty int64) domain.Order {
	return domain.Order{
		ID:        id,
		BrokerID:  brokerID,
		Code:      code,
		Side:      side,
		Quantity:  qty,
		Remaining: qty,
		Status:    domain.OrderStatusPending,
	}
}

func TestLedgerRegisterAndLookup(t *testing.T) {
	l := NewLedger()
	o := newOrder("local-1", "broker-1", "005930", domain.OrderSideBuy, 10)
	require.NoError(t, l.Register(o))

	got, err := l.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	got, err = l.GetByBroker("broker-1")
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.ID)

	_, err = l.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerOneLiveOrderPerCodeAndSide(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Register(newOrder("a", "b1", "005930", domain.OrderSideBuy, 10)))

	err := l.Register(newOrder("b", "b2", "005930", domain.OrderSideBuy, 5))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Opposite side on the same code is allowed.
	require.NoError(t, l.Register(newOrder("c", "b3", "005930", domain.OrderSideSell, 10)))
	assert.Len(t, l.LiveByCode("005930"), 2)
}

func TestLedgerUpdateKeepsFillInvariant(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Register(newOrder("a", "b1", "005930", domain.OrderSideBuy, 10)))

	updated, err := l.Update("a", func(o *domain.Order) {
		o.ApplyFill(4, 50_000, o.SubmittedAt)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Filled)
	assert.Equal(t, int64(6), updated.Remaining)
	assert.Equal(t, updated.Quantity, updated.Filled+updated.Remaining)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, updated.Status)
	assert.Len(t, l.Live(), 1, "partially filled orders stay live")
}

func TestLedgerRetiresTerminalOrders(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Register(newOrder("a", "b1", "005930", domain.OrderSideBuy, 10)))

	updated, err := l.Update("a", func(o *domain.Order) {
		o.ApplyFill(10, 50_000, o.SubmittedAt)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, updated.Status)
	assert.Empty(t, l.Live())

	// Retired orders remain addressable for history.
	got, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	// The slot is free for the next order on the same code and side.
	require.NoError(t, l.Register(newOrder("b", "b2", "005930", domain.OrderSideBuy, 5)))
}

func TestLedgerUpdateReindexesBrokerID(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Register(newOrder("a", "b1", "005930", domain.OrderSideBuy, 10)))

	_, err := l.Update("a", func(o *domain.Order) {
		o.BrokerID = "b2"
	})
	require.NoError(t, err)

	got, err := l.GetByBroker("b2")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = l.GetByBroker("b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
