package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
	"github.com/tgparkk/RoboTrader-sub001/internal/marketdata"
)

// stubBroker implements domain.Broker with programmable responses.
type stubBroker struct {
	placeFn  func(req domain.OrderRequest) (domain.OrderResult, error)
	statusFn func(brokerID string) (domain.OrderStatusReport, error)
	cancelFn func(brokerID string) error
	priceFn  func(code string) (domain.Quote, error)

	placeCalls  int
	cancelCalls int
	priceCalls  int
}

func (s *stubBroker) CurrentPrice(ctx context.Context, code string) (domain.Quote, error) {
	s.priceCalls++
	if s.priceFn == nil {
		return domain.Quote{}, errors.New("no price")
	}
	return s.priceFn(code)
}

func (s *stubBroker) HistoricalBars(ctx context.Context, code string, from, to time.Time) ([]domain.Bar, error) {
	return nil, nil
}

func (s *stubBroker) RealtimeBars(ctx context.Context, code string, since time.Time) ([]domain.Bar, error) {
	return nil, nil
}

func (s *stubBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.placeCalls++
	if s.placeFn == nil {
		return domain.OrderResult{Success: true, BrokerID: fmt.Sprintf("broker-%d", s.placeCalls)}, nil
	}
	return s.placeFn(req)
}

func (s *stubBroker) OrderStatus(ctx context.Context, brokerID string) (domain.OrderStatusReport, error) {
	if s.statusFn == nil {
		return domain.OrderStatusReport{BrokerID: brokerID}, nil
	}
	return s.statusFn(brokerID)
}

func (s *stubBroker) CancelOrder(ctx context.Context, brokerID string) error {
	s.cancelCalls++
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(brokerID)
}

type managerFixture struct {
	broker  *stubBroker
	ledger  *Ledger
	manager *Manager
	session marketdata.Session
	clock   time.Time
	events  []Event
}

func newManagerFixture(t *testing.T, cfg ManagerConfig) *managerFixture {
	t.Helper()
	session, err := marketdata.NewSession("09:00", "15:30", "Asia/Seoul")
	require.NoError(t, err)

	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.BuyTimeout == 0 {
		cfg.BuyTimeout = 300 * time.Second
	}
	if cfg.SellTimeout == 0 {
		cfg.SellTimeout = 180 * time.Second
	}

	f := &managerFixture{
		broker:  &stubBroker{},
		ledger:  NewLedger(),
		session: session,
		clock:   time.Date(2025, 3, 14, 9, 0, 30, 0, session.Location()),
	}
	f.manager = NewManager(f.broker, f.ledger, session, cfg, slog.Default())
	f.manager.now = func() time.Time { return f.clock }
	f.manager.Observe(func(ev Event) { f.events = append(f.events, ev) })
	return f
}

func (f *managerFixture) kinds() []EventKind {
	out := make([]EventKind, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Kind
	}
	return out
}

func buyReq(qty int64, price float64) domain.OrderRequest {
	return domain.OrderRequest{Code: "005930", Quantity: qty, LimitPrice: price, Reason: "test entry"}
}

func TestPlaceBuyRegistersOrder(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "broker-1", o.BrokerID)
	assert.Equal(t, domain.OrderSideBuy, o.Side)
	assert.Equal(t, o.Quantity, o.Filled+o.Remaining)

	// Submitted at 09:00:30; the first decision bar after submission
	// opens at 09:03.
	want := time.Date(2025, 3, 14, 9, 3, 0, 0, f.session.Location())
	assert.Equal(t, want, o.DecisionBarTime)

	assert.Len(t, f.ledger.Live(), 1)
	assert.Equal(t, []EventKind{EventSubmitted}, f.kinds())
}

func TestPlaceBuyClipsDecisionBarToClose(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.clock = time.Date(2025, 3, 14, 15, 29, 0, 0, f.session.Location())

	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)
	assert.Equal(t, f.session.CloseAt(f.clock), o.DecisionBarTime)
}

func TestPlaceRejectsInvalidRequest(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	_, err := f.manager.PlaceBuy(context.Background(), buyReq(0, 50_000))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = f.manager.PlaceBuy(context.Background(), buyReq(10, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Zero(t, f.broker.placeCalls)
}

func TestPlaceRejectsDuplicateLiveOrder(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	_, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	_, err = f.manager.PlaceBuy(context.Background(), buyReq(5, 49_000))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, 1, f.broker.placeCalls)
}

func TestPlaceBrokerRejection(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.broker.placeFn = func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{Success: false, Message: "insufficient funds"}, nil
	}

	_, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	assert.ErrorIs(t, err, domain.ErrOrderSubmission)
	assert.Empty(t, f.ledger.Live())
}

func TestMonitorReconcilesFullFill(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		return domain.OrderStatusReport{BrokerID: brokerID, Filled: 10, Remaining: 0, AvgPrice: 50_050}, nil
	}
	f.manager.Pass(context.Background())

	got, err := f.ledger.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, 50_050.0, got.AvgFillPrice)
	assert.Equal(t, got.Quantity, got.Filled+got.Remaining)
	require.NotNil(t, got.FilledAt)
	assert.Empty(t, f.ledger.Live())
	assert.Equal(t, []EventKind{EventSubmitted, EventFilled}, f.kinds())
}

func TestMonitorReportsPartialFill(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{PriceAdjustMax: 0})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		return domain.OrderStatusReport{BrokerID: brokerID, Filled: 4, Remaining: 6, AvgPrice: 50_000}, nil
	}
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	assert.Equal(t, got.Quantity, got.Filled+got.Remaining)
	assert.Len(t, f.ledger.Live(), 1, "partial fills stay live")
	assert.Equal(t, []EventKind{EventSubmitted, EventPartial}, f.kinds())

	// A cumulative report never moves the fill backwards.
	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		return domain.OrderStatusReport{BrokerID: brokerID, Filled: 2, Remaining: 8}, nil
	}
	f.manager.Pass(context.Background())
	got, _ = f.ledger.Get(o.ID)
	assert.Equal(t, int64(4), got.Filled)
}

func TestBuyBarCountExpiryBeatsWallClock(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		BuyTimeout:          time.Hour, // wall clock far away
		BuyBarExpiryPeriods: 5,
	})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	// Decision bar 09:03 plus five 3-minute periods: expiry at 09:18.
	f.clock = time.Date(2025, 3, 14, 9, 17, 59, 0, f.session.Location())
	f.manager.Pass(context.Background())
	assert.Len(t, f.ledger.Live(), 1, "not yet expired")

	f.clock = time.Date(2025, 3, 14, 9, 18, 0, 0, f.session.Location())
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Empty(t, f.ledger.Live())

	last := f.events[len(f.events)-1]
	assert.Equal(t, EventExpired, last.Kind)
	assert.Contains(t, last.Reason, "decision bars")
}

func TestSellWallClockTimeout(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{SellTimeout: 180 * time.Second})
	o, err := f.manager.PlaceSell(context.Background(), domain.OrderRequest{
		Code: "005930", Quantity: 10, LimitPrice: 50_000,
	})
	require.NoError(t, err)

	f.clock = f.clock.Add(181 * time.Second)
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	last := f.events[len(f.events)-1]
	assert.Equal(t, EventExpired, last.Kind)
	assert.Contains(t, last.Reason, "unfilled after")
}

func TestFailedCancelConfirmedFillIsAuthoritative(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{BuyTimeout: time.Second, BuyBarExpiryPeriods: 0})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Second)
	f.broker.cancelFn = func(brokerID string) error { return errors.New("too late") }
	queried := false
	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		if queried {
			// Second query (after the failed cancel) reports a full fill.
			return domain.OrderStatusReport{BrokerID: brokerID, Filled: 10, Remaining: 0, AvgPrice: 50_000}, nil
		}
		queried = true
		return domain.OrderStatusReport{BrokerID: brokerID}, nil
	}
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.False(t, got.Ambiguous)
	assert.Equal(t, EventFilled, f.events[len(f.events)-1].Kind)
}

func TestFailedCancelUnconfirmedIsAmbiguous(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{BuyTimeout: time.Second, BuyBarExpiryPeriods: 0})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Second)
	f.broker.cancelFn = func(brokerID string) error { return errors.New("timeout") }
	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		return domain.OrderStatusReport{BrokerID: brokerID, Filled: 3, Remaining: 7}, nil
	}
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.True(t, got.Ambiguous)
	assert.False(t, got.Status.Terminal(), "ambiguous orders stay pending, never silently dropped")
	assert.Len(t, f.ledger.Live(), 1, "still live so the next pass re-polls it")
	assert.Equal(t, EventAmbiguous, f.events[len(f.events)-1].Kind)
}

func TestPriceAdjustmentResubmitsAndSwapsBrokerID(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		PriceAdjustThreshold: 0.005,
		PriceAdjustMax:       3,
	})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	// Market ran 1% above the limit.
	f.broker.priceFn = func(code string) (domain.Quote, error) {
		return domain.Quote{Code: code, Price: 50_500}, nil
	}
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, "broker-2", got.BrokerID, "new broker ID after resubmit")
	assert.Equal(t, 50_500.0, got.LimitPrice)
	assert.Equal(t, 1, got.AdjustCount)
	assert.Equal(t, 1, f.broker.cancelCalls)

	// The local ID is stable and the broker index follows the swap.
	byBroker, err := f.ledger.GetByBroker("broker-2")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byBroker.ID)
	_, err = f.ledger.GetByBroker("broker-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, EventAdjusted, f.events[len(f.events)-1].Kind)
}

func TestPriceAdjustmentSkippedBelowThreshold(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		PriceAdjustThreshold: 0.005,
		PriceAdjustMax:       3,
	})
	_, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.priceFn = func(code string) (domain.Quote, error) {
		return domain.Quote{Code: code, Price: 50_100}, nil // +0.2%
	}
	f.manager.Pass(context.Background())

	assert.Zero(t, f.broker.cancelCalls)
	assert.Equal(t, 1, f.broker.placeCalls)
}

func TestPriceAdjustmentCancelFailureStopsResubmit(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		PriceAdjustThreshold: 0.005,
		PriceAdjustMax:       3,
	})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.priceFn = func(code string) (domain.Quote, error) {
		return domain.Quote{Code: code, Price: 50_500}, nil
	}
	f.broker.cancelFn = func(brokerID string) error { return errors.New("busy") }
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, "broker-1", got.BrokerID, "no resubmit on top of a possibly live order")
	assert.Equal(t, 1, f.broker.placeCalls)
	assert.Zero(t, got.AdjustCount)
}

func TestPriceAdjustmentResubmitFailureCancelsOrder(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		PriceAdjustThreshold: 0.005,
		PriceAdjustMax:       3,
	})
	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.priceFn = func(code string) (domain.Quote, error) {
		return domain.Quote{Code: code, Price: 50_500}, nil
	}
	f.broker.placeFn = func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{Success: false, Message: "rejected"}, nil
	}
	f.manager.Pass(context.Background())

	got, _ := f.ledger.Get(o.ID)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Empty(t, f.ledger.Live())

	last := f.events[len(f.events)-1]
	assert.Equal(t, EventCancelled, last.Kind)
	assert.Contains(t, last.Reason, "resubmission failed")
}

func TestPriceAdjustmentCapped(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{
		PriceAdjustThreshold: 0.005,
		PriceAdjustMax:       1,
	})
	_, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)

	f.broker.priceFn = func(code string) (domain.Quote, error) {
		return domain.Quote{Code: code, Price: 60_000}, nil
	}
	f.manager.Pass(context.Background())
	f.manager.Pass(context.Background())
	f.manager.Pass(context.Background())

	assert.Equal(t, 1, f.broker.cancelCalls, "at most one adjustment")
	assert.Equal(t, 1, f.broker.priceCalls, "capped orders skip the price lookup")
}

func TestCancelAll(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	_, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)
	_, err = f.manager.PlaceSell(context.Background(), domain.OrderRequest{
		Code: "000660", Quantity: 5, LimitPrice: 100_000,
	})
	require.NoError(t, err)

	f.manager.CancelAll(context.Background())
	assert.Empty(t, f.ledger.Live())
	assert.Equal(t, 2, f.broker.cancelCalls)
}

// memArchive records archived orders in memory.
type memArchive struct {
	orders []domain.Order
}

func (a *memArchive) Archive(ctx context.Context, o domain.Order) error {
	a.orders = append(a.orders, o)
	return nil
}

func (a *memArchive) ListByDay(ctx context.Context, day time.Time) ([]domain.Order, error) {
	return a.orders, nil
}

func TestSettledOrdersAreArchived(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	archive := &memArchive{}
	f.manager.SetArchive(archive)

	o, err := f.manager.PlaceBuy(context.Background(), buyReq(10, 50_000))
	require.NoError(t, err)
	assert.Empty(t, archive.orders, "live orders are not archived")

	f.broker.statusFn = func(brokerID string) (domain.OrderStatusReport, error) {
		return domain.OrderStatusReport{BrokerID: brokerID, Filled: 10, AvgPrice: 50_000}, nil
	}
	f.manager.Pass(context.Background())

	require.Len(t, archive.orders, 1)
	assert.Equal(t, o.ID, archive.orders[0].ID)
	assert.Equal(t, domain.OrderStatusFilled, archive.orders[0].Status)
}
