package trading

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// memAudit records state transitions in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(ctx context.Context, code string, from, to domain.TradeState, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Code: code, FromState: from, ToState: to, Reason: reason})
	return nil
}

func (a *memAudit) ListByCode(ctx context.Context, code string, limit int) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAudit) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func completeEpisode(t *testing.T, m *Machine, code string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Transition(ctx, code, domain.StateBuyCandidate, "signal"))
	require.NoError(t, m.Transition(ctx, code, domain.StateBuyPending, "order placed"))
	require.NoError(t, m.Transition(ctx, code, domain.StatePositioned, "buy filled"))
	require.NoError(t, m.Transition(ctx, code, domain.StateSellCandidate, "take profit"))
	require.NoError(t, m.Transition(ctx, code, domain.StateSellPending, "order placed"))
	require.NoError(t, m.Transition(ctx, code, domain.StateCompleted, "sell filled"))
}

func TestMachineFullEpisode(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	completeEpisode(t, m, "005930")

	got, err := m.Get("005930")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, got.State)

	// Initial selection plus six transitions, in order.
	require.Len(t, got.History, 7)
	assert.Equal(t, domain.StateSelected, got.History[0].To)
	assert.Equal(t, domain.StateCompleted, got.History[6].To)
	for i := 1; i < len(got.History); i++ {
		assert.Equal(t, got.History[i-1].To, got.History[i].From, "history must chain")
	}
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))

	err := m.Transition(ctx, "005930", domain.StatePositioned, "skip ahead")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	got, _ := m.Get("005930")
	assert.Equal(t, domain.StateSelected, got.State)
	assert.Len(t, got.History, 1, "failed transitions leave no audit entry")
}

func TestMachineRevertOneStep(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	require.NoError(t, m.Transition(ctx, "005930", domain.StateBuyCandidate, "signal"))
	require.NoError(t, m.Transition(ctx, "005930", domain.StateBuyPending, "order placed"))

	require.NoError(t, m.Revert(ctx, "005930", "order cancelled"))
	got, _ := m.Get("005930")
	assert.Equal(t, domain.StateBuyCandidate, got.State)

	// Only pending states revert.
	err := m.Revert(ctx, "005930", "again")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestMachineFailFromAnywhere(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	require.NoError(t, m.Transition(ctx, "005930", domain.StateBuyCandidate, "signal"))

	require.NoError(t, m.Fail(ctx, "005930", "broker auth expired"))
	got, _ := m.Get("005930")
	assert.Equal(t, domain.StateFailed, got.State)

	// Terminal states cannot fail again.
	err := m.Fail(ctx, "005930", "twice")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestMachineSelectDuplicateLiveEpisode(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))

	err := m.Select(ctx, "005930", "samsung")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestMachineSelectReplacesTerminalEpisode(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	completeEpisode(t, m, "005930")

	// Re-selection opens a fresh episode with reset mutable fields.
	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	got, err := m.Get("005930")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelected, got.State)
	assert.Nil(t, got.Position)
	assert.Len(t, got.History, 1)

	assert.Empty(t, m.InState(domain.StateCompleted))
	assert.Len(t, m.InState(domain.StateSelected), 1)
}

func TestMachineUpdateKeepsState(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))

	require.NoError(t, m.Update("005930", func(s *domain.TradingStock) {
		s.BuyOrderID = "order-1"
		s.State = domain.StateCompleted // must be ignored
	}))

	got, _ := m.Get("005930")
	assert.Equal(t, "order-1", got.BuyOrderID)
	assert.Equal(t, domain.StateSelected, got.State, "Update cannot change state")
}

func TestMachineSummaryAndInState(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	require.NoError(t, m.Select(ctx, "000660", "hynix"))
	completeEpisode(t, m, "000660")
	require.NoError(t, m.Select(ctx, "035720", "kakao"))
	require.NoError(t, m.Fail(ctx, "035720", "data quality"))

	require.NoError(t, m.Update("005930", func(s *domain.TradingStock) {
		s.Position = &domain.Position{Quantity: 10, EntryPrice: 50000}
	}))

	sum := m.Summary()
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.ByState[domain.StateSelected])
	assert.Equal(t, 500000.0, sum.PositionValue)

	selected := m.InState(domain.StateSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "005930", selected[0].Code)
}

func TestMachinePersistsAudit(t *testing.T) {
	audit := &memAudit{}
	m := NewMachine(audit, slog.Default())
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "005930", "samsung"))
	require.NoError(t, m.Transition(ctx, "005930", domain.StateBuyCandidate, "signal"))

	assert.Equal(t, 2, audit.len())
	entries, err := audit.ListByCode(ctx, "005930", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateBuyCandidate, entries[1].ToState)
	assert.Equal(t, "signal", entries[1].Reason)
}

func TestMachineGetReturnsCopy(t *testing.T) {
	m := NewMachine(nil, slog.Default())
	ctx := context.Background()
	require.NoError(t, m.Select(ctx, "005930", "samsung"))

	got, _ := m.Get("005930")
	got.History[0].Reason = "tampered"
	got.BuyOrderID = "tampered"

	again, _ := m.Get("005930")
	assert.Equal(t, "selected", again.History[0].Reason)
	assert.Empty(t, again.BuyOrderID)
}
