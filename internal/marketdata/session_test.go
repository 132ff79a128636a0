package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionContains(t *testing.T) {
	s := testSession(t)

	assert.True(t, s.Contains(at(t, s, 9, 0, 0)), "open boundary is inclusive")
	assert.True(t, s.Contains(at(t, s, 12, 0, 0)))
	assert.True(t, s.Contains(at(t, s, 15, 29, 0)), "last bar opens one period before close")
	assert.False(t, s.Contains(at(t, s, 15, 30, 0)), "close boundary is exclusive")
	assert.False(t, s.Contains(at(t, s, 8, 59, 0)))
}

func TestSessionContainsOnPinsTheDate(t *testing.T) {
	s := testSession(t)
	anchor := at(t, s, 12, 0, 0)

	assert.True(t, s.ContainsOn(at(t, s, 9, 30, 0), anchor))
	assert.False(t, s.ContainsOn(at(t, s, 9, 30, 0).AddDate(0, 0, -1), anchor),
		"in-hours bar from another date must not qualify")
	assert.False(t, s.ContainsOn(at(t, s, 9, 30, 0).AddDate(0, 0, 1), anchor))
}

func TestSessionOpenCloseAt(t *testing.T) {
	s := testSession(t)
	noon := at(t, s, 12, 0, 0)

	assert.Equal(t, at(t, s, 9, 0, 0), s.OpenAt(noon))
	assert.Equal(t, at(t, s, 15, 30, 0), s.CloseAt(noon))
}

func TestSessionContainsConvertsZones(t *testing.T) {
	s := testSession(t)
	// 00:30 UTC is 09:30 KST.
	utc := time.Date(2025, 3, 14, 0, 30, 0, 0, time.UTC)
	assert.True(t, s.Contains(utc))
}

func TestNewSessionRejectsBadInput(t *testing.T) {
	_, err := NewSession("9am", "15:30", "Asia/Seoul")
	require.Error(t, err)
	_, err = NewSession("09:00", "15:30", "Mars/Olympus")
	require.Error(t, err)
	_, err = NewSession("15:30", "09:00", "Asia/Seoul")
	require.Error(t, err)
}
