package marketdata

import (
	"sort"
	"time"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// mergeBars combines two bar slices into a session-filtered, ascending,
// deduplicated view anchored to one session day: bars dated outside that
// day are dropped even when their time-of-day fits. When both inputs
// carry a bar for the same bucket the later slice wins (keep-last), so
// realtime bars override backfill bars.
func mergeBars(session Session, day time.Time, first, second []domain.Bar) []domain.Bar {
	byTime := make(map[int64]domain.Bar, len(first)+len(second))
	for _, b := range first {
		if session.ContainsOn(b.Time, day) {
			byTime[b.Time.Unix()] = b
		}
	}
	for _, b := range second {
		if session.ContainsOn(b.Time, day) {
			byTime[b.Time.Unix()] = b
		}
	}
	out := make([]domain.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// filterBars keeps only bars inside the session on day, preserving order
// and dropping duplicate buckets keep-last.
func filterBars(session Session, day time.Time, bars []domain.Bar) []domain.Bar {
	return mergeBars(session, day, nil, bars)
}
