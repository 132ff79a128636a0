package marketdata

import "time"

// BatchPlan is the refresh pacing for one cycle.
type BatchPlan struct {
	BatchSize int
	Delay     time.Duration // pause between batches
}

// BatchTier maps a tracked-count ceiling to a plan. Tiers are evaluated
// in order; the first tier whose UpTo covers the count wins.
type BatchTier struct {
	UpTo      int // inclusive; 0 means "everything above"
	BatchSize int
	Delay     time.Duration
}

// BatchScheduler converts a live tracked-stock count into a batch size
// and inter-batch delay that keeps the refresh pass inside the broker's
// rate limit. The plan is recomputed from the current count every cycle,
// so tracking or evicting stocks changes pacing on the next pass.
type BatchScheduler struct {
	tiers []BatchTier
}

// DefaultBatchTiers is the standard pacing table.
var DefaultBatchTiers = []BatchTier{
	{UpTo: 10, BatchSize: 10, Delay: 0},
	{UpTo: 30, BatchSize: 10, Delay: 200 * time.Millisecond},
	{UpTo: 60, BatchSize: 15, Delay: 300 * time.Millisecond},
	{UpTo: 0, BatchSize: 20, Delay: 500 * time.Millisecond},
}

// NewBatchScheduler creates a scheduler from a tier table. A nil or empty
// table falls back to DefaultBatchTiers.
func NewBatchScheduler(tiers []BatchTier) *BatchScheduler {
	if len(tiers) == 0 {
		tiers = DefaultBatchTiers
	}
	return &BatchScheduler{tiers: tiers}
}

// Plan returns the pacing for the given tracked count.
func (s *BatchScheduler) Plan(tracked int) BatchPlan {
	if tracked < 1 {
		tracked = 1
	}
	for _, t := range s.tiers {
		if t.UpTo != 0 && tracked > t.UpTo {
			continue
		}
		size := t.BatchSize
		if size < 1 || size > tracked {
			size = tracked
		}
		return BatchPlan{BatchSize: size, Delay: t.Delay}
	}
	// Unreachable with a well-formed table; refresh one at a time.
	return BatchPlan{BatchSize: 1}
}
