package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrContextDone      = errors.New("context cancelled")
	ErrCapacityExceeded = errors.New("tracking capacity exceeded")

	// ErrTransientData marks a recoverable market-data failure; the
	// caller should retry on the next cycle.
	ErrTransientData = errors.New("transient market data error")
	// ErrDataQuality marks data that arrived but is unusable for
	// decisions (gaps, staleness, discontinuity).
	ErrDataQuality = errors.New("data quality issue")
	// ErrOrderSubmission marks a rejected or failed order submission;
	// nothing was registered at the broker.
	ErrOrderSubmission = errors.New("order submission failed")
	// ErrOrderAmbiguous marks an order whose true state at the broker
	// could not be determined after a failed cancel.
	ErrOrderAmbiguous = errors.New("order state ambiguous")
	// ErrFatal marks unrecoverable failures (auth, config). The
	// affected stock moves to its failed state.
	ErrFatal = errors.New("fatal error")
	// ErrLockHeld means another bot instance already holds the account
	// lock.
	ErrLockHeld = errors.New("lock already held")
)
