// Package marketdata manages per-stock minute bars: historical backfill,
// realtime tails, session filtering, data quality checks and batch-paced
// refresh against a rate-limited brokerage API.
package marketdata

import (
	"fmt"
	"time"
)

// Session describes one day's trading hours in exchange-local time.
type Session struct {
	open  time.Duration // offset from local midnight
	close time.Duration
	loc   *time.Location
}

// NewSession parses "HH:MM" open/close strings and a timezone name.
func NewSession(open, close, tz string) (Session, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Session{}, fmt.Errorf("session: load timezone %q: %w", tz, err)
	}
	o, err := parseHHMM(open)
	if err != nil {
		return Session{}, fmt.Errorf("session: open: %w", err)
	}
	c, err := parseHHMM(close)
	if err != nil {
		return Session{}, fmt.Errorf("session: close: %w", err)
	}
	if c <= o {
		return Session{}, fmt.Errorf("session: close %s must be after open %s", close, open)
	}
	return Session{open: o, close: c, loc: loc}, nil
}

func parseHHMM(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// OpenAt returns the session open on the day containing t.
func (s Session) OpenAt(t time.Time) time.Time {
	return s.midnight(t).Add(s.open)
}

// CloseAt returns the session close on the day containing t.
func (s Session) CloseAt(t time.Time) time.Time {
	return s.midnight(t).Add(s.close)
}

// Contains reports whether t falls inside session hours on t's own day.
// The close boundary is exclusive: the last minute bar opens one bar
// period before close.
func (s Session) Contains(t time.Time) bool {
	return s.ContainsOn(t, t)
}

// ContainsOn reports whether a bar opening at t falls inside the session
// on the day containing anchor. The KIS chart endpoints spill prior-day
// rows near the open, so bar filtering must pin the session date rather
// than accept any date whose time-of-day fits.
func (s Session) ContainsOn(t, anchor time.Time) bool {
	lt := t.In(s.loc)
	o := s.OpenAt(anchor)
	c := s.CloseAt(anchor)
	return !lt.Before(o) && lt.Before(c)
}

// Location returns the session's timezone.
func (s Session) Location() *time.Location {
	return s.loc
}

func (s Session) midnight(t time.Time) time.Time {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
}
