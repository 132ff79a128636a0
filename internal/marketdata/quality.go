package marketdata

import (
	"fmt"
	"time"

	"github.com/tgparkk/RoboTrader-sub001/internal/domain"
)

// IssueKind classifies a data quality finding.
type IssueKind string

const (
	IssueInsufficientBars IssueKind = "insufficient_bars"
	IssueGap              IssueKind = "gap"
	IssueDiscontinuity    IssueKind = "price_discontinuity"
	IssueStale            IssueKind = "stale"
)

// Issue is one machine-readable data quality finding.
type Issue struct {
	Kind   IssueKind
	Detail string
}

// Report is the outcome of validating one merged bar view. Issues make
// the data unusable for decisions. GapFromOpen is reported separately:
// a view whose first bar lands after session open plus grace signals the
// cache should re-backfill, it is not by itself a reason to reject the
// stock.
type Report struct {
	Issues      []Issue
	GapFromOpen bool
	OpenGapAt   time.Time // first bar time when GapFromOpen is set
}

// OK reports whether the view is usable for decisions.
func (r Report) OK() bool {
	return len(r.Issues) == 0
}

// Err returns a domain.ErrDataQuality-wrapped error describing the first
// issue, or nil when the report is clean.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	first := r.Issues[0]
	return fmt.Errorf("%w: %s: %s", domain.ErrDataQuality, first.Kind, first.Detail)
}

// ValidatorConfig holds the validation thresholds.
type ValidatorConfig struct {
	MinBars            int
	MaxGapBars         int           // tolerated missing bars between neighbours
	DiscontinuityLimit float64       // fraction, close-to-close
	StaleAfter         time.Duration // last bar age vs now
	OpenGrace          time.Duration // slack after session open
}

// Validator checks merged bar views for gaps, staleness and anomalies.
type Validator struct {
	session Session
	cfg     ValidatorConfig
}

// NewValidator creates a Validator for the given session.
func NewValidator(session Session, cfg ValidatorConfig) *Validator {
	return &Validator{session: session, cfg: cfg}
}

// Validate inspects an ascending, session-filtered bar view as of now.
func (v *Validator) Validate(bars []domain.Bar, now time.Time) Report {
	var r Report

	if len(bars) < v.cfg.MinBars {
		r.Issues = append(r.Issues, Issue{
			Kind:   IssueInsufficientBars,
			Detail: fmt.Sprintf("have %d bars, need %d", len(bars), v.cfg.MinBars),
		})
		return r
	}

	open := v.session.OpenAt(bars[0].Time)
	if bars[0].Time.After(open.Add(v.cfg.OpenGrace)) {
		r.GapFromOpen = true
		r.OpenGapAt = bars[0].Time
	}

	tolerated := time.Duration(v.cfg.MaxGapBars+1) * domain.BarPeriod
	for i := 1; i < len(bars); i++ {
		step := bars[i].Time.Sub(bars[i-1].Time)
		if step > tolerated {
			missing := int(step/domain.BarPeriod) - 1
			r.Issues = append(r.Issues, Issue{
				Kind: IssueGap,
				Detail: fmt.Sprintf("%d bars missing between %s and %s",
					missing, bars[i-1].Time.Format("15:04"), bars[i].Time.Format("15:04")),
			})
		}
		if prev := bars[i-1].Close; prev > 0 {
			change := (bars[i].Close - prev) / prev
			if change < 0 {
				change = -change
			}
			if change > v.cfg.DiscontinuityLimit {
				r.Issues = append(r.Issues, Issue{
					Kind: IssueDiscontinuity,
					Detail: fmt.Sprintf("close moved %.1f%% at %s",
						change*100, bars[i].Time.Format("15:04")),
				})
			}
		}
	}

	last := bars[len(bars)-1].Time
	if age := now.Sub(last); age > v.cfg.StaleAfter {
		r.Issues = append(r.Issues, Issue{
			Kind:   IssueStale,
			Detail: fmt.Sprintf("last bar %s is %s old", last.Format("15:04"), age.Round(time.Second)),
		})
	}

	return r
}
