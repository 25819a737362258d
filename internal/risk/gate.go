// Package risk holds the pre-entry veto checks. The gate runs before
// every entry decision; a blocked verdict never consumes the window's
// trade slot.
package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Verdict is the outcome of a gate evaluation.
type Verdict struct {
	Blocked bool
	Reason  string
}

var pass = Verdict{}

// Gate vetoes entries at extreme market probabilities and too close to
// window resolution.
type Gate struct {
	lowBound      decimal.Decimal
	highBound     decimal.Decimal
	noEntryWindow time.Duration
}

// New builds a gate with the given probability bounds and no-entry
// window before market close.
func New(lowBound, highBound decimal.Decimal, noEntryWindow time.Duration) *Gate {
	return &Gate{
		lowBound:      lowBound,
		highBound:     highBound,
		noEntryWindow: noEntryWindow,
	}
}

// CheckProbabilityBoundary blocks entries when the market probability
// sits outside [lowBound, highBound]. Prices out there leave no room
// for the edge the strategy trades on.
func (g *Gate) CheckProbabilityBoundary(marketProb decimal.Decimal) Verdict {
	if marketProb.LessThan(g.lowBound) {
		return Verdict{
			Blocked: true,
			Reason:  fmt.Sprintf("market probability %s below floor %s", marketProb, g.lowBound),
		}
	}
	if marketProb.GreaterThan(g.highBound) {
		return Verdict{
			Blocked: true,
			Reason:  fmt.Sprintf("market probability %s above ceiling %s", marketProb, g.highBound),
		}
	}
	return pass
}

// CheckTimeToClose blocks entries inside the no-entry window before the
// market's end time. A zero endTime means the market metadata did not
// carry one; that is logged but never blocks.
func (g *Gate) CheckTimeToClose(endTime time.Time, now time.Time) Verdict {
	if endTime.IsZero() {
		log.Warn().Msg("⚠️ Market has no end time, skipping time-to-close check")
		return pass
	}
	remaining := endTime.Sub(now)
	if remaining <= g.noEntryWindow {
		return Verdict{
			Blocked: true,
			Reason:  fmt.Sprintf("only %s until close (no-entry window %s)", remaining.Round(time.Second), g.noEntryWindow),
		}
	}
	return pass
}

// Evaluate runs all checks in order and returns the first block. Every
// veto is logged with the values that caused it.
func (g *Gate) Evaluate(marketProb decimal.Decimal, endTime time.Time, now time.Time) Verdict {
	if v := g.CheckProbabilityBoundary(marketProb); v.Blocked {
		log.Info().
			Str("market_prob", marketProb.String()).
			Str("reason", v.Reason).
			Msg("🚫 Entry blocked by probability boundary")
		return v
	}
	if v := g.CheckTimeToClose(endTime, now); v.Blocked {
		log.Info().
			Time("end_time", endTime).
			Str("reason", v.Reason).
			Msg("🚫 Entry blocked by time-to-close")
		return v
	}
	return pass
}
