// Package threshold derives the adaptive entry thresholds from the
// price model outputs. All functions are deterministic and free of
// side effects.
package threshold

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Clamp bounds. A threshold outside these ranges after construction is
// a programming error, not a market condition.
var (
	deviationFloor = decimal.NewFromInt(30)
	deviationCeil  = decimal.NewFromInt(200)
	probGapFloor   = decimal.NewFromFloat(0.08)
	probGapCeil    = decimal.NewFromFloat(0.18)

	lowLiquidity  = decimal.NewFromFloat(0.3)
	highLiquidity = decimal.NewFromFloat(0.7)
)

// Snapshot holds the thresholds for one evaluation cycle.
type Snapshot struct {
	AdaptiveDeviation decimal.Decimal // dollars, within [30, 200]
	AdaptiveProbGap   decimal.Decimal // probability, within [0.08, 0.18]
}

// Compute builds a Snapshot from the current volatility and liquidity.
func Compute(volatility, coreSensitivity, volatilityMultiplier, muFactor, baseGap, liquidityScore decimal.Decimal) Snapshot {
	return Snapshot{
		AdaptiveDeviation: AdaptiveDeviation(volatility, coreSensitivity, volatilityMultiplier, muFactor),
		AdaptiveProbGap:   AdaptiveProbGap(baseGap, liquidityScore),
	}
}

// Validate reports whether the snapshot violates its clamp invariants.
// The clamps make violations impossible by construction, so a non-nil
// error means the instance must halt rather than trade.
func (s Snapshot) Validate() error {
	if s.AdaptiveDeviation.LessThan(deviationFloor) || s.AdaptiveDeviation.GreaterThan(deviationCeil) {
		return fmt.Errorf("adaptive deviation %s outside [%s, %s]", s.AdaptiveDeviation, deviationFloor, deviationCeil)
	}
	if s.AdaptiveProbGap.LessThan(probGapFloor) || s.AdaptiveProbGap.GreaterThan(probGapCeil) {
		return fmt.Errorf("adaptive prob gap %s outside [%s, %s]", s.AdaptiveProbGap, probGapFloor, probGapCeil)
	}
	return nil
}

// AdaptiveDeviation scales the deviation threshold with volatility:
// clamp(mu * (core + volatility*multiplier), 30, 200).
func AdaptiveDeviation(volatility, coreSensitivity, volatilityMultiplier, muFactor decimal.Decimal) decimal.Decimal {
	raw := coreSensitivity.Add(volatility.Mul(volatilityMultiplier))
	return clamp(muFactor.Mul(raw), deviationFloor, deviationCeil)
}

// AdaptiveProbGap widens the required probability divergence in thin
// markets and tightens it in deep ones.
func AdaptiveProbGap(baseGap, liquidityScore decimal.Decimal) decimal.Decimal {
	switch {
	case liquidityScore.LessThan(lowLiquidity):
		return clamp(baseGap.Mul(decimal.NewFromFloat(1.5)), probGapFloor, probGapCeil)
	case liquidityScore.GreaterThan(highLiquidity):
		return clamp(baseGap.Mul(decimal.NewFromFloat(0.7)), probGapFloor, probGapCeil)
	default:
		return clamp(baseGap, probGapFloor, probGapCeil)
	}
}

// TheoreticalProbability estimates the probability the window resolves
// in the direction of the current price offset. This is a heuristic,
// not a calibrated CDF: monotonic in z = offset/(4*volatility),
// symmetric around 0.5 and clamped to (0.01, 0.99).
//
// Stdlib math is used here because the divergence shape needs exp(),
// which decimal arithmetic does not provide; precision loss at this
// scale is irrelevant next to the estimator's own error.
func TheoreticalProbability(offset, volatility decimal.Decimal) decimal.Decimal {
	vol := volatility
	if !vol.IsPositive() {
		vol = decimal.NewFromInt(20)
	}

	z := offset.InexactFloat64() / (4 * vol.InexactFloat64())
	mass := 0.5 * (1 - math.Exp(-z*z/2))

	p := 0.5
	if z > 0 {
		p = 0.5 + mass
	} else if z < 0 {
		p = 0.5 - mass
	}

	if p < 0.01 {
		p = 0.01
	}
	if p > 0.99 {
		p = 0.99
	}
	return decimal.NewFromFloat(p)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
