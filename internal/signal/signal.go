// Package signal classifies the current breakout regime and turns it
// into a directional trade signal.
package signal

import (
	"github.com/shopspring/decimal"
)

// Breakout categorizes how convincingly price has left its EMA band.
type Breakout int

const (
	BreakoutFalse Breakout = iota
	BreakoutWeak
	TrueBreakout
	TrueBreakdown
)

func (b Breakout) String() string {
	switch b {
	case TrueBreakout:
		return "true_breakout"
	case TrueBreakdown:
		return "true_breakdown"
	case BreakoutWeak:
		return "weak"
	default:
		return "false"
	}
}

// SizeMultiplier scales position size by breakout conviction.
func (b Breakout) SizeMultiplier() decimal.Decimal {
	switch b {
	case TrueBreakout, TrueBreakdown:
		return decimal.NewFromInt(1)
	case BreakoutWeak:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.Zero
	}
}

// Direction is the side a signal wants to buy.
type Direction int

const (
	None Direction = iota
	BuyYes
	BuyNo
)

func (d Direction) String() string {
	switch d {
	case BuyYes:
		return "buy_yes"
	case BuyNo:
		return "buy_no"
	default:
		return "none"
	}
}

// Signal is the classifier output for one evaluation cycle.
type Signal struct {
	Breakout       Breakout
	Direction      Direction
	SizeMultiplier decimal.Decimal
}

var (
	buyerDominant  = decimal.NewFromFloat(0.7)
	sellerDominant = decimal.NewFromFloat(0.3)
	weakFactor     = decimal.NewFromFloat(0.5)

	highProbBand = decimal.NewFromFloat(0.70)
	lowProbBand  = decimal.NewFromFloat(0.30)
)

// Classify buckets the current offset/flow state into a breakout type.
// buyerRatio is the fraction of recent prints where the taker bought.
func Classify(offset, threshold, buyerRatio decimal.Decimal) Breakout {
	absOffset := offset.Abs()

	if absOffset.GreaterThan(threshold) {
		switch {
		case buyerRatio.GreaterThan(buyerDominant):
			if offset.IsPositive() {
				return TrueBreakout
			}
			return TrueBreakdown
		case buyerRatio.LessThan(sellerDominant):
			// Flow contradicts the move: classify as the opposite
			// directional breakout.
			if offset.IsPositive() {
				return TrueBreakdown
			}
			return TrueBreakout
		}
	}

	if absOffset.GreaterThan(threshold.Mul(weakFactor)) {
		return BreakoutWeak
	}
	return BreakoutFalse
}

// Generate applies the directional rules. Both the deviation gate and
// the probability-divergence gate must pass before any rule is tried;
// rules are evaluated in order and the first match wins.
func Generate(offset, marketProb, theoreticalProb, deviationThreshold, probGapThreshold decimal.Decimal, breakout Breakout) Signal {
	sig := Signal{Breakout: breakout, Direction: None, SizeMultiplier: decimal.Zero}

	if breakout == BreakoutFalse {
		return sig
	}
	if offset.Abs().LessThan(deviationThreshold) {
		return sig
	}
	if theoreticalProb.Sub(marketProb).Abs().LessThan(probGapThreshold) {
		return sig
	}

	up := offset.GreaterThan(deviationThreshold)
	down := offset.LessThan(deviationThreshold.Neg())
	theoAbove := theoreticalProb.GreaterThan(marketProb.Add(probGapThreshold))
	theoBelow := theoreticalProb.LessThan(marketProb.Sub(probGapThreshold))

	switch {
	case up && theoAbove:
		sig.Direction = BuyYes
	case down && theoAbove:
		// Market overreacted downward relative to the model.
		sig.Direction = BuyYes
	case down && theoBelow:
		sig.Direction = BuyNo
	case up && marketProb.GreaterThan(highProbBand) && (breakout == TrueBreakout || breakout == BreakoutWeak):
		// Extreme-probability contrarian fade.
		sig.Direction = BuyNo
	case down && marketProb.LessThan(lowProbBand) && (breakout == TrueBreakdown || breakout == BreakoutWeak):
		sig.Direction = BuyYes
	}

	if sig.Direction != None {
		sig.SizeMultiplier = breakout.SizeMultiplier()
	}
	return sig
}
