package threshold

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestAdaptiveDeviationClampBounds(t *testing.T) {
	// Sweep volatility from calm to violent; the result must always
	// stay inside [30, 200].
	for vol := 0.0; vol <= 500; vol += 7 {
		dev := AdaptiveDeviation(d(vol), d(25), d(1.5), d(1.2))
		assert.True(t, dev.GreaterThanOrEqual(decimal.NewFromInt(30)),
			"vol=%v dev=%s below floor", vol, dev)
		assert.True(t, dev.LessThanOrEqual(decimal.NewFromInt(200)),
			"vol=%v dev=%s above ceiling", vol, dev)
	}
}

func TestAdaptiveDeviationFormula(t *testing.T) {
	// mu * (core + vol*mult) = 1.2 * (25 + 20*1.5) = 66
	dev := AdaptiveDeviation(d(20), d(25), d(1.5), d(1.2))
	assert.True(t, dev.Equal(d(66)), "dev was %s", dev)
}

func TestAdaptiveDeviationClampsLowVolatility(t *testing.T) {
	dev := AdaptiveDeviation(d(0), d(10), d(1.5), d(1))
	assert.True(t, dev.Equal(decimal.NewFromInt(30)))
}

func TestAdaptiveProbGapThinMarketWidens(t *testing.T) {
	gap := AdaptiveProbGap(d(0.10), d(0.2))
	assert.True(t, gap.Equal(d(0.15)), "gap was %s", gap)

	// Widening is capped at the ceiling.
	gap = AdaptiveProbGap(d(0.15), d(0.2))
	assert.True(t, gap.Equal(d(0.18)), "gap was %s", gap)
}

func TestAdaptiveProbGapDeepMarketTightens(t *testing.T) {
	gap := AdaptiveProbGap(d(0.14), d(0.9))
	assert.True(t, gap.Equal(d(0.098)), "gap was %s", gap)

	// Tightening is floored.
	gap = AdaptiveProbGap(d(0.10), d(0.9))
	assert.True(t, gap.Equal(d(0.08)), "gap was %s", gap)
}

func TestAdaptiveProbGapNormalLiquidityPassesBase(t *testing.T) {
	gap := AdaptiveProbGap(d(0.12), d(0.5))
	assert.True(t, gap.Equal(d(0.12)))
}

func TestAdaptiveProbGapClampProperty(t *testing.T) {
	for base := 0.0; base <= 0.5; base += 0.01 {
		for liq := 0.0; liq <= 1.0; liq += 0.1 {
			gap := AdaptiveProbGap(d(base), d(liq))
			assert.True(t, gap.GreaterThanOrEqual(d(0.08)),
				"base=%v liq=%v gap=%s", base, liq, gap)
			assert.True(t, gap.LessThanOrEqual(d(0.18)),
				"base=%v liq=%v gap=%s", base, liq, gap)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	ok := Snapshot{AdaptiveDeviation: d(60), AdaptiveProbGap: d(0.12)}
	assert.NoError(t, ok.Validate())

	bad := Snapshot{AdaptiveDeviation: d(500), AdaptiveProbGap: d(0.12)}
	assert.Error(t, bad.Validate())

	bad = Snapshot{AdaptiveDeviation: d(60), AdaptiveProbGap: d(0.5)}
	assert.Error(t, bad.Validate())
}

func TestComputeAlwaysValidates(t *testing.T) {
	for vol := 0.0; vol <= 300; vol += 13 {
		for liq := 0.0; liq <= 1.0; liq += 0.25 {
			snap := Compute(d(vol), d(25), d(1.5), d(1.2), d(0.12), d(liq))
			assert.NoError(t, snap.Validate(), "vol=%v liq=%v", vol, liq)
		}
	}
}

func TestTheoreticalProbabilityBounded(t *testing.T) {
	for offset := -5000.0; offset <= 5000; offset += 111 {
		p := TheoreticalProbability(d(offset), d(20))
		assert.True(t, p.GreaterThanOrEqual(d(0.01)), "offset=%v p=%s", offset, p)
		assert.True(t, p.LessThanOrEqual(d(0.99)), "offset=%v p=%s", offset, p)
	}
}

func TestTheoreticalProbabilityDirection(t *testing.T) {
	up := TheoreticalProbability(d(100), d(20))
	down := TheoreticalProbability(d(-100), d(20))
	flat := TheoreticalProbability(d(0), d(20))

	assert.True(t, up.GreaterThan(d(0.5)))
	assert.True(t, down.LessThan(d(0.5)))
	assert.True(t, flat.Equal(d(0.5)))
}

func TestTheoreticalProbabilityMonotonicInOffset(t *testing.T) {
	prev := TheoreticalProbability(d(0), d(20))
	for offset := 10.0; offset <= 500; offset += 10 {
		p := TheoreticalProbability(d(offset), d(20))
		assert.True(t, p.GreaterThanOrEqual(prev),
			"offset=%v p=%s prev=%s", offset, p, prev)
		prev = p
	}
}

func TestTheoreticalProbabilitySymmetric(t *testing.T) {
	up := TheoreticalProbability(d(80), d(20))
	down := TheoreticalProbability(d(-80), d(20))
	sum := up.Add(down)

	diff := sum.Sub(decimal.NewFromInt(1)).Abs()
	assert.True(t, diff.LessThan(d(0.000001)), "up+down = %s", sum)
}

func TestTheoreticalProbabilityZeroVolatilityFallback(t *testing.T) {
	// Must not divide by zero; falls back to the default volatility.
	p := TheoreticalProbability(d(100), d(0))
	assert.True(t, p.GreaterThan(d(0.5)))
	assert.True(t, p.LessThanOrEqual(d(0.99)))
}
