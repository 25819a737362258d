package pricemodel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(price float64, ts time.Time) PriceTick {
	return PriceTick{Price: decimal.NewFromFloat(price), Timestamp: ts}
}

func TestEmaSeededFromFirstPrice(t *testing.T) {
	m := New(60)
	state := m.Update(tick(50000, time.Now()))

	assert.True(t, state.Value.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 1, state.SampleCount)
}

func TestEmaConvergesTowardConstantInput(t *testing.T) {
	m := New(10)
	now := time.Now()

	m.Update(tick(100, now))
	for i := 0; i < 200; i++ {
		m.Update(tick(200, now.Add(time.Duration(i)*time.Second)))
	}

	ema := m.Ema().Value
	assert.True(t, ema.GreaterThan(decimal.NewFromInt(199)),
		"ema %s should converge to 200", ema)
	assert.True(t, ema.LessThanOrEqual(decimal.NewFromInt(200)))
}

func TestEmaAlphaFromSampleHorizon(t *testing.T) {
	m := New(19) // alpha = 2/20 = 0.1
	state := m.Update(tick(100, time.Now()))

	assert.True(t, state.Alpha.Equal(decimal.NewFromFloat(0.1)), "alpha was %s", state.Alpha)
}

func TestVolatilityFallbackUnderMinSamples(t *testing.T) {
	m := New(60)
	now := time.Now()
	for i := 0; i < 9; i++ {
		m.Update(tick(50000+float64(i)*100, now.Add(time.Duration(i)*time.Second)))
	}

	assert.True(t, m.Volatility().Equal(decimal.NewFromInt(20)))
}

func TestVolatilityMeanAbsoluteDiff(t *testing.T) {
	m := New(60)
	now := time.Now()
	// Alternating +10/-10 moves: every consecutive diff is 10.
	for i := 0; i < 20; i++ {
		price := 50000.0
		if i%2 == 1 {
			price = 50010.0
		}
		m.Update(tick(price, now.Add(time.Duration(i)*time.Second)))
	}

	assert.True(t, m.Volatility().Equal(decimal.NewFromInt(10)),
		"volatility was %s", m.Volatility())
}

func TestTickRingWrapsAtCapacity(t *testing.T) {
	m := NewWithCapacity(10, 5, 5)
	now := time.Now()
	for i := 0; i < 12; i++ {
		m.Update(tick(float64(100+i), now.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, 5, m.Len())

	snap, ok := m.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.LastPrice.Equal(decimal.NewFromInt(111)), "last was %s", snap.LastPrice)
}

func TestBuyerRatioNeutralWhenEmpty(t *testing.T) {
	m := New(60)
	assert.True(t, m.BuyerRatio().Equal(decimal.NewFromFloat(0.5)))
}

func TestBuyerRatioCountsTakers(t *testing.T) {
	m := New(60)
	now := time.Now()
	for i := 0; i < 10; i++ {
		m.RecordTrade(TradePrint{
			Price:        decimal.NewFromInt(50000),
			Quantity:     decimal.NewFromFloat(0.1),
			TakerIsBuyer: i < 8,
			Timestamp:    now,
		})
	}

	assert.True(t, m.BuyerRatio().Equal(decimal.NewFromFloat(0.8)),
		"ratio was %s", m.BuyerRatio())
}

func TestMaxDeltaSinceTrailingWindow(t *testing.T) {
	m := New(60)
	now := time.Now()

	// Old ticks outside the 30s window with a big spread.
	m.Update(tick(40000, now.Add(-5*time.Minute)))
	m.Update(tick(60000, now.Add(-4*time.Minute)))

	// Recent ticks within the window, narrow range.
	m.Update(tick(50000, now.Add(-20*time.Second)))
	m.Update(tick(50002, now.Add(-10*time.Second)))
	m.Update(tick(50001, now.Add(-5*time.Second)))

	delta := m.MaxDeltaSince(30*time.Second, now)
	assert.True(t, delta.Equal(decimal.NewFromInt(2)), "delta was %s", delta)
}

func TestMaxDeltaSinceNeedsTwoTicks(t *testing.T) {
	m := New(60)
	now := time.Now()
	m.Update(tick(50000, now))

	assert.True(t, m.MaxDeltaSince(30*time.Second, now).IsZero())
}

func TestSnapshotConsistentOffset(t *testing.T) {
	m := New(60)
	now := time.Now()
	for i := 0; i < 15; i++ {
		m.Update(tick(50000+float64(i)*10, now.Add(time.Duration(i)*time.Second)))
	}

	snap, ok := m.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Offset.Equal(snap.LastPrice.Sub(snap.Ema)))
	assert.Equal(t, 15, snap.Samples)
}

func TestSnapshotNotOKBeforeFirstTick(t *testing.T) {
	m := New(60)
	_, ok := m.Snapshot()
	assert.False(t, ok)
}
