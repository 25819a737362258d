// Package pricemodel maintains the rolling price state the strategy
// evaluates against: a bounded tick history, an exponential moving
// average and a volatility estimate, plus the recent trade prints used
// for the buy/sell pressure ratio. Pure arithmetic, no I/O.
package pricemodel

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTickCapacity covers ~10 minutes at one tick per second.
	DefaultTickCapacity = 600

	// DefaultTradeCapacity bounds the prints kept for the buyer ratio.
	DefaultTradeCapacity = 100

	// minVolatilitySamples is the smallest history we trust for a
	// volatility estimate; below it the fallback constant applies.
	minVolatilitySamples = 10
)

// fallbackVolatility is used until enough ticks have been observed.
var fallbackVolatility = decimal.NewFromInt(20)

// PriceTick is a single observed price.
type PriceTick struct {
	Price     decimal.Decimal
	Timestamp time.Time
}

// TradePrint is a single executed trade from the feed.
type TradePrint struct {
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	TakerIsBuyer bool
	Timestamp    time.Time
}

// EmaState is the exponential moving average state. Alpha is fixed at
// construction (2/(N+1) for an N-sample horizon).
type EmaState struct {
	Value       decimal.Decimal
	Alpha       decimal.Decimal
	SampleCount int
}

// Snapshot is a consistent view of the model for one evaluation cycle.
// EMA and volatility are computed from the same buffer state.
type Snapshot struct {
	LastPrice  decimal.Decimal
	Ema        decimal.Decimal
	Offset     decimal.Decimal // LastPrice - Ema
	Volatility decimal.Decimal
	BuyerRatio decimal.Decimal
	Samples    int
}

// Model owns the tick and trade ring buffers and the EMA state.
// A single strategy instance owns a Model; the mutex only protects
// against the feed goroutine racing the evaluation loop.
type Model struct {
	mu sync.RWMutex

	ticks    []PriceTick
	tickHead int
	tickLen  int

	prints    []TradePrint
	printHead int
	printLen  int

	ema EmaState
}

// New creates a model with an EMA horizon of emaSamples ticks and the
// default ring capacities.
func New(emaSamples int) *Model {
	return NewWithCapacity(emaSamples, DefaultTickCapacity, DefaultTradeCapacity)
}

// NewWithCapacity creates a model with explicit ring capacities.
func NewWithCapacity(emaSamples, tickCap, tradeCap int) *Model {
	if emaSamples < 1 {
		emaSamples = 1
	}
	if tickCap < 2 {
		tickCap = 2
	}
	if tradeCap < 1 {
		tradeCap = 1
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(emaSamples + 1)))
	return &Model{
		ticks:  make([]PriceTick, tickCap),
		prints: make([]TradePrint, tradeCap),
		ema:    EmaState{Alpha: alpha},
	}
}

// Update appends a tick and advances the EMA:
// ema = alpha*price + (1-alpha)*ema, seeded with the first price.
func (m *Model) Update(tick PriceTick) EmaState {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := (m.tickHead + m.tickLen) % len(m.ticks)
	m.ticks[idx] = tick
	if m.tickLen < len(m.ticks) {
		m.tickLen++
	} else {
		m.tickHead = (m.tickHead + 1) % len(m.ticks)
	}

	if m.ema.SampleCount == 0 {
		m.ema.Value = tick.Price
	} else {
		one := decimal.NewFromInt(1)
		m.ema.Value = tick.Price.Mul(m.ema.Alpha).Add(m.ema.Value.Mul(one.Sub(m.ema.Alpha)))
	}
	m.ema.SampleCount++

	return m.ema
}

// RecordTrade appends a trade print to the bounded print ring.
func (m *Model) RecordTrade(p TradePrint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := (m.printHead + m.printLen) % len(m.prints)
	m.prints[idx] = p
	if m.printLen < len(m.prints) {
		m.printLen++
	} else {
		m.printHead = (m.printHead + 1) % len(m.prints)
	}
}

// Volatility is the mean absolute consecutive difference over the tick
// ring. With fewer than minVolatilitySamples ticks the fallback
// constant is returned.
func (m *Model) Volatility() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volatilityLocked()
}

func (m *Model) volatilityLocked() decimal.Decimal {
	if m.tickLen < minVolatilitySamples {
		return fallbackVolatility
	}

	sum := decimal.Zero
	prev := m.tickAt(0).Price
	for i := 1; i < m.tickLen; i++ {
		cur := m.tickAt(i).Price
		sum = sum.Add(cur.Sub(prev).Abs())
		prev = cur
	}
	return sum.Div(decimal.NewFromInt(int64(m.tickLen - 1)))
}

// BuyerRatio is the fraction of recent prints where the taker was the
// buyer. With no prints it returns 0.5 (no pressure either way).
func (m *Model) BuyerRatio() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buyerRatioLocked()
}

func (m *Model) buyerRatioLocked() decimal.Decimal {
	if m.printLen == 0 {
		return decimal.NewFromFloat(0.5)
	}
	buyers := 0
	for i := 0; i < m.printLen; i++ {
		if m.prints[(m.printHead+i)%len(m.prints)].TakerIsBuyer {
			buyers++
		}
	}
	return decimal.NewFromInt(int64(buyers)).Div(decimal.NewFromInt(int64(m.printLen)))
}

// MaxDeltaSince returns max(price)-min(price) over ticks newer than
// now-window. Returns zero when fewer than two ticks qualify.
func (m *Model) MaxDeltaSince(window time.Duration, now time.Time) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now.Add(-window)
	var lo, hi decimal.Decimal
	n := 0
	for i := 0; i < m.tickLen; i++ {
		t := m.tickAt(i)
		if t.Timestamp.Before(cutoff) {
			continue
		}
		if n == 0 {
			lo, hi = t.Price, t.Price
		} else {
			if t.Price.LessThan(lo) {
				lo = t.Price
			}
			if t.Price.GreaterThan(hi) {
				hi = t.Price
			}
		}
		n++
	}
	if n < 2 {
		return decimal.Zero
	}
	return hi.Sub(lo)
}

// Snapshot returns a consistent view for one evaluation cycle. ok is
// false until at least one tick has been observed.
func (m *Model) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tickLen == 0 {
		return Snapshot{}, false
	}
	last := m.tickAt(m.tickLen - 1).Price
	return Snapshot{
		LastPrice:  last,
		Ema:        m.ema.Value,
		Offset:     last.Sub(m.ema.Value),
		Volatility: m.volatilityLocked(),
		BuyerRatio: m.buyerRatioLocked(),
		Samples:    m.tickLen,
	}, true
}

// Ema returns the current EMA state.
func (m *Model) Ema() EmaState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ema
}

// Len returns the number of buffered ticks.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickLen
}

func (m *Model) tickAt(i int) PriceTick {
	return m.ticks[(m.tickHead+i)%len(m.ticks)]
}
