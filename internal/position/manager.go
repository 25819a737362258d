// Package position runs the per-window trade lifecycle: at most one
// entry per 15-minute window, then take-profit / stop-loss / stagnation
// / timeout exit management.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MrShimp/polymarket-robot-sub000/internal/execution"
	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
	"github.com/MrShimp/polymarket-robot-sub000/internal/risk"
	"github.com/MrShimp/polymarket-robot-sub000/internal/signal"
	"github.com/MrShimp/polymarket-robot-sub000/internal/threshold"
)

// State of the window's position lifecycle.
type State int

const (
	StateIdle State = iota
	StateEntered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEntered:
		return "entered"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Window is one 15-minute trading window. traded flips false→true on
// the first confirmed entry and never flips back.
type Window struct {
	Start  time.Time
	End    time.Time
	traded bool
}

// NewWindow creates a window over [start, end).
func NewWindow(start, end time.Time) *Window {
	return &Window{Start: start, End: end}
}

// Traded reports whether this window has consumed its trade slot.
func (w *Window) Traded() bool { return w.traded }

// Duration of the window.
func (w *Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Position is the live trade for a window. Amount never increases
// after entry.
type Position struct {
	Direction        signal.Direction
	TokenID          string
	EntryPrice       decimal.Decimal
	EntryProbability decimal.Decimal
	Amount           decimal.Decimal
	EntryTime        time.Time
}

// Executor places entries and exits.
type Executor interface {
	Enter(ctx context.Context, intent execution.OrderIntent) (decimal.Decimal, error)
	Exit(ctx context.Context, tokenID string) error
}

// Notifier surfaces trade events to the operator. Implementations must
// tolerate being called from the evaluation loop.
type Notifier interface {
	TradeOpened(direction string, amount, entryProb decimal.Decimal)
	TradeClosed(reason string, exitProb decimal.Decimal)
	ExitFailed(tokenID string, err error)
}

// Recorder persists trades and per-cycle evaluations for audit.
type Recorder interface {
	SaveTrade(direction, tokenID string, amount, entryProb decimal.Decimal, entryTime time.Time) error
	SaveEvaluation(offset, deviation, probGap, marketProb, theoProb decimal.Decimal, direction string, blocked bool, blockReason string) error
}

// Config tunes the manager's entry sizing and exit triggers.
type Config struct {
	TradeAmount      decimal.Decimal
	MaxSlippageRatio decimal.Decimal

	TakeProfitProb decimal.Decimal // exit when position prob >= this
	StopLossProb   decimal.Decimal // exit when position prob <= this

	StagnationProb  decimal.Decimal // special TP probability floor
	StagnationDelta decimal.Decimal // trailing max price delta below this

	CoreSensitivity      decimal.Decimal
	VolatilityMultiplier decimal.Decimal
	MuFactor             decimal.Decimal
	BaseProbGap          decimal.Decimal
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		TradeAmount:          decimal.NewFromInt(10),
		MaxSlippageRatio:     decimal.NewFromFloat(0.05),
		TakeProfitProb:       decimal.NewFromFloat(0.90),
		StopLossProb:         decimal.NewFromFloat(0.55),
		StagnationProb:       decimal.NewFromFloat(0.85),
		StagnationDelta:      decimal.NewFromInt(3),
		CoreSensitivity:      decimal.NewFromInt(25),
		VolatilityMultiplier: decimal.NewFromFloat(1.5),
		MuFactor:             decimal.NewFromFloat(1.2),
		BaseProbGap:          decimal.NewFromFloat(0.12),
	}
}

// Cycle is one evaluation input: a consistent view of the model, the
// market, and the clock.
type Cycle struct {
	Now   time.Time
	Price pricemodel.Snapshot

	MarketYesProb  decimal.Decimal
	MarketEndTime  time.Time
	LiquidityScore decimal.Decimal

	TokenIDYes string
	TokenIDNo  string

	// PriceDelta is the trailing max-minus-min over the stagnation span.
	PriceDelta decimal.Decimal
}

// Manager drives one window's position through the state machine
// Idle → Entered → Closed. Evaluate is the single logical writer; the
// mutex protects against ForceClose racing from the scheduler.
type Manager struct {
	mu sync.Mutex

	window   *Window
	state    State
	position *Position
	halted   bool // exit exhaustion stops all further automation

	cfg      Config
	gate     *risk.Gate
	executor Executor
	notifier Notifier
	recorder Recorder
}

// New creates a manager for one window.
func New(window *Window, cfg Config, gate *risk.Gate, executor Executor, notifier Notifier, recorder Recorder) *Manager {
	return &Manager{
		window:   window,
		state:    StateIdle,
		cfg:      cfg,
		gate:     gate,
		executor: executor,
		notifier: notifier,
		recorder: recorder,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns a copy of the live position, if any.
func (m *Manager) Position() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return Position{}, false
	}
	return *m.position, true
}

// Window returns the manager's window.
func (m *Manager) Window() *Window { return m.window }

// Evaluate runs one decision cycle: entry logic while Idle, exit logic
// while Entered, nothing once Closed or halted.
func (m *Manager) Evaluate(ctx context.Context, c Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return nil
	}

	switch m.state {
	case StateIdle:
		return m.tryEnter(ctx, c)
	case StateEntered:
		return m.checkExits(ctx, c)
	default:
		return nil
	}
}

func (m *Manager) tryEnter(ctx context.Context, c Cycle) error {
	if m.window.traded {
		return nil
	}

	thresholds := threshold.Compute(
		c.Price.Volatility,
		m.cfg.CoreSensitivity,
		m.cfg.VolatilityMultiplier,
		m.cfg.MuFactor,
		m.cfg.BaseProbGap,
		c.LiquidityScore,
	)
	if err := thresholds.Validate(); err != nil {
		m.halted = true
		log.Error().Err(err).Msg("🛑 Threshold invariant violated, halting window")
		return fmt.Errorf("threshold validation: %w", err)
	}

	if v := m.gate.Evaluate(c.MarketYesProb, c.MarketEndTime, c.Now); v.Blocked {
		m.record(c, thresholds, signal.None, true, v.Reason)
		return nil
	}

	theoProb := threshold.TheoreticalProbability(c.Price.Offset, c.Price.Volatility)
	breakout := signal.Classify(c.Price.Offset, thresholds.AdaptiveDeviation, c.Price.BuyerRatio)
	sig := signal.Generate(
		c.Price.Offset,
		c.MarketYesProb,
		theoProb,
		thresholds.AdaptiveDeviation,
		thresholds.AdaptiveProbGap,
		breakout,
	)

	m.record(c, thresholds, sig.Direction, false, "")

	if sig.Direction == signal.None {
		return nil
	}

	var tokenID string
	var entryProb decimal.Decimal
	switch sig.Direction {
	case signal.BuyYes:
		tokenID = c.TokenIDYes
		entryProb = c.MarketYesProb
	case signal.BuyNo:
		tokenID = c.TokenIDNo
		entryProb = decimal.NewFromInt(1).Sub(c.MarketYesProb)
	}

	amount := m.cfg.TradeAmount.Mul(sig.SizeMultiplier)
	if !amount.IsPositive() {
		return nil
	}

	log.Info().
		Str("direction", sig.Direction.String()).
		Str("breakout", sig.Breakout.String()).
		Str("offset", c.Price.Offset.StringFixed(2)).
		Str("deviation", thresholds.AdaptiveDeviation.StringFixed(2)).
		Str("theo_prob", theoProb.StringFixed(3)).
		Str("market_prob", c.MarketYesProb.StringFixed(3)).
		Str("amount", amount.String()).
		Msg("🎯 Entry signal")

	filled, err := m.executor.Enter(ctx, execution.OrderIntent{
		TokenID:          tokenID,
		Side:             execution.SideBuy,
		Amount:           amount,
		MaxSlippageRatio: m.cfg.MaxSlippageRatio,
	})
	if err != nil {
		// Entry failure leaves the window untraded; the next cycle
		// may try again.
		log.Warn().Err(err).Msg("⚠️ Entry failed, window stays open")
		return nil
	}

	if ctx.Err() != nil {
		// The window rolled over while the order was in flight. The
		// fill is real, so unwind it rather than book a position into
		// a dead window.
		log.Warn().
			Str("token_id", tokenID).
			Msg("⚠️ Fill landed after window cancellation, unwinding")
		exitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if exitErr := m.executor.Exit(exitCtx, tokenID); exitErr != nil {
			m.notifier.ExitFailed(tokenID, exitErr)
		}
		return ctx.Err()
	}

	m.window.traded = true
	m.state = StateEntered
	m.position = &Position{
		Direction:        sig.Direction,
		TokenID:          tokenID,
		EntryPrice:       c.Price.LastPrice,
		EntryProbability: entryProb,
		Amount:           filled,
		EntryTime:        c.Now,
	}

	log.Info().
		Str("direction", sig.Direction.String()).
		Str("filled", filled.String()).
		Str("entry_prob", entryProb.StringFixed(3)).
		Msg("📈 Position opened")

	m.notifier.TradeOpened(sig.Direction.String(), filled, entryProb)
	if err := m.recorder.SaveTrade(sig.Direction.String(), tokenID, filled, entryProb, c.Now); err != nil {
		log.Warn().Err(err).Msg("⚠️ Trade record not saved")
	}
	return nil
}

func (m *Manager) checkExits(ctx context.Context, c Cycle) error {
	pos := m.position

	// Probability of our side resolving true.
	posProb := c.MarketYesProb
	if pos.Direction == signal.BuyNo {
		posProb = decimal.NewFromInt(1).Sub(c.MarketYesProb)
	}

	var reason string
	switch {
	case posProb.GreaterThanOrEqual(m.cfg.TakeProfitProb):
		reason = "take_profit"
	case posProb.LessThanOrEqual(m.cfg.StopLossProb):
		reason = "stop_loss"
	case posProb.GreaterThanOrEqual(m.cfg.StagnationProb) && c.PriceDelta.LessThan(m.cfg.StagnationDelta):
		// Near-certain winner with a stalled underlying: take the
		// profit instead of holding resolution risk.
		reason = "stagnation_take_profit"
	case c.Now.Sub(pos.EntryTime) >= m.window.Duration():
		reason = "timeout"
	default:
		return nil
	}

	log.Info().
		Str("reason", reason).
		Str("position_prob", posProb.StringFixed(3)).
		Str("price_delta", c.PriceDelta.StringFixed(2)).
		Msg("🚪 Exit triggered")

	return m.exit(ctx, reason, posProb)
}

// exit runs the drain protocol and transitions state. Caller holds the
// mutex.
func (m *Manager) exit(ctx context.Context, reason string, exitProb decimal.Decimal) error {
	pos := m.position
	if err := m.executor.Exit(ctx, pos.TokenID); err != nil {
		if errors.Is(err, execution.ErrExitExhausted) {
			// Position is stuck. Stop automation for this window and
			// page the operator; the position stays Entered so the
			// stuck balance remains visible.
			m.halted = true
			m.notifier.ExitFailed(pos.TokenID, err)
			log.Error().
				Str("token_id", pos.TokenID).
				Msg("🛑 Exit exhausted, window automation halted")
		}
		return err
	}

	m.state = StateClosed
	m.notifier.TradeClosed(reason, exitProb)
	log.Info().
		Str("reason", reason).
		Str("direction", pos.Direction.String()).
		Msg("🏁 Position closed")
	return nil
}

// ForceClose exits any live position regardless of triggers. The
// scheduler calls this at window rollover. Idempotent: Idle and Closed
// states return nil immediately.
func (m *Manager) ForceClose(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEntered || m.halted {
		return nil
	}
	log.Info().Msg("⏰ Window rollover, force-closing position")
	return m.exit(ctx, "forced_rollover", decimal.Zero)
}

func (m *Manager) record(c Cycle, t threshold.Snapshot, dir signal.Direction, blocked bool, reason string) {
	theoProb := threshold.TheoreticalProbability(c.Price.Offset, c.Price.Volatility)
	if err := m.recorder.SaveEvaluation(
		c.Price.Offset,
		t.AdaptiveDeviation,
		t.AdaptiveProbGap,
		c.MarketYesProb,
		theoProb,
		dir.String(),
		blocked,
		reason,
	); err != nil {
		log.Debug().Err(err).Msg("Evaluation record not saved")
	}
}
