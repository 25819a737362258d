package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrShimp/polymarket-robot-sub000/internal/execution"
	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
	"github.com/MrShimp/polymarket-robot-sub000/internal/risk"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeExecutor struct {
	enterErrs  []error // consumed per Enter call
	enterCalls int
	entered    []execution.OrderIntent
	exitErr    error
	exitCalls  int
	exitTokens []string
}

func (f *fakeExecutor) Enter(_ context.Context, intent execution.OrderIntent) (decimal.Decimal, error) {
	f.entered = append(f.entered, intent)
	var err error
	if f.enterCalls < len(f.enterErrs) {
		err = f.enterErrs[f.enterCalls]
	}
	f.enterCalls++
	if err != nil {
		return decimal.Zero, err
	}
	return intent.Amount, nil
}

func (f *fakeExecutor) Exit(_ context.Context, tokenID string) error {
	f.exitCalls++
	f.exitTokens = append(f.exitTokens, tokenID)
	return f.exitErr
}

type fakeNotifier struct {
	opened      int
	closed      int
	closeReason string
	exitFailed  int
}

func (f *fakeNotifier) TradeOpened(string, decimal.Decimal, decimal.Decimal) { f.opened++ }
func (f *fakeNotifier) TradeClosed(reason string, _ decimal.Decimal) {
	f.closed++
	f.closeReason = reason
}
func (f *fakeNotifier) ExitFailed(string, error) { f.exitFailed++ }

type fakeRecorder struct {
	trades      int
	evaluations int
	blocked     int
}

func (f *fakeRecorder) SaveTrade(string, string, decimal.Decimal, decimal.Decimal, time.Time) error {
	f.trades++
	return nil
}

func (f *fakeRecorder) SaveEvaluation(_, _, _, _, _ decimal.Decimal, _ string, blocked bool, _ string) error {
	f.evaluations++
	if blocked {
		f.blocked++
	}
	return nil
}

type harness struct {
	mgr      *Manager
	win      *Window
	executor *fakeExecutor
	notifier *fakeNotifier
	recorder *fakeRecorder
	start    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	win := NewWindow(start, start.Add(15*time.Minute))
	executor := &fakeExecutor{}
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	gate := risk.New(d(0.2), d(0.8), 2*time.Minute)
	mgr := New(win, DefaultConfig(), gate, executor, notifier, recorder)
	return &harness{mgr: mgr, win: win, executor: executor, notifier: notifier, recorder: recorder, start: start}
}

// entryCycle produces a strong bullish divergence: offset 100 against
// a 66-dollar adaptive deviation, theoretical ~0.77 vs market 0.50.
func (h *harness) entryCycle() Cycle {
	return Cycle{
		Now: h.start.Add(2 * time.Minute),
		Price: pricemodel.Snapshot{
			LastPrice:  d(50100),
			Ema:        d(50000),
			Offset:     d(100),
			Volatility: d(20),
			BuyerRatio: d(0.8),
			Samples:    60,
		},
		MarketYesProb:  d(0.50),
		MarketEndTime:  h.start.Add(15 * time.Minute),
		LiquidityScore: d(0.5),
		TokenIDYes:     "yes-token",
		TokenIDNo:      "no-token",
		PriceDelta:     d(50),
	}
}

// holdCycle keeps an entered position open: no exit trigger fires.
func (h *harness) holdCycle(yesProb float64) Cycle {
	c := h.entryCycle()
	c.Now = h.start.Add(5 * time.Minute)
	c.MarketYesProb = d(yesProb)
	return c
}

func TestEntryOpensPositionAndConsumesWindow(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.mgr.Evaluate(context.Background(), h.entryCycle()))

	assert.Equal(t, StateEntered, h.mgr.State())
	assert.True(t, h.win.Traded())

	pos, ok := h.mgr.Position()
	require.True(t, ok)
	assert.Equal(t, "yes-token", pos.TokenID)
	assert.True(t, pos.Amount.Equal(d(10)), "amount %s", pos.Amount)
	assert.True(t, pos.EntryProbability.Equal(d(0.50)))

	assert.Equal(t, 1, h.notifier.opened)
	assert.Equal(t, 1, h.recorder.trades)
}

func TestBuyNoUsesNoTokenAndComplementProbability(t *testing.T) {
	h := newHarness(t)

	// Bearish mirror of entryCycle.
	c := h.entryCycle()
	c.Price.Offset = d(-100)
	c.Price.LastPrice = d(49900)
	c.MarketYesProb = d(0.50)

	require.NoError(t, h.mgr.Evaluate(context.Background(), c))

	pos, ok := h.mgr.Position()
	require.True(t, ok)
	assert.Equal(t, "no-token", pos.TokenID)
	assert.True(t, pos.EntryProbability.Equal(d(0.50)))
}

func TestNoSecondEntryInSameWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))
	require.Equal(t, 1, h.executor.enterCalls)

	// Exit via take profit, then feed a fresh entry signal.
	tp := h.holdCycle(0.92)
	require.NoError(t, h.mgr.Evaluate(ctx, tp))
	require.Equal(t, StateClosed, h.mgr.State())

	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))
	assert.Equal(t, 1, h.executor.enterCalls, "window already traded")
	assert.True(t, h.win.Traded())
}

func TestEntryFailureLeavesWindowOpenForRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.executor.enterErrs = []error{errors.New("venue timeout"), nil}

	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.False(t, h.win.Traded())

	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))
	assert.Equal(t, StateEntered, h.mgr.State())
	assert.Equal(t, 2, h.executor.enterCalls)
}

func TestGateBlockRecordedAndDoesNotConsumeWindow(t *testing.T) {
	h := newHarness(t)

	c := h.entryCycle()
	c.MarketYesProb = d(0.95)

	require.NoError(t, h.mgr.Evaluate(context.Background(), c))
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.False(t, h.win.Traded())
	assert.Equal(t, 0, h.executor.enterCalls)
	assert.Equal(t, 1, h.recorder.blocked)
}

func TestNoSignalNoEntry(t *testing.T) {
	h := newHarness(t)

	c := h.entryCycle()
	c.Price.Offset = d(5) // well inside the deviation band

	require.NoError(t, h.mgr.Evaluate(context.Background(), c))
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.Equal(t, 0, h.executor.enterCalls)
	assert.Equal(t, 1, h.recorder.evaluations)
}

func TestTakeProfitExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	require.NoError(t, h.mgr.Evaluate(ctx, h.holdCycle(0.92)))

	assert.Equal(t, StateClosed, h.mgr.State())
	assert.Equal(t, 1, h.executor.exitCalls)
	assert.Equal(t, "take_profit", h.notifier.closeReason)
}

func TestStopLossExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	require.NoError(t, h.mgr.Evaluate(ctx, h.holdCycle(0.53)))

	assert.Equal(t, StateClosed, h.mgr.State())
	assert.Equal(t, "stop_loss", h.notifier.closeReason)
}

func TestStagnationTakeProfit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	// Probability high but below straight TP, underlying stalled.
	c := h.holdCycle(0.86)
	c.PriceDelta = d(2)

	require.NoError(t, h.mgr.Evaluate(ctx, c))
	assert.Equal(t, StateClosed, h.mgr.State())
	assert.Equal(t, "stagnation_take_profit", h.notifier.closeReason)
}

func TestStagnationNeedsBothConditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	// High probability but the underlying is still moving.
	c := h.holdCycle(0.86)
	c.PriceDelta = d(12)
	require.NoError(t, h.mgr.Evaluate(ctx, c))
	assert.Equal(t, StateEntered, h.mgr.State())

	// Stalled but probability below the stagnation floor.
	c = h.holdCycle(0.80)
	c.PriceDelta = d(2)
	require.NoError(t, h.mgr.Evaluate(ctx, c))
	assert.Equal(t, StateEntered, h.mgr.State())
}

func TestTimeoutExit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	c := h.holdCycle(0.70)
	c.Now = h.start.Add(2*time.Minute + 15*time.Minute)

	require.NoError(t, h.mgr.Evaluate(ctx, c))
	assert.Equal(t, StateClosed, h.mgr.State())
	assert.Equal(t, "timeout", h.notifier.closeReason)
}

func TestExitExhaustionHaltsWindowAndAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	h.executor.exitErr = execution.ErrExitExhausted

	err := h.mgr.Evaluate(ctx, h.holdCycle(0.92))
	assert.ErrorIs(t, err, execution.ErrExitExhausted)

	// Position stays Entered so the stuck balance remains visible.
	assert.Equal(t, StateEntered, h.mgr.State())
	assert.Equal(t, 1, h.notifier.exitFailed)

	// Automation for the window is halted: no further exit attempts.
	require.NoError(t, h.mgr.Evaluate(ctx, h.holdCycle(0.92)))
	assert.Equal(t, 1, h.executor.exitCalls)
}

func TestForceCloseExitsEnteredPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))

	require.NoError(t, h.mgr.ForceClose(ctx))
	assert.Equal(t, StateClosed, h.mgr.State())
	assert.Equal(t, "forced_rollover", h.notifier.closeReason)
}

func TestForceCloseIdempotentWhenIdleOrClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.ForceClose(ctx))
	assert.Equal(t, 0, h.executor.exitCalls)

	require.NoError(t, h.mgr.Evaluate(ctx, h.entryCycle()))
	require.NoError(t, h.mgr.ForceClose(ctx))
	require.NoError(t, h.mgr.ForceClose(ctx))
	assert.Equal(t, 1, h.executor.exitCalls)
}

func TestFillAfterCancellationIsUnwound(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the window rolled over before the fill confirmed

	err := h.mgr.Evaluate(ctx, h.entryCycle())
	assert.ErrorIs(t, err, context.Canceled)

	// No position in the dead window, and the fill was unwound.
	assert.Equal(t, StateIdle, h.mgr.State())
	assert.False(t, h.win.Traded())
	assert.Equal(t, 1, h.executor.exitCalls)
	assert.Equal(t, "yes-token", h.executor.exitTokens[0])
}
