// Package execution places entry and exit orders through a Broker with
// slippage-aware splitting on entry and a retry-until-drained protocol
// on exit.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// FillMode controls how the venue may fill an order.
type FillMode string

const (
	FillFOK FillMode = "FOK" // fill-or-kill
	FillGTC FillMode = "GTC"
)

// Sentinel errors. Callers distinguish these with errors.Is.
var (
	// ErrInsufficientLiquidity means the book cannot absorb the order
	// at any price. Not retried.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrOrderRejected means the venue refused the order. Not retried.
	ErrOrderRejected = errors.New("order rejected")

	// ErrExitExhausted means the exit retry budget ran out with a
	// nonzero balance remaining. Automation for the window must stop
	// and an operator must intervene.
	ErrExitExhausted = errors.New("exit retries exhausted with balance remaining")
)

// OrderIntent describes a desired entry.
type OrderIntent struct {
	TokenID          string
	Side             Side
	Amount           decimal.Decimal // dollars for buys
	MaxSlippageRatio decimal.Decimal
}

// OrderResult is what the broker reports for one submitted order.
type OrderResult struct {
	Success      bool
	OrderID      string
	FilledAmount decimal.Decimal
	Err          error
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal // shares
}

// OrderBook is a snapshot of one token's book, best levels first.
type OrderBook struct {
	Asks []BookLevel
	Bids []BookLevel
}

// Broker submits orders and reports balances.
type Broker interface {
	SubmitMarketOrder(ctx context.Context, tokenID string, amount decimal.Decimal, side Side, mode FillMode) OrderResult
	QueryBalance(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// BookProvider supplies order-book snapshots for slippage simulation.
type BookProvider interface {
	Snapshot(ctx context.Context, tokenID string) (OrderBook, error)
}

// Config tunes execution behavior.
type Config struct {
	MaxExitRetries      int
	ExitBackoff         time.Duration
	TwapBatches         int
	BatchDelay          time.Duration
	MinOrderSize        decimal.Decimal // dollars
	ExpectedProfitRatio decimal.Decimal
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxExitRetries:      10,
		ExitBackoff:         time.Second,
		TwapBatches:         3,
		BatchDelay:          500 * time.Millisecond,
		MinOrderSize:        decimal.NewFromInt(1),
		ExpectedProfitRatio: decimal.NewFromFloat(0.5),
	}
}

// Executor runs entries and exits against a broker.
type Executor struct {
	broker Broker
	books  BookProvider
	cfg    Config
}

// New creates an executor. books may be nil; slippage simulation is
// then skipped and entries go out as a single order.
func New(broker Broker, books BookProvider, cfg Config) *Executor {
	if cfg.MaxExitRetries < 1 {
		cfg.MaxExitRetries = 10
	}
	if cfg.TwapBatches < 1 {
		cfg.TwapBatches = 1
	}
	return &Executor{broker: broker, books: books, cfg: cfg}
}

// Enter buys intent.Amount dollars of intent.TokenID. When the
// simulated market-order slippage exceeds the budget it splits the
// order into sequential batches; otherwise a single FOK market order
// goes out. Returns the total filled amount.
func (e *Executor) Enter(ctx context.Context, intent OrderIntent) (decimal.Decimal, error) {
	split, err := e.shouldSplit(ctx, intent)
	if err != nil {
		return decimal.Zero, err
	}

	if !split {
		res := e.broker.SubmitMarketOrder(ctx, intent.TokenID, intent.Amount, intent.Side, FillFOK)
		if !res.Success {
			if res.Err != nil {
				return decimal.Zero, fmt.Errorf("entry order failed: %w", res.Err)
			}
			return decimal.Zero, ErrOrderRejected
		}
		log.Info().
			Str("token_id", intent.TokenID).
			Str("order_id", res.OrderID).
			Str("filled", res.FilledAmount.String()).
			Msg("✅ Entry filled")
		return res.FilledAmount, nil
	}

	return e.enterSplit(ctx, intent)
}

// enterSplit submits the intent as sequential batches. Each batch is
// at least MinOrderSize; the batch count shrinks when the amount is
// too small to honor that. Succeeds if any batch filled.
func (e *Executor) enterSplit(ctx context.Context, intent OrderIntent) (decimal.Decimal, error) {
	batches := e.cfg.TwapBatches
	batchSize := intent.Amount.Div(decimal.NewFromInt(int64(batches)))
	for batches > 1 && batchSize.LessThan(e.cfg.MinOrderSize) {
		batches--
		batchSize = intent.Amount.Div(decimal.NewFromInt(int64(batches)))
	}

	log.Info().
		Str("token_id", intent.TokenID).
		Int("batches", batches).
		Str("batch_size", batchSize.String()).
		Msg("🔀 Splitting entry to limit slippage")

	total := decimal.Zero
	var lastErr error
	for i := 0; i < batches; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				if total.IsPositive() {
					return total, nil
				}
				return decimal.Zero, ctx.Err()
			case <-time.After(e.cfg.BatchDelay):
			}
		}

		amount := batchSize
		if i == batches-1 {
			// Last batch absorbs division remainder.
			amount = intent.Amount.Sub(batchSize.Mul(decimal.NewFromInt(int64(batches - 1))))
		}

		res := e.broker.SubmitMarketOrder(ctx, intent.TokenID, amount, intent.Side, FillFOK)
		if !res.Success {
			lastErr = res.Err
			log.Warn().
				Int("batch", i+1).
				Err(res.Err).
				Msg("⚠️ Entry batch failed")
			continue
		}
		total = total.Add(res.FilledAmount)
	}

	if total.IsZero() {
		if lastErr != nil {
			return decimal.Zero, fmt.Errorf("all entry batches failed: %w", lastErr)
		}
		return decimal.Zero, ErrOrderRejected
	}
	return total, nil
}

// shouldSplit simulates a market order against the current book and
// reports whether the expected slippage exceeds the budget:
// (avgFill - bestAsk) / bestAsk > expectedProfitRatio * maxSlippage.
func (e *Executor) shouldSplit(ctx context.Context, intent OrderIntent) (bool, error) {
	if e.books == nil || intent.Side != SideBuy {
		return false, nil
	}

	book, err := e.books.Snapshot(ctx, intent.TokenID)
	if err != nil {
		// Book unavailable is transient; trade single-shot rather
		// than miss the window.
		log.Warn().Err(err).Msg("⚠️ Book snapshot failed, skipping slippage check")
		return false, nil
	}
	if len(book.Asks) == 0 {
		return false, ErrInsufficientLiquidity
	}

	avgFill, _, err := SimulateBuy(book, intent.Amount)
	if err != nil {
		return false, err
	}

	bestAsk := book.Asks[0].Price
	if !bestAsk.IsPositive() {
		return false, ErrInsufficientLiquidity
	}
	slippage := avgFill.Sub(bestAsk).Div(bestAsk)
	budget := e.cfg.ExpectedProfitRatio.Mul(intent.MaxSlippageRatio)

	if slippage.GreaterThan(budget) {
		log.Debug().
			Str("slippage", slippage.String()).
			Str("budget", budget.String()).
			Msg("Slippage above budget")
		return true, nil
	}
	return false, nil
}

// SimulateBuy walks the ask side spending amount dollars and returns
// the volume-weighted average fill price and the shares acquired.
// Returns ErrInsufficientLiquidity when the book is too thin.
func SimulateBuy(book OrderBook, amount decimal.Decimal) (avgPrice, shares decimal.Decimal, err error) {
	remaining := amount
	cost := decimal.Zero
	shares = decimal.Zero

	for _, lvl := range book.Asks {
		if !remaining.IsPositive() {
			break
		}
		if !lvl.Price.IsPositive() || !lvl.Size.IsPositive() {
			continue
		}
		levelCost := lvl.Price.Mul(lvl.Size)
		if levelCost.GreaterThanOrEqual(remaining) {
			take := remaining.Div(lvl.Price)
			shares = shares.Add(take)
			cost = cost.Add(remaining)
			remaining = decimal.Zero
			break
		}
		shares = shares.Add(lvl.Size)
		cost = cost.Add(levelCost)
		remaining = remaining.Sub(levelCost)
	}

	if remaining.IsPositive() || !shares.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInsufficientLiquidity
	}
	return cost.Div(shares), shares, nil
}

// Exit sells the full balance of tokenID until it is drained. Each
// attempt re-queries the true balance, so partial fills and fills that
// land between attempts are handled naturally. A balance of zero at
// any point means success, including on the first attempt (idempotent
// for already-closed positions). Exhausting the retry budget with a
// balance remaining returns ErrExitExhausted.
func (e *Executor) Exit(ctx context.Context, tokenID string) error {
	for attempt := 1; attempt <= e.cfg.MaxExitRetries; attempt++ {
		balance, err := e.broker.QueryBalance(ctx, tokenID)
		if err != nil {
			log.Warn().
				Int("attempt", attempt).
				Err(err).
				Msg("⚠️ Balance query failed")
			if berr := e.backoff(ctx); berr != nil {
				return berr
			}
			continue
		}

		if !balance.IsPositive() {
			log.Info().
				Str("token_id", tokenID).
				Int("attempts", attempt).
				Msg("✅ Position fully exited")
			return nil
		}

		res := e.broker.SubmitMarketOrder(ctx, tokenID, balance, SideSell, FillFOK)
		if res.Success {
			log.Info().
				Str("token_id", tokenID).
				Str("sold", balance.String()).
				Int("attempt", attempt).
				Msg("💸 Exit order filled")
			// Loop again to confirm the balance actually drained.
			continue
		}

		log.Warn().
			Int("attempt", attempt).
			Str("balance", balance.String()).
			Err(res.Err).
			Msg("⚠️ Exit order failed, retrying")
		if berr := e.backoff(ctx); berr != nil {
			return berr
		}
	}

	// Final balance check after the last attempt.
	balance, err := e.broker.QueryBalance(ctx, tokenID)
	if err == nil && !balance.IsPositive() {
		return nil
	}

	log.Error().
		Str("token_id", tokenID).
		Int("max_retries", e.cfg.MaxExitRetries).
		Msg("🛑 Exit retries exhausted")
	return ErrExitExhausted
}

func (e *Executor) backoff(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.ExitBackoff):
		return nil
	}
}
