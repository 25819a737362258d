// Package scheduler aligns strategy instances to fixed wall-clock
// trading windows. Exactly one instance runs at a time; rollover
// force-closes the outgoing position and cancels the outgoing
// instance before the next one starts.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MrShimp/polymarket-robot-sub000/internal/market"
	"github.com/MrShimp/polymarket-robot-sub000/internal/position"
	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
	"github.com/MrShimp/polymarket-robot-sub000/internal/risk"
	"github.com/MrShimp/polymarket-robot-sub000/internal/storage"
)

// forceCloseTimeout bounds the rollover exit, which runs on a fresh
// context because the instance context is already cancelled.
const forceCloseTimeout = 30 * time.Second

// Feed is the live price/trade stream.
type Feed interface {
	Ticks() <-chan pricemodel.PriceTick
	Prints() <-chan pricemodel.TradePrint
	Freshness() time.Duration
}

// MarketSource resolves and tracks the window's market.
type MarketSource interface {
	SetActiveWindow(start time.Time, info market.Info)
	Current() (market.Info, bool)
	ResolveWindow(ctx context.Context, start time.Time) (market.Info, error)
}

// Config tunes the scheduler.
type Config struct {
	WindowDuration   time.Duration
	PollInterval     time.Duration
	MaxFeedStaleness time.Duration
	StagnationSpan   time.Duration
}

// Scheduler runs one strategy instance per window.
type Scheduler struct {
	cfg      Config
	feed     Feed
	markets  MarketSource
	model    *pricemodel.Model
	gate     *risk.Gate
	executor position.Executor
	notifier position.Notifier
	db       *storage.Database
	posCfg   position.Config
}

// New creates a scheduler. The price model is shared across windows so
// EMA and volatility history survive rollover.
func New(cfg Config, feed Feed, markets MarketSource, model *pricemodel.Model, gate *risk.Gate, executor position.Executor, notifier position.Notifier, db *storage.Database, posCfg position.Config) *Scheduler {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 15 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Scheduler{
		cfg:      cfg,
		feed:     feed,
		markets:  markets,
		model:    model,
		gate:     gate,
		executor: executor,
		notifier: notifier,
		db:       db,
		posCfg:   posCfg,
	}
}

// WindowBounds returns the wall-clock window containing now:
// [start, start+d) with start aligned to a multiple of d since the
// Unix epoch.
func WindowBounds(now time.Time, d time.Duration) (time.Time, time.Time) {
	start := now.Truncate(d)
	return start, start.Add(d)
}

// Run drives windows until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start, end := WindowBounds(time.Now(), s.cfg.WindowDuration)
		if err := s.runWindow(ctx, start, end); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Error().Err(err).Msg("Window aborted")
		}
	}
}

// runWindow runs one strategy instance for the window [start, end).
func (s *Scheduler) runWindow(ctx context.Context, start, end time.Time) error {
	log.Info().
		Time("start", start).
		Time("end", end).
		Msg("🪟 New trading window")

	// The instance context dies at the window boundary, so no order or
	// evaluation can leak into the next window.
	instCtx, cancel := context.WithDeadline(ctx, end)
	defer cancel()

	info, err := s.markets.ResolveWindow(instCtx, start)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Market resolution failed, idling until next window")
		s.waitUntil(ctx, end)
		return err
	}
	s.markets.SetActiveWindow(start, info)

	log.Info().
		Str("question", info.Question).
		Str("yes_prob", info.YesProbability.StringFixed(3)).
		Msg("🎯 Window market resolved")

	win := position.NewWindow(start, end)
	recorder := storage.NewWindowRecorder(s.db, start)
	mgr := position.New(win, s.posCfg, s.gate, s.executor, s.notifier, recorder)

	s.instanceLoop(instCtx, mgr)

	// Rollover: force-close whatever is still open. The instance
	// context is done, so use a fresh bounded one.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), forceCloseTimeout)
	defer closeCancel()
	if err := mgr.ForceClose(closeCtx); err != nil {
		log.Error().Err(err).Msg("🛑 Rollover force-close failed")
	}
	return nil
}

// instanceLoop is the single writer for the window's position: it owns
// feeding the model and running evaluations until the context dies.
func (s *Scheduler) instanceLoop(ctx context.Context, mgr *position.Manager) {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-s.feed.Ticks():
			s.model.Update(tick)
		case trade := <-s.feed.Prints():
			s.model.RecordTrade(trade)
		case <-poll.C:
			s.evaluate(ctx, mgr)
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, mgr *position.Manager) {
	if stale := s.feed.Freshness(); stale > s.cfg.MaxFeedStaleness {
		log.Warn().
			Dur("staleness", stale).
			Msg("⚠️ Feed stale, skipping evaluation")
		return
	}

	snap, ok := s.model.Snapshot()
	if !ok {
		return
	}
	info, ok := s.markets.Current()
	if !ok {
		log.Debug().Msg("No market info yet, skipping evaluation")
		return
	}

	now := time.Now()
	cycle := position.Cycle{
		Now:            now,
		Price:          snap,
		MarketYesProb:  info.YesProbability,
		MarketEndTime:  info.EndTime,
		LiquidityScore: info.Liquidity,
		TokenIDYes:     info.TokenIDYes,
		TokenIDNo:      info.TokenIDNo,
		PriceDelta:     s.model.MaxDeltaSince(s.cfg.StagnationSpan, now),
	}

	if err := mgr.Evaluate(ctx, cycle); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Evaluation failed")
	}
}

// waitUntil sleeps until t or ctx cancellation, whichever is first.
func (s *Scheduler) waitUntil(ctx context.Context, t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
