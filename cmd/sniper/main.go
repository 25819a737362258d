// Sniper - adaptive micro-trading engine for 15-minute Up/Down
// prediction windows.
//
// The engine tracks the underlying price from Binance, maintains an
// EMA/volatility model, and trades Polymarket binary windows when the
// price deviation and probability divergence both clear adaptive
// thresholds. One position per window, guaranteed-exit retry protocol,
// hard rollover at every window boundary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/MrShimp/polymarket-robot-sub000/internal/clob"
	"github.com/MrShimp/polymarket-robot-sub000/internal/config"
	"github.com/MrShimp/polymarket-robot-sub000/internal/execution"
	"github.com/MrShimp/polymarket-robot-sub000/internal/feeds"
	"github.com/MrShimp/polymarket-robot-sub000/internal/logging"
	"github.com/MrShimp/polymarket-robot-sub000/internal/market"
	"github.com/MrShimp/polymarket-robot-sub000/internal/notify"
	"github.com/MrShimp/polymarket-robot-sub000/internal/position"
	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
	"github.com/MrShimp/polymarket-robot-sub000/internal/risk"
	"github.com/MrShimp/polymarket-robot-sub000/internal/scheduler"
	"github.com/MrShimp/polymarket-robot-sub000/internal/storage"
)

const version = "1.2.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(cfg.LogFile, cfg.Debug)

	log.Info().
		Str("version", version).
		Str("asset", cfg.TradingAsset).
		Bool("dry_run", cfg.DryRun).
		Int("window_minutes", cfg.WindowMinutes).
		Msg("🎯 Sniper starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	broker, err := clob.NewClient(cfg.CLOBURL, clob.Credentials{
		PrivateKeyHex: cfg.WalletPrivateKey,
		APIKey:        cfg.CLOBApiKey,
		APISecret:     cfg.CLOBApiSecret,
		Passphrase:    cfg.CLOBPassphrase,
	}, cfg.DryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize CLOB client")
	}

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram")
	}

	model := pricemodel.New(cfg.EmaSamples)

	feed := feeds.NewBinanceFeed(cfg.BinanceWS, cfg.TradingAsset+"USDT")
	feed.Start()
	defer feed.Stop()

	markets := market.NewClient(cfg.GammaAPIURL, cfg.TradingAsset, broker, model.Snapshot)
	go markets.Start(ctx)

	executor := execution.New(broker, broker, execution.Config{
		MaxExitRetries:      cfg.MaxExitRetries,
		ExitBackoff:         cfg.ExitBackoff,
		TwapBatches:         cfg.TwapBatches,
		BatchDelay:          cfg.BatchDelay,
		MinOrderSize:        cfg.MinOrderSize,
		ExpectedProfitRatio: cfg.ExpectedProfitRatio,
	})

	gate := risk.New(cfg.ProbFloor, cfg.ProbCeiling, time.Duration(cfg.NoEntrySeconds)*time.Second)

	sched := scheduler.New(
		scheduler.Config{
			WindowDuration:   cfg.WindowDuration(),
			PollInterval:     cfg.PollInterval,
			MaxFeedStaleness: cfg.MaxFeedStaleness,
			StagnationSpan:   cfg.StagnationSpan,
		},
		feed, markets, model, gate, executor, notifier, db,
		position.Config{
			TradeAmount:          cfg.TradeAmount,
			MaxSlippageRatio:     cfg.MaxSlippageRatio,
			TakeProfitProb:       cfg.TakeProfitProb,
			StopLossProb:         cfg.StopLossProb,
			StagnationProb:       cfg.StagnationProb,
			StagnationDelta:      cfg.StagnationDelta,
			CoreSensitivity:      cfg.CoreSensitivity,
			VolatilityMultiplier: cfg.VolatilityMultiplier,
			MuFactor:             cfg.MuFactor,
			BaseProbGap:          cfg.BaseProbGap,
		},
	)

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduler stopped")
			cancel()
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutting down...")
	case <-ctx.Done():
	}
	cancel()

	log.Info().Msg("👋 Sniper stopped")
}
