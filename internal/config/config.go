// Package config loads all engine configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Trading asset
	TradingAsset string

	// Endpoints
	GammaAPIURL string
	CLOBURL     string
	BinanceWS   string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet
	WalletPrivateKey string

	// Strategy
	WindowMinutes        int
	EmaSamples           int
	CoreSensitivity      decimal.Decimal
	VolatilityMultiplier decimal.Decimal
	MuFactor             decimal.Decimal
	BaseProbGap          decimal.Decimal
	TradeAmount          decimal.Decimal
	MaxSlippageRatio     decimal.Decimal
	ExpectedProfitRatio  decimal.Decimal

	// Risk
	ProbFloor      decimal.Decimal
	ProbCeiling    decimal.Decimal
	NoEntrySeconds int

	// Exits
	TakeProfitProb  decimal.Decimal
	StopLossProb    decimal.Decimal
	StagnationProb  decimal.Decimal
	StagnationDelta decimal.Decimal
	StagnationSpan  time.Duration

	// Execution
	MaxExitRetries int
	ExitBackoff    time.Duration
	TwapBatches    int
	BatchDelay     time.Duration
	MinOrderSize   decimal.Decimal

	// Freshness
	MaxFeedStaleness time.Duration
	PollInterval     time.Duration

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string

	// Logging
	LogFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		TradingAsset: getEnv("TRADING_ASSET", "BTC"),

		GammaAPIURL: getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:     getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		BinanceWS:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),

		WindowMinutes:        getEnvInt("WINDOW_MINUTES", 15),
		EmaSamples:           getEnvInt("EMA_SAMPLES", 60),
		CoreSensitivity:      getEnvDecimal("CORE_SENSITIVITY", decimal.NewFromInt(25)),
		VolatilityMultiplier: getEnvDecimal("VOLATILITY_MULTIPLIER", decimal.NewFromFloat(1.5)),
		MuFactor:             getEnvDecimal("MU_FACTOR", decimal.NewFromFloat(1.2)),
		BaseProbGap:          getEnvDecimal("BASE_PROB_GAP", decimal.NewFromFloat(0.12)),
		TradeAmount:          getEnvDecimal("TRADE_AMOUNT", decimal.NewFromInt(10)),
		MaxSlippageRatio:     getEnvDecimal("MAX_SLIPPAGE_RATIO", decimal.NewFromFloat(0.05)),
		ExpectedProfitRatio:  getEnvDecimal("EXPECTED_PROFIT_RATIO", decimal.NewFromFloat(0.5)),

		ProbFloor:      getEnvDecimal("PROB_FLOOR", decimal.NewFromFloat(0.2)),
		ProbCeiling:    getEnvDecimal("PROB_CEILING", decimal.NewFromFloat(0.8)),
		NoEntrySeconds: getEnvInt("NO_ENTRY_SECONDS", 120),

		TakeProfitProb:  getEnvDecimal("TAKE_PROFIT_PROB", decimal.NewFromFloat(0.90)),
		StopLossProb:    getEnvDecimal("STOP_LOSS_PROB", decimal.NewFromFloat(0.55)),
		StagnationProb:  getEnvDecimal("STAGNATION_PROB", decimal.NewFromFloat(0.85)),
		StagnationDelta: getEnvDecimal("STAGNATION_DELTA", decimal.NewFromInt(3)),
		StagnationSpan:  getEnvDuration("STAGNATION_SPAN", 30*time.Second),

		MaxExitRetries: getEnvInt("MAX_EXIT_RETRIES", 10),
		ExitBackoff:    getEnvDuration("EXIT_BACKOFF", time.Second),
		TwapBatches:    getEnvInt("TWAP_BATCHES", 3),
		BatchDelay:     getEnvDuration("BATCH_DELAY", 500*time.Millisecond),
		MinOrderSize:   getEnvDecimal("MIN_ORDER_SIZE", decimal.NewFromInt(1)),

		MaxFeedStaleness: getEnvDuration("MAX_FEED_STALENESS", 10*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 2*time.Second),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/sniper.db"),

		LogFile: os.Getenv("LOG_FILE"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if !cfg.DryRun && cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required when DRY_RUN=false")
	}
	if cfg.WindowMinutes <= 0 {
		return nil, fmt.Errorf("WINDOW_MINUTES must be positive")
	}
	if cfg.ProbFloor.GreaterThanOrEqual(cfg.ProbCeiling) {
		return nil, fmt.Errorf("PROB_FLOOR must be below PROB_CEILING")
	}
	if !cfg.TradeAmount.IsPositive() {
		return nil, fmt.Errorf("TRADE_AMOUNT must be positive")
	}

	return cfg, nil
}

// WindowDuration returns the trading window length.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
