// Package storage persists trades and per-cycle evaluation records.
// A nil *Database is a valid no-op, so persistence stays optional.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// TradeRecord is one entered position.
type TradeRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	WindowID  string `gorm:"index"`
	Direction string
	TokenID   string
	Amount    decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryProb decimal.Decimal `gorm:"type:decimal(10,6)"`
	EntryTime time.Time
	ExitTime  *time.Time
	ExitProb  decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExitType  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EvaluationRecord is one decision cycle: the thresholds in force, the
// resulting signal and whether the risk gate blocked it.
type EvaluationRecord struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	WindowID    string          `gorm:"index"`
	Offset      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Deviation   decimal.Decimal `gorm:"type:decimal(20,6)"`
	ProbGap     decimal.Decimal `gorm:"type:decimal(10,6)"`
	MarketProb  decimal.Decimal `gorm:"type:decimal(10,6)"`
	TheoProb    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Direction   string
	Blocked     bool
	BlockReason string
	CreatedAt   time.Time
}

// New opens a database. dbPath is a sqlite file path or a postgres DSN.
// Empty dbPath returns nil, nil: persistence disabled.
func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		log.Info().Msg("Database disabled (no path configured)")
		return nil, nil
	}

	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRecord{}, &EvaluationRecord{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// SaveTrade records an entered position.
func (d *Database) SaveTrade(rec *TradeRecord) error {
	if d == nil {
		return nil
	}
	return d.db.Create(rec).Error
}

// SaveEvaluation records one decision cycle.
func (d *Database) SaveEvaluation(rec *EvaluationRecord) error {
	if d == nil {
		return nil
	}
	return d.db.Create(rec).Error
}

// RecentTrades returns the newest trades, most recent first.
func (d *Database) RecentTrades(limit int) ([]TradeRecord, error) {
	if d == nil {
		return nil, nil
	}
	var trades []TradeRecord
	err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}
