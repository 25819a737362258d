package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledDatabaseIsNoOp(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	require.Nil(t, db)

	// All operations tolerate the nil database.
	assert.NoError(t, db.SaveTrade(&TradeRecord{}))
	assert.NoError(t, db.SaveEvaluation(&EvaluationRecord{}))

	trades, err := db.RecentTrades(10)
	assert.NoError(t, err)
	assert.Nil(t, trades)
}

func TestWindowRecorderWithNilDatabase(t *testing.T) {
	rec := NewWindowRecorder(nil, time.Now())
	assert.NoError(t, rec.SaveTrade("buy_yes", "tok", decimal.NewFromInt(10), decimal.NewFromFloat(0.5), time.Now()))
	assert.NoError(t, rec.SaveEvaluation(
		decimal.NewFromInt(100), decimal.NewFromInt(66), decimal.NewFromFloat(0.12),
		decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.77), "buy_yes", false, "",
	))
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NotNil(t, db)

	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	rec := NewWindowRecorder(db, start)

	require.NoError(t, rec.SaveTrade("buy_yes", "tok", decimal.NewFromInt(10), decimal.NewFromFloat(0.5), start))
	require.NoError(t, rec.SaveEvaluation(
		decimal.NewFromInt(100), decimal.NewFromInt(66), decimal.NewFromFloat(0.12),
		decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.77), "buy_yes", false, "",
	))

	trades, err := db.RecentTrades(5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "buy_yes", trades[0].Direction)
	assert.Equal(t, "2026-03-10T14:00", trades[0].WindowID)
	assert.True(t, trades[0].Amount.Equal(decimal.NewFromInt(10)))
}
