package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowRecorder binds persistence to one trading window so records
// carry the window they belong to. Works against a nil database.
type WindowRecorder struct {
	db       *Database
	windowID string
}

// NewWindowRecorder creates a recorder for the window starting at
// start.
func NewWindowRecorder(db *Database, start time.Time) *WindowRecorder {
	return &WindowRecorder{db: db, windowID: start.UTC().Format("2006-01-02T15:04")}
}

func (r *WindowRecorder) SaveTrade(direction, tokenID string, amount, entryProb decimal.Decimal, entryTime time.Time) error {
	return r.db.SaveTrade(&TradeRecord{
		WindowID:  r.windowID,
		Direction: direction,
		TokenID:   tokenID,
		Amount:    amount,
		EntryProb: entryProb,
		EntryTime: entryTime,
	})
}

func (r *WindowRecorder) SaveEvaluation(offset, deviation, probGap, marketProb, theoProb decimal.Decimal, direction string, blocked bool, blockReason string) error {
	return r.db.SaveEvaluation(&EvaluationRecord{
		WindowID:    r.windowID,
		Offset:      offset,
		Deviation:   deviation,
		ProbGap:     probGap,
		MarketProb:  marketProb,
		TheoProb:    theoProb,
		Direction:   direction,
		Blocked:     blocked,
		BlockReason: blockReason,
	})
}
