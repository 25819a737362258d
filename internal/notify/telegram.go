// Package notify sends operator alerts over Telegram. A notifier built
// without a token is a silent no-op, so alerting stays optional.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Telegram pushes trade events to a single chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects the bot. An empty token or zero chatID disables
// alerting without error.
func New(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram alerts disabled (no token or chat configured)")
		return &Telegram{}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

// TradeOpened alerts a new position.
func (t *Telegram) TradeOpened(direction string, amount, entryProb decimal.Decimal) {
	t.send(fmt.Sprintf(
		"📈 *Position opened*\nDirection: %s\nAmount: $%s\nEntry probability: %s",
		direction, amount.StringFixed(2), entryProb.StringFixed(3),
	))
}

// TradeClosed alerts a completed exit.
func (t *Telegram) TradeClosed(reason string, exitProb decimal.Decimal) {
	t.send(fmt.Sprintf(
		"🏁 *Position closed*\nReason: %s\nExit probability: %s",
		reason, exitProb.StringFixed(3),
	))
}

// ExitFailed alerts that the exit retry budget ran out with a balance
// still held. This one requires a human.
func (t *Telegram) ExitFailed(tokenID string, err error) {
	t.send(fmt.Sprintf(
		"🛑 *MANUAL INTERVENTION REQUIRED*\nExit retries exhausted, balance remains.\nToken: `%s`\nError: %v\nAutomation for this window is halted.",
		tokenID, err,
	))
}

func (t *Telegram) send(text string) {
	if t.api == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram send failed")
	}
}
