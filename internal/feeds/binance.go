// Package feeds streams live prices and trade prints from the Binance
// trade WebSocket into channels the strategy loop consumes.
package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
)

// DefaultWSURL is the Binance combined stream base.
const DefaultWSURL = "wss://stream.binance.com:9443/ws"

// BinanceFeed streams one symbol's trade prints. Ticks and prints are
// delivered on buffered channels; if the consumer falls behind, the
// newest data is dropped rather than blocking the read loop.
type BinanceFeed struct {
	wsURL  string
	symbol string // lowercase, e.g. "btcusdt"

	ticks  chan pricemodel.PriceTick
	prints chan pricemodel.TradePrint

	mu       sync.RWMutex
	lastSeen time.Time
	conn     *websocket.Conn
	running  bool

	stopCh chan struct{}
}

// NewBinanceFeed creates a feed for symbol (e.g. "BTCUSDT").
func NewBinanceFeed(wsURL, symbol string) *BinanceFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &BinanceFeed{
		wsURL:  wsURL,
		symbol: strings.ToLower(symbol),
		ticks:  make(chan pricemodel.PriceTick, 256),
		prints: make(chan pricemodel.TradePrint, 256),
		stopCh: make(chan struct{}),
	}
}

// Ticks is the price stream.
func (f *BinanceFeed) Ticks() <-chan pricemodel.PriceTick { return f.ticks }

// Prints is the executed-trade stream.
func (f *BinanceFeed) Prints() <-chan pricemodel.TradePrint { return f.prints }

// Freshness returns how long ago the last message arrived. Before the
// first message it returns a large duration so staleness gating blocks.
func (f *BinanceFeed) Freshness() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastSeen.IsZero() {
		return time.Hour
	}
	return time.Since(f.lastSeen)
}

// Start connects and begins streaming with automatic reconnects.
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	go f.run()
	log.Info().Str("symbol", f.symbol).Msg("📈 Binance feed started")
}

// Stop closes the connection and ends the read loop.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	f.running = false
	conn := f.conn
	f.mu.Unlock()

	close(f.stopCh)
	if conn != nil {
		conn.Close()
	}
}

func (f *BinanceFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *BinanceFeed) run() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			select {
			case <-f.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		f.readMessages()

		if f.isRunning() {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			time.Sleep(time.Second)
		}
	}
}

func (f *BinanceFeed) connect() error {
	url := fmt.Sprintf("%s/%s@trade", f.wsURL, f.symbol)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	log.Info().Str("url", url).Msg("🔌 WebSocket connected to Binance")
	return nil
}

func (f *BinanceFeed) readMessages() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	for f.isRunning() {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

// tradeMessage is Binance's @trade stream payload.
type tradeMessage struct {
	EventType    string `json:"e"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}
	qty, _ := decimal.NewFromString(msg.Quantity)
	ts := time.UnixMilli(msg.TradeTime)

	f.mu.Lock()
	f.lastSeen = time.Now()
	f.mu.Unlock()

	select {
	case f.ticks <- pricemodel.PriceTick{Price: price, Timestamp: ts}:
	default:
	}

	trade := pricemodel.TradePrint{
		Price:    price,
		Quantity: qty,
		// The buyer-maker flag means the taker sold.
		TakerIsBuyer: !msg.IsBuyerMaker,
		Timestamp:    ts,
	}
	select {
	case f.prints <- trade:
	default:
	}
}
