// Package clob is the Polymarket CLOB broker: signed market orders,
// conditional-token balances, and order-book snapshots. Implements
// execution.Broker and execution.BookProvider.
package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MrShimp/polymarket-robot-sub000/internal/execution"
)

// DefaultBaseURL is the production CLOB endpoint.
const DefaultBaseURL = "https://clob.polymarket.com"

// balanceScale converts raw 6-decimal conditional-token balances to
// share counts.
var balanceScale = decimal.New(1, 6)

// Credentials configures API access and signing.
type Credentials struct {
	PrivateKeyHex string
	APIKey        string
	APISecret     string
	Passphrase    string
}

// Client talks to the CLOB API. With DryRun set, orders are simulated
// locally and balances are tracked in memory so the full strategy can
// run without capital at risk.
type Client struct {
	baseURL    string
	httpClient *http.Client

	privateKey *ecdsa.PrivateKey
	address    string
	apiKey     string
	apiSecret  string
	passphrase string

	dryRun      bool
	dryMu       sync.Mutex
	dryBalances map[string]decimal.Decimal
}

// NewClient creates a CLOB client. A private key is required unless
// dryRun is set.
func NewClient(baseURL string, creds Credentials, dryRun bool) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiKey:      creds.APIKey,
		apiSecret:   creds.APISecret,
		passphrase:  creds.Passphrase,
		dryRun:      dryRun,
		dryBalances: make(map[string]decimal.Decimal),
	}

	if creds.PrivateKeyHex != "" {
		pk, err := crypto.HexToECDSA(creds.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else if !dryRun {
		return nil, fmt.Errorf("live mode requires a private key")
	}

	mode := "LIVE"
	if dryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("address", c.address).
		Msg("🚀 CLOB client initialized")
	return c, nil
}

// SubmitMarketOrder submits a signed market order. Buys spend `amount`
// dollars; sells dispose of `amount` shares.
func (c *Client) SubmitMarketOrder(ctx context.Context, tokenID string, amount decimal.Decimal, side execution.Side, mode execution.FillMode) execution.OrderResult {
	if c.dryRun {
		return c.simulateOrder(tokenID, amount, side)
	}

	order := map[string]interface{}{
		"tokenID":       tokenID,
		"amount":        amount.String(),
		"side":          string(side),
		"orderType":     string(mode),
		"clientOrderID": uuid.NewString(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return execution.OrderResult{Err: fmt.Errorf("signing failed: %w", err)}
	}
	order["signature"] = signature

	resp, err := c.post(ctx, "/order", order)
	if err != nil {
		return execution.OrderResult{Err: err}
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Matched string `json:"makingAmount"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return execution.OrderResult{Err: fmt.Errorf("parse response: %w", err)}
	}
	if result.Error != "" {
		return execution.OrderResult{Err: fmt.Errorf("%w: %s", execution.ErrOrderRejected, result.Error)}
	}

	filled := amount
	if result.Matched != "" {
		if m, err := decimal.NewFromString(result.Matched); err == nil {
			filled = m
		}
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Str("side", string(side)).
		Msg("✅ Order placed")

	return execution.OrderResult{
		Success:      true,
		OrderID:      result.OrderID,
		FilledAmount: filled,
	}
}

func (c *Client) simulateOrder(tokenID string, amount decimal.Decimal, side execution.Side) execution.OrderResult {
	orderID := "DRY_" + uuid.NewString()

	c.dryMu.Lock()
	switch side {
	case execution.SideBuy:
		c.dryBalances[tokenID] = c.dryBalances[tokenID].Add(amount)
	case execution.SideSell:
		bal := c.dryBalances[tokenID].Sub(amount)
		if bal.IsNegative() {
			bal = decimal.Zero
		}
		c.dryBalances[tokenID] = bal
	}
	c.dryMu.Unlock()

	log.Info().
		Str("order_id", orderID).
		Str("side", string(side)).
		Str("amount", amount.StringFixed(2)).
		Msg("📝 DRY RUN: Order would be placed")

	return execution.OrderResult{Success: true, OrderID: orderID, FilledAmount: amount}
}

// QueryBalance returns the conditional-token balance in shares. The API
// reports raw 6-decimal units.
func (c *Client) QueryBalance(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if c.dryRun {
		c.dryMu.Lock()
		defer c.dryMu.Unlock()
		return c.dryBalances[tokenID], nil
	}

	path := fmt.Sprintf("/balance-allowance?asset_type=CONDITIONAL&token_id=%s", tokenID)
	resp, err := c.get(ctx, path)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}
	raw, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balance %q: %w", result.Balance, err)
	}
	return raw.Div(balanceScale), nil
}

// Snapshot fetches the current order book for a token.
func (c *Client) Snapshot(ctx context.Context, tokenID string) (execution.OrderBook, error) {
	resp, err := c.get(ctx, "/book?token_id="+tokenID)
	if err != nil {
		return execution.OrderBook{}, err
	}

	var raw struct {
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return execution.OrderBook{}, err
	}

	book := execution.OrderBook{
		Asks: make([]execution.BookLevel, 0, len(raw.Asks)),
		Bids: make([]execution.BookLevel, 0, len(raw.Bids)),
	}
	for _, lvl := range raw.Asks {
		p, err1 := decimal.NewFromString(lvl.Price)
		s, err2 := decimal.NewFromString(lvl.Size)
		if err1 == nil && err2 == nil {
			book.Asks = append(book.Asks, execution.BookLevel{Price: p, Size: s})
		}
	}
	for _, lvl := range raw.Bids {
		p, err1 := decimal.NewFromString(lvl.Price)
		s, err2 := decimal.NewFromString(lvl.Size)
		if err1 == nil && err2 == nil {
			book.Bids = append(book.Bids, execution.BookLevel{Price: p, Size: s})
		}
	}
	return book, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	key, err := base64.StdEncoding.DecodeString(c.apiSecret)
	if err != nil {
		key = []byte(c.apiSecret)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
