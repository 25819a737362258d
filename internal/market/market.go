// Package market resolves and tracks the binary market for a trading
// window via the Gamma REST API. Market state is cached with a short
// TTL so the evaluation loop never blocks on HTTP, and after repeated
// fetch failures the client degrades to a synthetic probability
// derived from the price model.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/MrShimp/polymarket-robot-sub000/internal/execution"
	"github.com/MrShimp/polymarket-robot-sub000/internal/pricemodel"
	"github.com/MrShimp/polymarket-robot-sub000/internal/threshold"
)

const (
	// cacheTTL bounds how stale a cached Info may be before the
	// refresh loop fetches again.
	cacheTTL = 5 * time.Second

	// degradedAfter is the consecutive-failure count that switches the
	// client to synthetic probabilities.
	degradedAfter = 3

	// depthBand is the price distance from mid that counts toward the
	// liquidity score.
	depthBandCents = 0.10
)

// fullDepth is the per-side notional depth that scores liquidity 1.0.
var fullDepth = decimal.NewFromInt(500)

// Info is the tracked state of one binary market.
type Info struct {
	ID              string
	Question        string
	YesProbability  decimal.Decimal
	TokenIDYes      string
	TokenIDNo       string
	EndTime         time.Time
	AcceptingOrders bool
	Active          bool
	Liquidity       decimal.Decimal // [0,1] score from book depth
	Synthetic       bool            // probability derived, not quoted
	UpdatedAt       time.Time
}

// SnapshotFunc supplies the current price-model view for the synthetic
// fallback.
type SnapshotFunc func() (pricemodel.Snapshot, bool)

// Client fetches and caches market info for the active window.
type Client struct {
	gammaURL string
	asset    string
	http     *http.Client
	limiter  *rate.Limiter
	books    execution.BookProvider
	snapshot SnapshotFunc

	mu       sync.RWMutex
	current  Info
	haveInfo bool
	slug     string
	failures int
}

// NewClient creates a market client for the given asset (e.g. "BTC").
// books and snapshot may be nil; liquidity then defaults to 0.5 and
// the synthetic fallback stays inert.
func NewClient(gammaURL, asset string, books execution.BookProvider, snapshot SnapshotFunc) *Client {
	return &Client{
		gammaURL: strings.TrimRight(gammaURL, "/"),
		asset:    strings.ToLower(asset),
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		books:    books,
		snapshot: snapshot,
	}
}

// WindowSlug builds the Gamma slug for the up/down window starting at
// start: {asset}-updown-15m-{unix}.
func (c *Client) WindowSlug(start time.Time) string {
	return fmt.Sprintf("%s-updown-15m-%d", c.asset, start.Unix())
}

// SetActiveWindow points the refresh loop at a new window's market and
// seeds the cache with its resolved info, so Current() is usable
// immediately and the degraded fallback has a base to work from even
// if the API fails right after resolution.
func (c *Client) SetActiveWindow(start time.Time, info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slug = c.WindowSlug(start)
	c.current = info
	c.haveInfo = true
	c.failures = 0
}

// Current returns the cached info without blocking. ok is false until
// the first successful resolution for the active window.
func (c *Client) Current() (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.haveInfo
}

// Start runs the refresh loop until ctx is cancelled. The loop keeps
// the cache within the TTL and handles the degraded fallback.
func (c *Client) Start(ctx context.Context) {
	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// ResolveWindow fetches the market for a window synchronously. The
// scheduler calls this once at rollover before starting the instance.
func (c *Client) ResolveWindow(ctx context.Context, start time.Time) (Info, error) {
	slug := c.WindowSlug(start)
	info, err := c.fetchBySlug(ctx, slug)
	if err != nil {
		return Info{}, fmt.Errorf("resolve window %s: %w", slug, err)
	}
	return info, nil
}

func (c *Client) refresh(ctx context.Context) {
	c.mu.RLock()
	slug := c.slug
	c.mu.RUnlock()
	if slug == "" {
		return
	}

	info, err := c.fetchBySlug(ctx, slug)

	c.mu.Lock()
	defer c.mu.Unlock()
	if slug != c.slug {
		// Window rolled over while fetching.
		return
	}

	if err != nil {
		c.failures++
		log.Warn().
			Str("slug", slug).
			Int("failures", c.failures).
			Err(err).
			Msg("⚠️ Market refresh failed")
		if c.failures >= degradedAfter {
			c.applySyntheticLocked()
		}
		return
	}

	c.failures = 0
	c.current = info
	c.haveInfo = true
}

// applySyntheticLocked replaces the quoted probability with one derived
// from the price deviation. Token IDs and end time from the last good
// fetch are kept so execution stays possible.
func (c *Client) applySyntheticLocked() {
	if c.snapshot == nil || !c.haveInfo {
		return
	}
	snap, ok := c.snapshot()
	if !ok {
		return
	}
	c.current.YesProbability = threshold.TheoreticalProbability(snap.Offset, snap.Volatility)
	c.current.Synthetic = true
	c.current.UpdatedAt = time.Now()
	log.Warn().
		Str("synthetic_prob", c.current.YesProbability.StringFixed(3)).
		Msg("🟡 Market data degraded, using synthetic probability")
}

func (c *Client) fetchBySlug(ctx context.Context, slug string) (Info, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Info{}, err
	}

	url := fmt.Sprintf("%s/events?slug=%s", c.gammaURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Info{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("gamma returned %d", resp.StatusCode)
	}

	var events []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		EndDate string `json:"endDate"`
		Active  bool   `json:"active"`
		Markets []struct {
			Question        string `json:"question"`
			OutcomePrices   string `json:"outcomePrices"`
			ClobTokenIds    string `json:"clobTokenIds"`
			AcceptingOrders bool   `json:"acceptingOrders"`
		} `json:"markets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return Info{}, err
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return Info{}, fmt.Errorf("no market for slug %s", slug)
	}

	event := events[0]
	m := event.Markets[0]

	// Gamma double-encodes these as JSON strings.
	var prices []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) < 2 {
		return Info{}, fmt.Errorf("bad outcome prices %q", m.OutcomePrices)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokens); err != nil || len(tokens) < 2 {
		return Info{}, fmt.Errorf("bad token ids %q", m.ClobTokenIds)
	}
	yesProb, err := decimal.NewFromString(prices[0])
	if err != nil {
		return Info{}, fmt.Errorf("bad yes price %q: %w", prices[0], err)
	}

	info := Info{
		ID:              event.ID,
		Question:        m.Question,
		YesProbability:  yesProb,
		TokenIDYes:      tokens[0],
		TokenIDNo:       tokens[1],
		AcceptingOrders: m.AcceptingOrders,
		Active:          event.Active,
		Liquidity:       c.liquidityScore(ctx, tokens[0]),
		UpdatedAt:       time.Now(),
	}
	if event.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, event.EndDate); err == nil {
			info.EndTime = t
		}
	}
	return info, nil
}

// liquidityScore maps book depth near the mid to [0,1]. Depth within
// depthBand cents of mid on each side is summed as notional and
// normalized against fullDepth per side.
func (c *Client) liquidityScore(ctx context.Context, tokenID string) decimal.Decimal {
	neutral := decimal.NewFromFloat(0.5)
	if c.books == nil {
		return neutral
	}
	book, err := c.books.Snapshot(ctx, tokenID)
	if err != nil || len(book.Asks) == 0 || len(book.Bids) == 0 {
		return neutral
	}

	band := decimal.NewFromFloat(depthBandCents)
	two := decimal.NewFromInt(2)
	mid := book.Asks[0].Price.Add(book.Bids[0].Price).Div(two)

	depth := func(levels []execution.BookLevel) decimal.Decimal {
		sum := decimal.Zero
		for _, lvl := range levels {
			if lvl.Price.Sub(mid).Abs().GreaterThan(band) {
				continue
			}
			sum = sum.Add(lvl.Price.Mul(lvl.Size))
		}
		return sum
	}

	askScore := depth(book.Asks).Div(fullDepth)
	bidScore := depth(book.Bids).Div(fullDepth)
	score := askScore.Add(bidScore).Div(two)
	one := decimal.NewFromInt(1)
	if score.GreaterThan(one) {
		return one
	}
	return score
}
