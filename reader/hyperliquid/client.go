package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/config"
	"candleflow/internal/symbols"
	"candleflow/logger"
	"candleflow/models"
)

const (
	infoTimeout   = 10 * time.Second
	candleTimeout = 15 * time.Second

	defaultTradeLimit = 100
)

// Client talks to the Hyperliquid public info endpoint. Every operation is a
// POST of a typed JSON body to {baseURL}/info.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	candleClient *http.Client
	log          *logger.Log
}

// NewClient creates a client for the configured Hyperliquid endpoint. Candle
// snapshots get a longer request timeout than the lightweight info calls.
func NewClient(cfg config.HyperliquidSourceConfig) *Client {
	log := logger.GetLogger()

	client := &Client{
		baseURL:      cfg.URL,
		httpClient:   &http.Client{Timeout: infoTimeout},
		candleClient: &http.Client{Timeout: candleTimeout},
		log:          log,
	}

	log.WithComponent("hyperliquid_client").WithFields(logger.Fields{
		"base_url": cfg.URL,
	}).Info("hyperliquid client initialized")

	return client
}

// post sends one info request and decodes the response into out. It returns
// the HTTP status code when one was received.
func (c *Client) post(ctx context.Context, client *http.Client, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal info request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("info request returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode info response: %w", err)
	}
	return resp.StatusCode, nil
}

type bookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2BookResponse struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]bookLevel `json:"levels"`
}

// OrderBook fetches the L2 book for a symbol. levels[0] holds bids and
// levels[1] asks, both best-first.
func (c *Client) OrderBook(ctx context.Context, symbol string) (models.OrderBook, error) {
	coin := symbols.ToHyperliquid(symbol)

	var resp l2BookResponse
	status, err := c.post(ctx, c.httpClient, map[string]string{"type": "l2Book", "coin": coin}, &resp)
	if err != nil {
		return models.OrderBook{}, &models.FetchError{Source: "hyperliquid", Op: "l2_book", StatusCode: status, Attempts: 1, Err: err}
	}

	book := models.OrderBook{
		Symbol: coin,
		Time:   time.UnixMilli(resp.Time).UTC(),
	}

	if len(resp.Levels) > 0 {
		if book.Bids, err = convertLevels(resp.Levels[0]); err != nil {
			return models.OrderBook{}, &models.FetchError{Source: "hyperliquid", Op: "l2_book", StatusCode: status, Attempts: 1, Err: err}
		}
	}
	if len(resp.Levels) > 1 {
		if book.Asks, err = convertLevels(resp.Levels[1]); err != nil {
			return models.OrderBook{}, &models.FetchError{Source: "hyperliquid", Op: "l2_book", StatusCode: status, Attempts: 1, Err: err}
		}
	}

	return book, nil
}

func convertLevels(raw []bookLevel) ([]models.Level, error) {
	out := make([]models.Level, 0, len(raw))
	for _, lvl := range raw {
		px, err := decimal.NewFromString(lvl.Px)
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", lvl.Px, err)
		}
		sz, err := decimal.NewFromString(lvl.Sz)
		if err != nil {
			return nil, fmt.Errorf("parse level size %q: %w", lvl.Sz, err)
		}
		out = append(out, models.Level{Price: px, Size: sz, Orders: lvl.N})
	}
	return out, nil
}

type tradeWire struct {
	Coin string `json:"coin"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
	Tid  int64  `json:"tid"`
}

func (w tradeWire) toTrade() (models.Trade, error) {
	px, err := decimal.NewFromString(w.Px)
	if err != nil {
		return models.Trade{}, fmt.Errorf("parse trade price %q: %w", w.Px, err)
	}
	sz, err := decimal.NewFromString(w.Sz)
	if err != nil {
		return models.Trade{}, fmt.Errorf("parse trade size %q: %w", w.Sz, err)
	}

	side := "sell"
	if w.Side == "B" {
		side = "buy"
	}

	return models.Trade{
		ID:     w.Tid,
		Symbol: w.Coin,
		Side:   side,
		Price:  px,
		Size:   sz,
		Time:   time.UnixMilli(w.Time).UTC(),
	}, nil
}

// RecentTrades fetches the latest executed trades for a symbol, newest first
// as reported upstream, truncated to limit (default 100).
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	coin := symbols.ToHyperliquid(symbol)
	if limit <= 0 {
		limit = defaultTradeLimit
	}

	var wires []tradeWire
	status, err := c.post(ctx, c.httpClient, map[string]string{"type": "trades", "coin": coin}, &wires)
	if err != nil {
		return nil, &models.FetchError{Source: "hyperliquid", Op: "trades", StatusCode: status, Attempts: 1, Err: err}
	}

	if len(wires) > limit {
		wires = wires[:limit]
	}

	trades := make([]models.Trade, 0, len(wires))
	for _, w := range wires {
		trade, err := w.toTrade()
		if err != nil {
			return nil, &models.FetchError{Source: "hyperliquid", Op: "trades", StatusCode: status, Attempts: 1, Err: err}
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

type metaResponse struct {
	Universe []assetMetaWire `json:"universe"`
}

type assetMetaWire struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// Meta fetches the exchange asset universe with per-asset precision limits.
func (c *Client) Meta(ctx context.Context) ([]models.AssetMeta, error) {
	var resp metaResponse
	status, err := c.post(ctx, c.httpClient, map[string]string{"type": "meta"}, &resp)
	if err != nil {
		return nil, &models.FetchError{Source: "hyperliquid", Op: "meta", StatusCode: status, Attempts: 1, Err: err}
	}

	assets := make([]models.AssetMeta, 0, len(resp.Universe))
	for _, a := range resp.Universe {
		assets = append(assets, models.AssetMeta{
			Name:        a.Name,
			SzDecimals:  a.SzDecimals,
			MaxLeverage: a.MaxLeverage,
		})
	}
	return assets, nil
}

// AllMids fetches the mid price of every listed market. Entries that do not
// parse as a price are skipped.
func (c *Client) AllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	status, err := c.post(ctx, c.httpClient, map[string]string{"type": "allMids"}, &raw)
	if err != nil {
		return nil, &models.FetchError{Source: "hyperliquid", Op: "all_mids", StatusCode: status, Attempts: 1, Err: err}
	}

	mids := make(map[string]decimal.Decimal, len(raw))
	for coin, px := range raw {
		d, err := decimal.NewFromString(px)
		if err != nil {
			c.log.WithComponent("hyperliquid_client").WithFields(logger.Fields{
				"coin": coin, "value": px,
			}).Debug("skipping unparseable mid price")
			continue
		}
		mids[coin] = d
	}
	return mids, nil
}

type assetCtxWire struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	PrevDayPx    string `json:"prevDayPx"`
	DayNtlVlm    string `json:"dayNtlVlm"`
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
}

// MarketStats fetches the asset context for one coin: metaAndAssetCtxs
// returns the universe and a context array joined by index.
func (c *Client) MarketStats(ctx context.Context, symbol string) (models.MarketStats, error) {
	coin := symbols.ToHyperliquid(symbol)

	var parts []json.RawMessage
	status, err := c.post(ctx, c.httpClient, map[string]string{"type": "metaAndAssetCtxs"}, &parts)
	if err != nil {
		return models.MarketStats{}, &models.FetchError{Source: "hyperliquid", Op: "meta_and_asset_ctxs", StatusCode: status, Attempts: 1, Err: err}
	}
	if len(parts) < 2 {
		return models.MarketStats{}, &models.FetchError{
			Source: "hyperliquid", Op: "meta_and_asset_ctxs", StatusCode: status, Attempts: 1,
			Err: fmt.Errorf("expected [meta, assetCtxs], got %d elements", len(parts)),
		}
	}

	var meta metaResponse
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return models.MarketStats{}, &models.FetchError{Source: "hyperliquid", Op: "meta_and_asset_ctxs", StatusCode: status, Attempts: 1, Err: err}
	}
	var ctxs []assetCtxWire
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return models.MarketStats{}, &models.FetchError{Source: "hyperliquid", Op: "meta_and_asset_ctxs", StatusCode: status, Attempts: 1, Err: err}
	}

	for i, asset := range meta.Universe {
		if asset.Name != coin {
			continue
		}
		if i >= len(ctxs) {
			break
		}
		return convertAssetCtx(coin, ctxs[i])
	}

	return models.MarketStats{}, fmt.Errorf("asset %s not found in market data", coin)
}

func convertAssetCtx(coin string, w assetCtxWire) (models.MarketStats, error) {
	stats := models.MarketStats{Symbol: coin}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"funding", w.Funding, &stats.Funding},
		{"openInterest", w.OpenInterest, &stats.OpenInterest},
		{"prevDayPx", w.PrevDayPx, &stats.PrevDayPrice},
		{"dayNtlVlm", w.DayNtlVlm, &stats.DayVolume},
		{"oraclePx", w.OraclePx, &stats.OraclePrice},
		{"markPx", w.MarkPx, &stats.MarkPrice},
		{"midPx", w.MidPx, &stats.MidPrice},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return models.MarketStats{}, fmt.Errorf("parse %s %q: %w", f.name, f.value, err)
		}
		*f.dst = d
	}
	return stats, nil
}

// FundingRate returns the current funding rate for a coin as a percentage.
func (c *Client) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	stats, err := c.MarketStats(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return stats.Funding.Mul(decimal.NewFromInt(100)), nil
}

// OpenInterest returns the current open interest for a coin.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	stats, err := c.MarketStats(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return stats.OpenInterest, nil
}
