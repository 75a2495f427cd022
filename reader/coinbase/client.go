package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"candleflow/config"
	"candleflow/internal/symbols"
	"candleflow/internal/timeframe"
	"candleflow/logger"
	"candleflow/models"
)

const (
	requestTimeout = 10 * time.Second

	// providerMaxBatch is Coinbase's per-request candle ceiling; the default
	// batch of 200 stays under it.
	providerMaxBatch = 300
	defaultBatch     = 200
)

// Client fetches candles and tickers from the Coinbase Exchange API. One
// FetchBatch call is one rate-limited GET; pagination across a longer range
// is the assembler's job.
type Client struct {
	baseURL    string
	quote      string
	maxBatch   int
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewClient creates a Coinbase client. quote is the quote currency appended
// to bare symbols ("BTC" -> "BTC-USD").
func NewClient(cfg config.CoinbaseSourceConfig, quote string) *Client {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 || maxBatch > providerMaxBatch {
		maxBatch = defaultBatch
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	log := logger.GetLogger()
	client := &Client{
		baseURL:    cfg.URL,
		quote:      quote,
		maxBatch:   maxBatch,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        log,
	}

	log.WithComponent("coinbase_client").WithFields(logger.Fields{
		"base_url":   cfg.URL,
		"batch_size": maxBatch,
		"rate_limit": rps,
	}).Info("coinbase client initialized")

	return client
}

func (c *Client) Name() string { return "coinbase" }

func (c *Client) MaxBatchSize() int { return c.maxBatch }

// FetchBatch issues one GET of /products/{product}/candles for [start, end).
// The response carries rows [time, low, high, open, close, volume] newest
// first, epoch seconds; the range bounds the row count, so limit is not sent.
func (c *Client) FetchBatch(ctx context.Context, symbol, tf string, start, end time.Time, limit int) ([]models.Candle, error) {
	granularity, err := timeframe.ToSeconds(tf)
	if err != nil {
		return nil, err
	}

	product := symbols.ToCoinbase(symbol, c.quote)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.FetchError{Source: "coinbase", Op: "candles", Attempts: 1, Err: err}
	}

	query := url.Values{}
	query.Set("granularity", fmt.Sprintf("%d", granularity))
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	reqURL := fmt.Sprintf("%s/products/%s/candles?%s", c.baseURL, product, query.Encode())

	log := c.log.WithComponent("coinbase_client").WithFields(logger.Fields{
		"product":     product,
		"granularity": granularity,
	})

	begin := time.Now()
	var rows [][]json.Number
	status, err := c.get(ctx, reqURL, &rows)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"status": status}).Warn("candle request failed")
		return nil, &models.FetchError{Source: "coinbase", Op: "candles", StatusCode: status, Attempts: 1, Err: err}
	}

	logger.LogFetchEntry(log, "coinbase_client", "candles", time.Since(begin), logger.Fields{
		"candles": len(rows),
	})
	logger.IncrementCoinbaseRead(len(rows))

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := rowToCandle(row)
		if err != nil {
			return nil, &models.FetchError{Source: "coinbase", Op: "candles", StatusCode: status, Attempts: 1, Err: err}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// rowToCandle converts one [time, low, high, open, close, volume] row.
func rowToCandle(row []json.Number) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("candle row has %d columns, want 6", len(row))
	}

	sec, err := row[0].Int64()
	if err != nil {
		return models.Candle{}, fmt.Errorf("parse candle time %q: %w", row[0], err)
	}
	candle := models.Candle{Timestamp: time.Unix(sec, 0).UTC()}

	fields := []struct {
		name string
		src  json.Number
		dst  *decimal.Decimal
	}{
		{"low", row[1], &candle.Low},
		{"high", row[2], &candle.High},
		{"open", row[3], &candle.Open},
		{"close", row[4], &candle.Close},
		{"volume", row[5], &candle.Volume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src.String())
		if err != nil {
			return models.Candle{}, fmt.Errorf("parse candle %s %q: %w", f.name, f.src, err)
		}
		*f.dst = d
	}
	return candle, nil
}

type tickerResponse struct {
	Price string `json:"price"`
}

// CurrentPrice returns the latest ticker price for a symbol, or the zero
// decimal when the request fails. It never returns an error.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) decimal.Decimal {
	product := symbols.ToCoinbase(symbol, c.quote)
	log := c.log.WithComponent("coinbase_client").WithFields(logger.Fields{"product": product})

	if err := c.limiter.Wait(ctx); err != nil {
		log.WithError(err).Debug("ticker request cancelled")
		return decimal.Zero
	}

	var ticker tickerResponse
	if _, err := c.get(ctx, fmt.Sprintf("%s/products/%s/ticker", c.baseURL, product), &ticker); err != nil {
		log.WithError(err).Debug("ticker request failed")
		return decimal.Zero
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		log.WithError(err).Debug("unparseable ticker price")
		return decimal.Zero
	}
	return price
}

func (c *Client) get(ctx context.Context, reqURL string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
