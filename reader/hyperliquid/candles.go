package hyperliquid

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/config"
	"candleflow/internal/symbols"
	"candleflow/logger"
	"candleflow/models"
)

// providerMaxBatch is the hard per-request candle ceiling of the upstream.
const providerMaxBatch = 5000

const latestLookback = 30 * 24 * time.Hour

// CandleFetcher fetches bounded candle batches with retry and timestamp
// correction. The upstream reports candle times ahead of wall clock; the
// offset is measured once per fetcher instance, on the first non-empty
// response, and subtracted from every timestamp it returns after that.
type CandleFetcher struct {
	client      *Client
	maxBatch    int
	maxAttempts int
	baseDelay   time.Duration

	skewMu    sync.Mutex
	skew      time.Duration
	skewKnown bool

	now   func() time.Time
	sleep func(time.Duration)

	log *logger.Log
}

// NewCandleFetcher creates a fetcher over the given client with the
// configured batch size and retry policy.
func NewCandleFetcher(client *Client, cfg config.HyperliquidSourceConfig) *CandleFetcher {
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 || maxBatch > providerMaxBatch {
		maxBatch = providerMaxBatch
	}
	attempts := cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.Retry.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	f := &CandleFetcher{
		client:      client,
		maxBatch:    maxBatch,
		maxAttempts: attempts,
		baseDelay:   delay,
		now:         time.Now,
		sleep:       time.Sleep,
		log:         logger.GetLogger(),
	}

	f.log.WithComponent("hyperliquid_candles").WithFields(logger.Fields{
		"batch_size":   maxBatch,
		"max_attempts": attempts,
	}).Info("hyperliquid candle fetcher initialized")

	return f
}

func (f *CandleFetcher) Name() string { return "hyperliquid" }

func (f *CandleFetcher) MaxBatchSize() int { return f.maxBatch }

type candleSnapshotRequest struct {
	Type string            `json:"type"`
	Req  candleSnapshotReq `json:"req"`
}

type candleSnapshotReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Limit     int    `json:"limit"`
}

type rawCandle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
}

// FetchBatch requests one bounded batch of candles for [start, end). A 2xx
// response with no candles is a zero-result range and returns immediately;
// transport failures and non-2xx statuses are retried with a linearly growing
// delay (1x, 2x, ... the base). Exhausting all attempts yields an empty
// result plus a *models.FetchError.
func (f *CandleFetcher) FetchBatch(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]models.Candle, error) {
	coin := symbols.ToHyperliquid(symbol)
	if limit <= 0 || limit > f.maxBatch {
		limit = f.maxBatch
	}

	req := candleSnapshotRequest{
		Type: "candleSnapshot",
		Req: candleSnapshotReq{
			Coin:      coin,
			Interval:  timeframe,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
			Limit:     limit,
		},
	}

	log := f.log.WithComponent("hyperliquid_candles").WithFields(logger.Fields{
		"coin":     coin,
		"interval": timeframe,
	})

	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		var raw []rawCandle
		begin := time.Now()
		status, err := f.client.post(ctx, f.client.candleClient, req, &raw)
		if err == nil {
			logger.LogFetchEntry(log, "hyperliquid_candles", "candle_snapshot", time.Since(begin), logger.Fields{
				"candles": len(raw),
				"attempt": attempt,
			})
			logger.IncrementHyperliquidRead(len(raw))

			if len(raw) == 0 {
				log.Debug("no candles in requested range")
				return nil, nil
			}

			candles, convErr := f.convert(raw)
			if convErr != nil {
				return nil, &models.FetchError{Source: "hyperliquid", Op: "candle_snapshot", StatusCode: status, Attempts: attempt, Err: convErr}
			}
			return candles, nil
		}

		lastErr = err
		lastStatus = status
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"status":  status,
		}).Warn("candle snapshot failed")

		if attempt < f.maxAttempts {
			f.sleep(f.baseDelay * time.Duration(attempt))
		}
	}

	return nil, &models.FetchError{Source: "hyperliquid", Op: "candle_snapshot", StatusCode: lastStatus, Attempts: f.maxAttempts, Err: lastErr}
}

// convert turns raw snapshot rows into candles, measuring the clock offset
// first if this is the instance's first non-empty response.
func (f *CandleFetcher) convert(raw []rawCandle) ([]models.Candle, error) {
	f.skewMu.Lock()
	if !f.skewKnown {
		latest := raw[0].OpenTime
		for _, rc := range raw[1:] {
			if rc.OpenTime > latest {
				latest = rc.OpenTime
			}
		}
		f.skew = time.UnixMilli(latest).Sub(f.now())
		f.skewKnown = true
		f.log.WithComponent("hyperliquid_candles").WithFields(logger.Fields{
			"offset_ms": f.skew.Milliseconds(),
		}).Info("measured candle timestamp offset")
	}
	skew := f.skew
	f.skewMu.Unlock()

	out := make([]models.Candle, 0, len(raw))
	for _, rc := range raw {
		candle, err := rc.toCandle(skew)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, nil
}

func (rc rawCandle) toCandle(skew time.Duration) (models.Candle, error) {
	c := models.Candle{Timestamp: time.UnixMilli(rc.OpenTime).Add(-skew).UTC()}

	var err error
	if c.Open, err = decimal.NewFromString(rc.Open); err != nil {
		return models.Candle{}, fmt.Errorf("parse open %q: %w", rc.Open, err)
	}
	if c.High, err = decimal.NewFromString(rc.High); err != nil {
		return models.Candle{}, fmt.Errorf("parse high %q: %w", rc.High, err)
	}
	if c.Low, err = decimal.NewFromString(rc.Low); err != nil {
		return models.Candle{}, fmt.Errorf("parse low %q: %w", rc.Low, err)
	}
	if c.Close, err = decimal.NewFromString(rc.Close); err != nil {
		return models.Candle{}, fmt.Errorf("parse close %q: %w", rc.Close, err)
	}
	if c.Volume, err = decimal.NewFromString(rc.Volume); err != nil {
		return models.Candle{}, fmt.Errorf("parse volume %q: %w", rc.Volume, err)
	}
	return c, nil
}

// LatestCandles returns the most recent candles for a symbol, ascending. It
// requests a 30-day window with the batch size pinned to limit and keeps the
// newest limit rows.
func (f *CandleFetcher) LatestCandles(ctx context.Context, symbol, timeframe string, limit int) (models.Series, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}

	end := f.now()
	start := end.Add(-latestLookback)

	series := models.Series{Symbol: symbol, Timeframe: timeframe}

	candles, err := f.FetchBatch(ctx, symbol, timeframe, start, end, limit)
	if err != nil {
		return series, err
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	series.Candles = candles
	return series.Tail(limit), nil
}

// CurrentPrice returns the close of the latest 1m candle, or the zero
// decimal when no price is available. It never returns an error.
func (f *CandleFetcher) CurrentPrice(ctx context.Context, symbol string) decimal.Decimal {
	series, err := f.LatestCandles(ctx, symbol, "1m", 1)
	if err != nil {
		f.log.WithComponent("hyperliquid_candles").WithError(err).Debug("current price unavailable")
		return decimal.Zero
	}
	last, ok := series.Last()
	if !ok {
		return decimal.Zero
	}
	return last.Close
}
