package router

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/config"
	"candleflow/internal/cache"
	"candleflow/internal/timeframe"
	"candleflow/logger"
	"candleflow/models"
	"candleflow/processor"
)

// ErrNoSourceEnabled is returned when neither provider is configured; the one
// configuration error a caller can see.
var ErrNoSourceEnabled = errors.New("no data source enabled")

// autoSpanCutoff is the window length above which automatic selection prefers
// coinbase for its deeper history; shorter windows go to hyperliquid.
const autoSpanCutoff = 30 * 24 * time.Hour

const defaultLatestLimit = 100

// Source is one provider adapter the router can drive: batched historical
// fetches plus a spot price. Symbol normalization to the provider's native
// format happens inside the adapter.
type Source interface {
	processor.BatchSource
	CurrentPrice(ctx context.Context, symbol string) decimal.Decimal
}

// latestSource is the optional fast path for the most recent candles.
// Hyperliquid serves it natively; sources without it go through the
// assembler over a limit-day window.
type latestSource interface {
	LatestCandles(ctx context.Context, symbol, timeframe string, limit int) (models.Series, error)
}

// Router selects between providers for each request, assembles the series,
// optionally cross-validates against the alternate source and fails over
// when the preferred source comes back empty. Callers get a populated series,
// an empty series, or an error only for invalid input.
type Router struct {
	hyperliquid Source
	coinbase    Source
	assembler   *processor.Assembler
	reconciler  *processor.Reconciler
	store       *cache.SeriesStore
	log         *logger.Log

	// now is a hook for tests; production uses time.Now.
	now func() time.Time
}

// New builds the router. A nil source means the provider is disabled; at
// least one must be set. store may be nil to disable the on-disk series
// cache.
func New(cfg *config.Config, hyperliquid, coinbase Source, store *cache.SeriesStore) (*Router, error) {
	if hyperliquid == nil && coinbase == nil {
		return nil, ErrNoSourceEnabled
	}

	threshold := decimal.NewFromFloat(cfg.Market.Validation.MaxDiffPercent)

	log := logger.GetLogger()
	r := &Router{
		hyperliquid: hyperliquid,
		coinbase:    coinbase,
		assembler:   processor.NewAssembler(),
		reconciler:  processor.NewReconciler(threshold),
		store:       store,
		log:         log,
		now:         time.Now,
	}

	log.WithComponent("router").WithFields(logger.Fields{
		"hyperliquid_enabled": hyperliquid != nil,
		"coinbase_enabled":    coinbase != nil,
		"series_store":        store != nil,
	}).Info("data router initialized")

	return r, nil
}

// HistoricalData serves one historical request: select the preferred source,
// assemble, optionally validate against the alternate, and fail over to the
// alternate when the preferred result is empty. Upstream failures degrade to
// an empty series; only invalid input errors.
func (r *Router) HistoricalData(ctx context.Context, req models.FetchRequest) (models.Series, error) {
	if _, err := timeframe.ToSeconds(req.Timeframe); err != nil {
		return models.Series{}, err
	}

	now := r.now().UTC()
	start, end := req.Window(now)
	span := end.Sub(start)

	preferred, alternate, err := r.pick(req.Prefer, span)
	if err != nil {
		return models.Series{}, err
	}

	log := r.log.WithComponent("router").WithFields(logger.Fields{
		"symbol":    req.Symbol,
		"timeframe": req.Timeframe,
		"span":      span.String(),
		"preferred": preferred.Name(),
	})
	log.Debug("serving historical request")

	series := r.fetch(ctx, preferred, req.Symbol, req.Timeframe, start, end, span)

	var alternateSeries models.Series
	alternateFetched := false

	if req.Validate && alternate != nil {
		alternateSeries = r.fetch(ctx, alternate, req.Symbol, req.Timeframe, start, end, span)
		alternateFetched = true

		report := r.reconciler.Reconcile(series, alternateSeries)
		entry := log.WithFields(logger.Fields{
			"alternate":     alternate.Name(),
			"overlap":       report.Overlap,
			"mean_diff_pct": report.MeanDiffPct.String(),
			"max_diff_pct":  report.MaxDiffPct.String(),
		})
		if report.Exceeded {
			entry.Warn("cross-source validation exceeded threshold")
		} else {
			entry.Info("cross-source validation complete")
		}
	}

	if series.Empty() && alternate != nil {
		if !alternateFetched {
			alternateSeries = r.fetch(ctx, alternate, req.Symbol, req.Timeframe, start, end, span)
		}
		if !alternateSeries.Empty() {
			log.WithFields(logger.Fields{"alternate": alternate.Name()}).Info("preferred source empty, failing over")
		}
		series = alternateSeries
	}

	return series, nil
}

// LatestCandles returns the most recent limit candles, preferring the native
// latest-window path when the source has one and otherwise assembling a
// limit-day window and keeping its tail.
func (r *Router) LatestCandles(ctx context.Context, symbol, tf string, limit int, prefer models.Source) (models.Series, error) {
	if _, err := timeframe.ToSeconds(tf); err != nil {
		return models.Series{}, err
	}
	if limit <= 0 {
		limit = defaultLatestLimit
	}

	preferred, alternate, err := r.pick(prefer, 0)
	if err != nil {
		return models.Series{}, err
	}

	series := r.latest(ctx, preferred, symbol, tf, limit)
	if series.Empty() && alternate != nil {
		series = r.latest(ctx, alternate, symbol, tf, limit)
	}
	return series, nil
}

// CurrentPrice returns the freshest spot price, falling back to the alternate
// source on a zero sentinel. Never an error: zero means no source answered.
func (r *Router) CurrentPrice(ctx context.Context, symbol string, prefer models.Source) decimal.Decimal {
	preferred, alternate, err := r.pick(prefer, 0)
	if err != nil {
		return decimal.Zero
	}

	price := preferred.CurrentPrice(ctx, symbol)
	if price.IsZero() && alternate != nil {
		price = alternate.CurrentPrice(ctx, symbol)
	}
	return price
}

// pick resolves the preferred and alternate source for a request. Disabled
// providers shift the choice to whichever remains.
func (r *Router) pick(prefer models.Source, span time.Duration) (Source, Source, error) {
	var preferred, alternate Source
	switch prefer {
	case models.SourceHyperliquid:
		preferred, alternate = r.hyperliquid, r.coinbase
	case models.SourceCoinbase:
		preferred, alternate = r.coinbase, r.hyperliquid
	default:
		if span > autoSpanCutoff {
			preferred, alternate = r.coinbase, r.hyperliquid
		} else {
			preferred, alternate = r.hyperliquid, r.coinbase
		}
	}

	if preferred == nil {
		preferred, alternate = alternate, nil
	}
	if preferred == nil {
		return nil, nil, ErrNoSourceEnabled
	}
	return preferred, alternate, nil
}

// fetch assembles [start, end) from one source. Coinbase fetches consult the
// series store first and save fresh non-empty results back; cached and fresh
// series alike are clipped to the requested window.
func (r *Router) fetch(ctx context.Context, src Source, symbol, tf string, start, end time.Time, span time.Duration) models.Series {
	log := r.log.WithComponent("router").WithFields(logger.Fields{
		"source":    src.Name(),
		"symbol":    symbol,
		"timeframe": tf,
	})

	cacheable := r.store != nil && src.Name() == string(models.SourceCoinbase)
	weeks := 0
	if cacheable {
		weeks = weeksSpanning(span)
		cached, ok, err := r.store.Load(symbol, tf, weeks)
		if err != nil {
			log.WithError(err).Warn("series store read failed")
		} else if ok {
			log.WithFields(logger.Fields{"weeks": weeks, "candles": cached.Len()}).Debug("serving from series store")
			cached.Candles = processor.Clip(cached.Candles, start, end)
			return cached
		}
	}

	series, err := r.assembler.Assemble(ctx, src, symbol, tf, start, end)
	if err != nil {
		log.WithError(err).Warn("assembly failed")
		return models.Series{Symbol: symbol, Timeframe: tf}
	}

	if cacheable && !series.Empty() {
		if err := r.store.Save(symbol, tf, weeks, series); err != nil {
			log.WithError(err).Warn("series store write failed")
		}
	}
	return series
}

// latest serves the most recent limit candles from one source.
func (r *Router) latest(ctx context.Context, src Source, symbol, tf string, limit int) models.Series {
	if ls, ok := src.(latestSource); ok {
		series, err := ls.LatestCandles(ctx, symbol, tf, limit)
		if err != nil {
			r.log.WithComponent("router").WithError(err).WithFields(logger.Fields{
				"source": src.Name(),
				"symbol": symbol,
			}).Warn("latest candles fetch failed")
			return models.Series{Symbol: symbol, Timeframe: tf}
		}
		return series
	}

	now := r.now().UTC()
	span := time.Duration(limit) * 24 * time.Hour
	series := r.fetch(ctx, src, symbol, tf, now.Add(-span), now, span)
	return series.Tail(limit)
}

// weeksSpanning rounds a window up to whole weeks, minimum one.
func weeksSpanning(span time.Duration) int {
	const week = 7 * 24 * time.Hour
	weeks := int((span + week - 1) / week)
	if weeks < 1 {
		weeks = 1
	}
	return weeks
}
