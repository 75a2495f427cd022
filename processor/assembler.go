package processor

import (
	"context"
	"time"

	"candleflow/internal/timeframe"
	"candleflow/logger"
	"candleflow/models"
)

// BatchSource is the adapter contract the assembler paginates over. One
// FetchBatch call covers one bounded window; MaxBatchSize is the upstream's
// per-request candle ceiling.
type BatchSource interface {
	FetchBatch(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]models.Candle, error)
	MaxBatchSize() int
	Name() string
}

// Assembler stitches batched candle fetches into one continuous series.
// Batches are requested newest-first from now backward; a failed batch leaves
// a gap, an empty batch means the upstream has no older data.
type Assembler struct {
	log *logger.Log

	// now is a hook for tests; production uses time.Now.
	now func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{
		log: logger.GetLogger(),
		now: time.Now,
	}
}

// Assemble fetches the [start, end) window for one symbol and timeframe from
// src. Upstream failures degrade to a sparser (possibly empty) series; the
// only error returned is an unparseable timeframe.
func (a *Assembler) Assemble(ctx context.Context, src BatchSource, symbol, tf string, start, end time.Time) (models.Series, error) {
	tfSeconds, err := timeframe.ToSeconds(tf)
	if err != nil {
		return models.Series{}, err
	}

	series := models.Series{Symbol: symbol, Timeframe: tf}

	now := a.now().UTC()
	if !start.Before(now) {
		return series, nil
	}

	batchSpan := time.Duration(tfSeconds) * time.Second * time.Duration(src.MaxBatchSize())
	numBatches := int((now.Sub(start) + batchSpan - 1) / batchSpan)

	log := a.log.WithComponent("assembler").WithFields(logger.Fields{
		"source":    src.Name(),
		"symbol":    symbol,
		"timeframe": tf,
		"batches":   numBatches,
	})
	log.Debug("assembling historical window")

	begin := time.Now()
	batches := make([][]models.Candle, 0, numBatches)
	fetched := 0
	for i := 0; i < numBatches; i++ {
		batchEnd := now.Add(-batchSpan * time.Duration(i))
		batchStart := now.Add(-batchSpan * time.Duration(i+1))

		candles, err := src.FetchBatch(ctx, symbol, tf, batchStart, batchEnd, src.MaxBatchSize())
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"batch_start": batchStart.Format(time.RFC3339),
				"batch_end":   batchEnd.Format(time.RFC3339),
			}).Warn("batch fetch failed, skipping window")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(candles) == 0 {
			log.WithFields(logger.Fields{
				"batch_start": batchStart.Format(time.RFC3339),
			}).Debug("empty batch, no older data upstream")
			break
		}

		batches = append(batches, candles)
		fetched += len(candles)
	}

	// Concatenate oldest window first so keep-first dedupe prefers the older
	// copy of a boundary candle.
	merged := make([]models.Candle, 0, fetched)
	for i := len(batches) - 1; i >= 0; i-- {
		merged = append(merged, batches[i]...)
	}

	series.Candles = Clip(MergeDedupSort(merged), start, end)

	logger.LogFetchEntry(log, "assembler", "assemble", time.Since(begin), logger.Fields{
		"fetched": fetched,
		"kept":    series.Len(),
	})
	return series, nil
}
