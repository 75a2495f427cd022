package processor

import (
	"sort"
	"time"

	"candleflow/models"
)

// MergeDedupSort normalizes a concatenation of raw batches: duplicate
// timestamps are dropped keeping the first occurrence, then the remainder is
// sorted ascending. Callers control the winner of a duplicate through
// concatenation order.
func MergeDedupSort(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(candles))
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		key := c.Timestamp.UnixMilli()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Clip keeps the candles inside [start, end). Upstreams over-deliver at batch
// boundaries; the requested window is authoritative.
func Clip(candles []models.Candle, start, end time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}
