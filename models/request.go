package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies one upstream provider, or automatic selection by the
// router.
type Source string

const (
	SourceAuto        Source = "auto"
	SourceHyperliquid Source = "hyperliquid"
	SourceCoinbase    Source = "coinbase"
)

// FetchRequest describes one historical-data request. The window is either
// the explicit [Start, End) pair or a Lookback duration from now. Immutable;
// constructed per call, never persisted.
type FetchRequest struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Lookback  time.Duration
	Prefer    Source
	Validate  bool
}

// Window resolves the request into a concrete [start, end) pair. A set
// Lookback wins over the explicit bounds; a zero End means "now".
func (r FetchRequest) Window(now time.Time) (start, end time.Time) {
	if r.Lookback > 0 {
		return now.Add(-r.Lookback), now
	}
	end = r.End
	if end.IsZero() {
		end = now
	}
	return r.Start, end
}

// Span is the length of the resolved window.
func (r FetchRequest) Span(now time.Time) time.Duration {
	start, end := r.Window(now)
	return end.Sub(start)
}

// ReconciliationReport summarizes the divergence between two series fetched
// from independent sources for the same symbol and timeframe. Advisory only:
// it never blocks or alters the returned data.
type ReconciliationReport struct {
	Overlap          int
	MeanDiffPct      decimal.Decimal
	MaxDiffPct       decimal.Decimal
	Exceeded         bool
	ZeroCloseSkipped int
}

// FetchError is the typed reason an upstream call failed. The assembler and
// router log it and degrade to empty results; it never reaches the caller of
// the router.
type FetchError struct {
	Source     string
	Op         string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s failed", e.Source, e.Op)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }
