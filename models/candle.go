package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a single OHLCV observation for one symbol and timeframe bucket.
// Timestamps are UTC with millisecond resolution. A Candle is immutable once
// constructed.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Validate checks the OHLC ordering invariant:
// high >= max(open,close) >= min(open,close) >= low >= 0, volume >= 0.
func (c Candle) Validate() error {
	if c.Low.IsNegative() {
		return fmt.Errorf("candle %s: negative low %s", c.Timestamp.UTC().Format(time.RFC3339), c.Low)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %s: negative volume %s", c.Timestamp.UTC().Format(time.RFC3339), c.Volume)
	}
	body := decimal.Max(c.Open, c.Close)
	if c.High.LessThan(body) {
		return fmt.Errorf("candle %s: high %s below body high %s", c.Timestamp.UTC().Format(time.RFC3339), c.High, body)
	}
	body = decimal.Min(c.Open, c.Close)
	if c.Low.GreaterThan(body) {
		return fmt.Errorf("candle %s: low %s above body low %s", c.Timestamp.UTC().Format(time.RFC3339), c.Low, body)
	}
	return nil
}

// Equal reports whether two candles carry the same instant and values.
func (c Candle) Equal(other Candle) bool {
	return c.Timestamp.Equal(other.Timestamp) &&
		c.Open.Equal(other.Open) &&
		c.High.Equal(other.High) &&
		c.Low.Equal(other.Low) &&
		c.Close.Equal(other.Close) &&
		c.Volume.Equal(other.Volume)
}

// Series is an ordered run of candles for one (symbol, timeframe) pair.
// Timestamps are strictly increasing and unique; gaps are tolerated, never
// fabricated.
type Series struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Candles   []Candle `json:"candles"`
}

func (s Series) Len() int { return len(s.Candles) }

func (s Series) Empty() bool { return len(s.Candles) == 0 }

// First returns the oldest candle, false when the series is empty.
func (s Series) First() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[0], true
}

// Last returns the newest candle, false when the series is empty.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Equal reports whether both series carry identical candles in identical
// order for the same symbol and timeframe.
func (s Series) Equal(other Series) bool {
	if s.Symbol != other.Symbol || s.Timeframe != other.Timeframe || len(s.Candles) != len(other.Candles) {
		return false
	}
	for i := range s.Candles {
		if !s.Candles[i].Equal(other.Candles[i]) {
			return false
		}
	}
	return true
}

// Tail returns a copy of the most recent n candles (the whole series when it
// holds fewer).
func (s Series) Tail(n int) Series {
	out := Series{Symbol: s.Symbol, Timeframe: s.Timeframe}
	if n <= 0 || len(s.Candles) == 0 {
		return out
	}
	if n > len(s.Candles) {
		n = len(s.Candles)
	}
	out.Candles = append(out.Candles, s.Candles[len(s.Candles)-n:]...)
	return out
}
