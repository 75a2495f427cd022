package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of an order book side.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Orders int             `json:"orders"`
}

// OrderBook is an L2 snapshot with bids and asks sorted best-first, as
// reported by the upstream.
type OrderBook struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Bids   []Level   `json:"bids"`
	Asks   []Level   `json:"asks"`
}

// BestBidAsk returns the top-of-book prices. A missing side yields the zero
// decimal.
func (b OrderBook) BestBidAsk() (bid, ask decimal.Decimal) {
	if len(b.Bids) > 0 {
		bid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		ask = b.Asks[0].Price
	}
	return bid, ask
}

// Trade is one executed trade reported by an upstream feed.
type Trade struct {
	ID     int64           `json:"id"`
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"` // "buy" or "sell"
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	Time   time.Time       `json:"time"`
}

// AssetMeta carries the per-asset precision metadata from exchange metadata.
type AssetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"sz_decimals"`
	MaxLeverage int    `json:"max_leverage"`
}

// MarketStats is the normalized per-asset context: prices, day volume and
// derivatives state for one coin.
type MarketStats struct {
	Symbol       string          `json:"symbol"`
	MarkPrice    decimal.Decimal `json:"mark_price"`
	MidPrice     decimal.Decimal `json:"mid_price"`
	OraclePrice  decimal.Decimal `json:"oracle_price"`
	PrevDayPrice decimal.Decimal `json:"prev_day_price"`
	DayVolume    decimal.Decimal `json:"day_volume"`
	Funding      decimal.Decimal `json:"funding"`
	OpenInterest decimal.Decimal `json:"open_interest"`
}

// SymbolStats is the lightweight per-symbol summary served by the stats
// service: last price, percent change against the previous observation,
// day volume rendered in millions and the up/down trend flag.
type SymbolStats struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Volume    string          `json:"volume"`
	Trend     string          `json:"trend"`
	Timestamp time.Time       `json:"timestamp"`
}
