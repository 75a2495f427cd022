package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"candleflow/config"
	"candleflow/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.HyperliquidSourceConfig{URL: srv.URL})
}

func TestOrderBook(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if body["type"] != "l2Book" || body["coin"] != "BTC" {
			t.Errorf("unexpected request body: %v", body)
		}
		w.Write([]byte(`{"coin":"BTC","time":1700000000000,"levels":[` +
			`[{"px":"50000.5","sz":"1.2","n":3},{"px":"50000","sz":"2","n":1}],` +
			`[{"px":"50001","sz":"0.8","n":2}]]}`))
	})

	book, err := client.OrderBook(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("OrderBook failed: %v", err)
	}
	if len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("bids/asks = %d/%d, want 2/1", len(book.Bids), len(book.Asks))
	}
	bid, ask := book.BestBidAsk()
	if bid.String() != "50000.5" || ask.String() != "50001" {
		t.Errorf("best bid/ask = %s/%s", bid, ask)
	}
	if book.Bids[0].Orders != 3 {
		t.Errorf("orders = %d, want 3", book.Bids[0].Orders)
	}
}

func TestRecentTrades(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[` +
			`{"coin":"ETH","side":"B","px":"3200.5","sz":"1.5","time":1700000000000,"tid":1},` +
			`{"coin":"ETH","side":"A","px":"3200.4","sz":"0.5","time":1700000001000,"tid":2},` +
			`{"coin":"ETH","side":"B","px":"3200.6","sz":"2","time":1700000002000,"tid":3}]`))
	})

	trades, err := client.RecentTrades(context.Background(), "ETH", 2)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Side != "buy" || trades[1].Side != "sell" {
		t.Errorf("sides = %s/%s, want buy/sell", trades[0].Side, trades[1].Side)
	}
	if trades[0].ID != 1 || trades[0].Price.String() != "3200.5" {
		t.Errorf("unexpected first trade: %+v", trades[0])
	}
}

func TestMeta(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":5,"maxLeverage":50},{"name":"ETH","szDecimals":4,"maxLeverage":50}]}`))
	})

	assets, err := client.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if len(assets) != 2 || assets[0].Name != "BTC" || assets[0].SzDecimals != 5 {
		t.Errorf("unexpected assets: %+v", assets)
	}
}

func TestAllMidsSkipsUnparseable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BTC":"50000.5","ETH":"not-a-price"}`))
	})

	mids, err := client.AllMids(context.Background())
	if err != nil {
		t.Fatalf("AllMids failed: %v", err)
	}
	if len(mids) != 1 {
		t.Fatalf("got %d mids, want 1", len(mids))
	}
	if mids["BTC"].String() != "50000.5" {
		t.Errorf("BTC mid = %s", mids["BTC"])
	}
}

const metaAndCtxsBody = `[` +
	`{"universe":[{"name":"ETH","szDecimals":4,"maxLeverage":50},{"name":"BTC","szDecimals":5,"maxLeverage":50}]},` +
	`[{"funding":"0.00005","openInterest":"100.5","prevDayPx":"3100","dayNtlVlm":"900000","oraclePx":"3200","markPx":"3201","midPx":"3200.5"},` +
	`{"funding":"0.0001","openInterest":"12.5","prevDayPx":"49000","dayNtlVlm":"2300000","oraclePx":"50000","markPx":"50001","midPx":"50000.5"}]]`

func TestMarketStatsIndexedJoin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metaAndCtxsBody))
	})

	stats, err := client.MarketStats(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("MarketStats failed: %v", err)
	}
	if stats.MarkPrice.String() != "50001" {
		t.Errorf("mark price = %s, want 50001", stats.MarkPrice)
	}
	if stats.DayVolume.String() != "2300000" {
		t.Errorf("day volume = %s, want 2300000", stats.DayVolume)
	}
	if stats.OpenInterest.String() != "12.5" {
		t.Errorf("open interest = %s, want 12.5", stats.OpenInterest)
	}
}

func TestMarketStatsNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metaAndCtxsBody))
	})

	if _, err := client.MarketStats(context.Background(), "DOGE"); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}

func TestFundingRatePercent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(metaAndCtxsBody))
	})

	rate, err := client.FundingRate(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FundingRate failed: %v", err)
	}
	if rate.String() != "0.01" {
		t.Errorf("funding rate = %s, want 0.01", rate)
	}
}

func TestInfoErrorIsFetchError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	})

	_, err := client.OrderBook(context.Background(), "BTC")
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not *models.FetchError", err)
	}
	if fe.StatusCode != http.StatusInternalServerError || fe.Source != "hyperliquid" {
		t.Errorf("unexpected fetch error: %+v", fe)
	}
}
