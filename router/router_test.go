package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/config"
	"candleflow/internal/cache"
	"candleflow/internal/timeframe"
	"candleflow/models"
)

// fakeSource serves one scripted page and then reports end-of-data, which is
// enough for single-batch windows.
type fakeSource struct {
	name    string
	candles []models.Candle
	err     error
	price   decimal.Decimal
	calls   int
}

func (f *fakeSource) FetchBatch(ctx context.Context, symbol, tf string, start, end time.Time, limit int) ([]models.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > 1 {
		return nil, nil
	}
	return f.candles, nil
}

func (f *fakeSource) MaxBatchSize() int { return 5000 }

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) CurrentPrice(ctx context.Context, symbol string) decimal.Decimal {
	return f.price
}

type fakeLatestSource struct {
	fakeSource
	latest      models.Series
	latestCalls int
}

func (f *fakeLatestSource) LatestCandles(ctx context.Context, symbol, tf string, limit int) (models.Series, error) {
	f.latestCalls++
	return f.latest, nil
}

func candleAt(ts time.Time, close float64) models.Candle {
	price := decimal.NewFromFloat(close)
	return models.Candle{
		Timestamp: ts.Truncate(time.Second),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    decimal.NewFromInt(1),
	}
}

func recentCandles(n int) []models.Candle {
	base := time.Now().UTC().Add(-time.Duration(n+1) * time.Hour).Truncate(time.Hour)
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candleAt(base.Add(time.Duration(i)*time.Hour), 100+float64(i)))
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{
			Validation: config.ValidationConfig{Enabled: true, MaxDiffPercent: 5.0},
		},
	}
}

func TestNewRequiresASource(t *testing.T) {
	if _, err := New(testConfig(), nil, nil, nil); !errors.Is(err, ErrNoSourceEnabled) {
		t.Fatalf("err = %v, want ErrNoSourceEnabled", err)
	}
}

func TestHistoricalDataInvalidTimeframe(t *testing.T) {
	r, err := New(testConfig(), &fakeSource{name: "hyperliquid"}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = r.HistoricalData(context.Background(), models.FetchRequest{Symbol: "BTC", Timeframe: "1x", Lookback: time.Hour})
	if !errors.Is(err, timeframe.ErrInvalidTimeframe) {
		t.Fatalf("err = %v, want ErrInvalidTimeframe", err)
	}
}

func TestHistoricalDataFailover(t *testing.T) {
	hl := &fakeSource{name: "hyperliquid"}
	cb := &fakeSource{name: "coinbase", candles: recentCandles(3)}

	r, err := New(testConfig(), hl, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.HistoricalData(context.Background(), models.FetchRequest{
		Symbol:    "BTC",
		Timeframe: "1h",
		Lookback:  12 * time.Hour,
	})
	if err != nil {
		t.Fatalf("HistoricalData: %v", err)
	}

	want := models.Series{Symbol: "BTC", Timeframe: "1h", Candles: cb.candles}
	if !got.Equal(want) {
		t.Errorf("failover result differs from alternate data: got %d candles, want %d", got.Len(), want.Len())
	}
	if hl.calls == 0 {
		t.Error("preferred source was never tried")
	}
}

func TestHistoricalDataAutoPreference(t *testing.T) {
	cases := []struct {
		name     string
		lookback time.Duration
		want     string
	}{
		{"short window stays on hyperliquid", 30 * 24 * time.Hour, "hyperliquid"},
		{"deep window moves to coinbase", 31 * 24 * time.Hour, "coinbase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hl := &fakeSource{name: "hyperliquid", candles: recentCandles(2)}
			cb := &fakeSource{name: "coinbase", candles: recentCandles(2)}

			r, err := New(testConfig(), hl, cb, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := r.HistoricalData(context.Background(), models.FetchRequest{
				Symbol:    "BTC",
				Timeframe: "1h",
				Lookback:  tc.lookback,
			}); err != nil {
				t.Fatalf("HistoricalData: %v", err)
			}

			byName := map[string]*fakeSource{"hyperliquid": hl, "coinbase": cb}
			for name, src := range byName {
				wantCalls := name == tc.want
				if (src.calls > 0) != wantCalls {
					t.Errorf("source %s calls = %d, want called=%v", name, src.calls, wantCalls)
				}
			}
		})
	}
}

func TestHistoricalDataDisabledSourceShiftsChoice(t *testing.T) {
	hl := &fakeSource{name: "hyperliquid", candles: recentCandles(2)}

	r, err := New(testConfig(), hl, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 31 days would prefer coinbase, which is disabled.
	if _, err := r.HistoricalData(context.Background(), models.FetchRequest{
		Symbol:    "ETH",
		Timeframe: "1h",
		Lookback:  31 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("HistoricalData: %v", err)
	}
	if hl.calls == 0 {
		t.Error("remaining enabled source was not used")
	}
}

func TestHistoricalDataValidationFetchesAlternate(t *testing.T) {
	hl := &fakeSource{name: "hyperliquid", candles: recentCandles(3)}
	cb := &fakeSource{name: "coinbase", candles: recentCandles(3)}

	r, err := New(testConfig(), hl, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.HistoricalData(context.Background(), models.FetchRequest{
		Symbol:    "BTC",
		Timeframe: "1h",
		Lookback:  6 * time.Hour,
		Validate:  true,
	})
	if err != nil {
		t.Fatalf("HistoricalData: %v", err)
	}

	if cb.calls == 0 {
		t.Error("validation did not fetch the alternate source")
	}
	want := models.Series{Symbol: "BTC", Timeframe: "1h", Candles: hl.candles}
	if !got.Equal(want) {
		t.Error("validation altered the returned series")
	}
}

func TestHistoricalDataCoinbaseServedFromStore(t *testing.T) {
	store, err := cache.NewSeriesStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSeriesStore: %v", err)
	}

	cached := models.Series{Symbol: "BTC", Timeframe: "1h", Candles: recentCandles(4)}
	if err := store.Save("BTC", "1h", 2, cached); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cb := &fakeSource{name: "coinbase", candles: recentCandles(1)}
	r, err := New(testConfig(), nil, cb, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.HistoricalData(context.Background(), models.FetchRequest{
		Symbol:    "BTC",
		Timeframe: "1h",
		Lookback:  14 * 24 * time.Hour,
		Prefer:    models.SourceCoinbase,
	})
	if err != nil {
		t.Fatalf("HistoricalData: %v", err)
	}

	if cb.calls != 0 {
		t.Errorf("network fetches = %d, want 0 (series store hit)", cb.calls)
	}
	if !got.Equal(cached) {
		t.Errorf("got %d candles, want the %d cached ones", got.Len(), cached.Len())
	}
}

func TestHistoricalDataCoinbaseSavesToStore(t *testing.T) {
	store, err := cache.NewSeriesStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSeriesStore: %v", err)
	}

	cb := &fakeSource{name: "coinbase", candles: recentCandles(3)}
	r, err := New(testConfig(), nil, cb, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.HistoricalData(context.Background(), models.FetchRequest{
		Symbol:    "BTC",
		Timeframe: "1h",
		Lookback:  14 * 24 * time.Hour,
		Prefer:    models.SourceCoinbase,
	})
	if err != nil {
		t.Fatalf("HistoricalData: %v", err)
	}

	saved, ok, err := store.Load("BTC", "1h", 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("fresh fetch was not saved to the series store")
	}
	if !saved.Equal(got) {
		t.Error("saved series differs from the returned one")
	}
}

func TestLatestCandlesNativePath(t *testing.T) {
	latest := models.Series{Symbol: "BTC", Timeframe: "1m", Candles: recentCandles(5)}
	hl := &fakeLatestSource{fakeSource: fakeSource{name: "hyperliquid"}, latest: latest}

	r, err := New(testConfig(), hl, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.LatestCandles(context.Background(), "BTC", "1m", 5, models.SourceAuto)
	if err != nil {
		t.Fatalf("LatestCandles: %v", err)
	}
	if hl.latestCalls != 1 {
		t.Errorf("latestCalls = %d, want 1", hl.latestCalls)
	}
	if hl.calls != 0 {
		t.Errorf("batch calls = %d, want 0 (native path)", hl.calls)
	}
	if !got.Equal(latest) {
		t.Error("native latest series was not returned as-is")
	}
}

func TestLatestCandlesAssembledTail(t *testing.T) {
	cb := &fakeSource{name: "coinbase", candles: recentCandles(5)}

	r, err := New(testConfig(), nil, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.LatestCandles(context.Background(), "BTC", "1h", 3, models.SourceAuto)
	if err != nil {
		t.Fatalf("LatestCandles: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("got %d candles, want 3", got.Len())
	}
	for i, want := range cb.candles[2:] {
		if !got.Candles[i].Equal(want) {
			t.Errorf("candle %d = %+v, want the newest three in order", i, got.Candles[i])
		}
	}
}

func TestCurrentPriceFallsBack(t *testing.T) {
	hl := &fakeSource{name: "hyperliquid"}
	cb := &fakeSource{name: "coinbase", price: decimal.NewFromFloat(123.45)}

	r, err := New(testConfig(), hl, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if price := r.CurrentPrice(context.Background(), "BTC", models.SourceAuto); price.String() != "123.45" {
		t.Errorf("price = %s, want 123.45", price)
	}

	hl.price = decimal.NewFromFloat(99.5)
	if price := r.CurrentPrice(context.Background(), "BTC", models.SourceAuto); price.String() != "99.5" {
		t.Errorf("price = %s, want preferred source's 99.5", price)
	}
}
