package writer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	appconfig "candleflow/config"
	"candleflow/internal/metadata"
	"candleflow/models"
)

type fakeHistoricalSource struct {
	candles map[string][]models.Candle
	errs    map[string]error
	reqs    []models.FetchRequest
}

func (f *fakeHistoricalSource) HistoricalData(ctx context.Context, req models.FetchRequest) (models.Series, error) {
	f.reqs = append(f.reqs, req)
	if err := f.errs[req.Symbol]; err != nil {
		return models.Series{}, err
	}
	return models.Series{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Candles:   f.candles[req.Symbol],
	}, nil
}

func hourlyCandles(start time.Time, n int) []models.Candle {
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		candles = append(candles, models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1),
		})
	}
	return candles
}

func archiveConfig(t *testing.T, symbols ...string) *appconfig.Config {
	t.Helper()
	return &appconfig.Config{
		Market: appconfig.MarketConfig{Symbols: symbols},
		Archive: appconfig.ArchiveConfig{
			Enabled:   true,
			Dir:       t.TempDir(),
			Format:    "csv",
			Interval:  time.Hour,
			Lookback:  24 * time.Hour,
			Timeframe: "1h",
		},
	}
}

func readManifest(t *testing.T, dir string) (int, []metadata.Record) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("failed to read manifest: %v", err)
	}
	var doc struct {
		FileCount int               `json:"file_count"`
		Files     []metadata.Record `json:"files"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	return doc.FileCount, doc.Files
}

func TestRunOnceWritesArchiveAndManifest(t *testing.T) {
	cfg := archiveConfig(t, "BTC")
	start := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	source := &fakeHistoricalSource{candles: map[string][]models.Candle{
		"BTC": hourlyCandles(start, 3),
	}}

	a, err := NewArchiver(cfg, source)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}
	a.ctx = context.Background()

	a.runOnce()

	if len(source.reqs) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(source.reqs))
	}
	req := source.reqs[0]
	if req.Symbol != "BTC" || req.Timeframe != "1h" || req.Lookback != 24*time.Hour {
		t.Errorf("unexpected fetch request: %+v", req)
	}

	path := filepath.Join(cfg.Archive.Dir, "BTC", "1h", "BTC_1h_20240310100000_to_20240310120000.csv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("archive file not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("archive file is empty")
	}

	count, files := readManifest(t, cfg.Archive.Dir)
	if count != 1 || len(files) != 1 {
		t.Fatalf("expected 1 manifest record, got count=%d files=%d", count, len(files))
	}
	rec := files[0]
	if rec.Symbol != "BTC" || rec.Rows != 3 || rec.Path != path {
		t.Errorf("unexpected manifest record: %+v", rec)
	}
	if rec.ID == "" {
		t.Error("manifest record has no id")
	}
	if !rec.Start.Equal(start) || !rec.End.Equal(start.Add(2*time.Hour)) {
		t.Errorf("unexpected record window: start=%s end=%s", rec.Start, rec.End)
	}
}

func TestRunOnceSkipsEmptySeries(t *testing.T) {
	cfg := archiveConfig(t, "BTC")
	source := &fakeHistoricalSource{}

	a, err := NewArchiver(cfg, source)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}
	a.ctx = context.Background()

	a.runOnce()

	if _, err := os.Stat(filepath.Join(cfg.Archive.Dir, "BTC")); !os.IsNotExist(err) {
		t.Errorf("expected no symbol directory for empty series, got err=%v", err)
	}
	count, _ := readManifest(t, cfg.Archive.Dir)
	if count != 0 {
		t.Errorf("expected empty manifest, got %d records", count)
	}
}

func TestRunOnceContinuesAfterSymbolError(t *testing.T) {
	cfg := archiveConfig(t, "BTC", "ETH")
	start := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	source := &fakeHistoricalSource{
		candles: map[string][]models.Candle{
			"ETH": hourlyCandles(start, 2),
		},
		errs: map[string]error{
			"BTC": errors.New("upstream down"),
		},
	}

	a, err := NewArchiver(cfg, source)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}
	a.ctx = context.Background()

	a.runOnce()

	if len(source.reqs) != 2 {
		t.Fatalf("expected both symbols fetched, got %d requests", len(source.reqs))
	}
	count, files := readManifest(t, cfg.Archive.Dir)
	if count != 1 || files[0].Symbol != "ETH" {
		t.Fatalf("expected one ETH record, got count=%d files=%+v", count, files)
	}
}

func TestArchiverStartStop(t *testing.T) {
	cfg := archiveConfig(t, "BTC")
	source := &fakeHistoricalSource{candles: map[string][]models.Candle{
		"BTC": hourlyCandles(time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), 1),
	}}

	a, err := NewArchiver(cfg, source)
	if err != nil {
		t.Fatalf("NewArchiver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatal("expected error on second Start")
	}

	cancel()
	a.Stop()

	if _, err := os.Stat(filepath.Join(cfg.Archive.Dir, "manifest.json")); err != nil {
		t.Errorf("manifest not flushed on stop: %v", err)
	}
}
