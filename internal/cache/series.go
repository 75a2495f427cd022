package cache

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/models"
)

// SeriesStore persists assembled candle series as CSV files, one per
// (symbol, timeframe, weeks) key. Files are trusted as correct and fresh
// with no TTL: past candles from the deep-history provider never change.
type SeriesStore struct {
	dir string
}

func NewSeriesStore(dir string) (*SeriesStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create series store dir: %w", err)
	}
	return &SeriesStore{dir: dir}, nil
}

// Path returns the cache file for a key, e.g. "BTC-USD-1h-4wks-data.csv".
func (s *SeriesStore) Path(symbol, timeframe string, weeks int) string {
	clean := strings.ReplaceAll(symbol, "/", "-")
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s-%dwks-data.csv", clean, timeframe, weeks))
}

// Load reads the cached series for a key. The boolean is false when no cache
// file exists; a present but unreadable file returns an error.
func (s *SeriesStore) Load(symbol, timeframe string, weeks int) (models.Series, bool, error) {
	series := models.Series{Symbol: symbol, Timeframe: timeframe}

	f, err := os.Open(s.Path(symbol, timeframe, weeks))
	if err != nil {
		if os.IsNotExist(err) {
			return series, false, nil
		}
		return series, false, fmt.Errorf("open series cache: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return series, false, fmt.Errorf("read series cache: %w", err)
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		candle, err := parseCandleRow(row)
		if err != nil {
			return series, false, fmt.Errorf("series cache row %d: %w", i, err)
		}
		series.Candles = append(series.Candles, candle)
	}
	return series, true, nil
}

// Save writes the series to the cache file for a key, replacing any previous
// content.
func (s *SeriesStore) Save(symbol, timeframe string, weeks int, series models.Series) error {
	f, err := os.Create(s.Path(symbol, timeframe, weeks))
	if err != nil {
		return fmt.Errorf("create series cache: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return fmt.Errorf("write series cache header: %w", err)
	}
	for _, c := range series.Candles {
		row := []string{
			c.Timestamp.UTC().Format(time.RFC3339Nano),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write series cache row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func parseCandleRow(row []string) (models.Candle, error) {
	if len(row) != 6 {
		return models.Candle{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return models.Candle{}, fmt.Errorf("timestamp: %w", err)
	}
	vals := make([]decimal.Decimal, 5)
	for i, raw := range row[1:] {
		vals[i], err = decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
	}
	return models.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
