package writer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/models"
)

func sampleSeries() models.Series {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return models.Series{
		Symbol:    "BTC",
		Timeframe: "1h",
		Candles: []models.Candle{
			{
				Timestamp: base,
				Open:      decimal.RequireFromString("100"),
				High:      decimal.RequireFromString("110.5"),
				Low:       decimal.RequireFromString("99.5"),
				Close:     decimal.RequireFromString("105.25"),
				Volume:    decimal.RequireFromString("12.75"),
			},
			{
				Timestamp: base.Add(time.Hour),
				Open:      decimal.RequireFromString("105.25"),
				High:      decimal.RequireFromString("106"),
				Low:       decimal.RequireFromString("101"),
				Close:     decimal.RequireFromString("102.5"),
				Volume:    decimal.RequireFromString("8"),
			},
		},
	}
}

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeCSV(sampleSeries())
	if err != nil {
		t.Fatalf("EncodeCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,open,high,low,close,volume" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[1] != "2024-03-10T12:00:00Z,100,110.5,99.5,105.25,12.75" {
		t.Errorf("unexpected first row: %s", lines[1])
	}
}

func TestEncodeJSONRoundTrip(t *testing.T) {
	series := sampleSeries()

	data, err := EncodeJSON(series)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}

	var decoded []models.Candle
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode encoded json: %v", err)
	}
	if len(decoded) != series.Len() {
		t.Fatalf("expected %d candles, got %d", series.Len(), len(decoded))
	}
	for i, c := range decoded {
		if !c.Equal(series.Candles[i]) {
			t.Errorf("candle %d mismatch: got %+v want %+v", i, c, series.Candles[i])
		}
	}
}

func TestEncodeParquetMagicBytes(t *testing.T) {
	magic := []byte("PAR1")

	for _, compression := range []string{"snappy", "gzip", "uncompressed"} {
		data, err := EncodeParquet(sampleSeries(), compression)
		if err != nil {
			t.Fatalf("EncodeParquet(%s) failed: %v", compression, err)
		}
		if len(data) <= len(magic)*2 {
			t.Fatalf("EncodeParquet(%s) produced %d bytes", compression, len(data))
		}
		if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
			t.Errorf("EncodeParquet(%s) output missing parquet magic bytes", compression)
		}
	}
}

func TestEncodeUnknownFormat(t *testing.T) {
	if _, err := Encode(sampleSeries(), "xml", ""); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
