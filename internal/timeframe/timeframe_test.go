package timeframe

import (
	"errors"
	"testing"
	"time"
)

func TestToSeconds(t *testing.T) {
	cases := []struct {
		token string
		want  int64
	}{
		{"1m", 60},
		{"5m", 300},
		{"15m", 900},
		{"30m", 1800},
		{"1h", 3600},
		{"4h", 14400},
		{"12h", 43200},
		{"1d", 86400},
		{"7d", 604800},
	}
	for _, tc := range cases {
		got, err := ToSeconds(tc.token)
		if err != nil {
			t.Errorf("ToSeconds(%q): unexpected error: %v", tc.token, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ToSeconds(%q) = %d, want %d", tc.token, got, tc.want)
		}
	}
}

func TestToSecondsInvalid(t *testing.T) {
	for _, token := range []string{"", "m", "15", "15s", "h1", "-5m", "0m", "1.5h", "15M", "fifteenm"} {
		if _, err := ToSeconds(token); !errors.Is(err, ErrInvalidTimeframe) {
			t.Errorf("ToSeconds(%q): error = %v, want ErrInvalidTimeframe", token, err)
		}
	}
}

func TestToDuration(t *testing.T) {
	got, err := ToDuration("15m")
	if err != nil {
		t.Fatalf("ToDuration: %v", err)
	}
	if got != 15*time.Minute {
		t.Fatalf("ToDuration(15m) = %v", got)
	}
	if _, err := ToDuration("15x"); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("ToDuration(15x): error = %v, want ErrInvalidTimeframe", err)
	}
}
