// Package timeframe parses candle timeframe tokens such as "15m", "1h" and
// "1d" into durations.
package timeframe

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidTimeframe reports a token that does not match <int><m|h|d>.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

// ToSeconds converts a timeframe token into whole seconds. The token is an
// integer >= 1 followed by a single unit character: m (minutes), h (hours)
// or d (days).
func ToSeconds(token string) (int64, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, token)
	}
	n, err := strconv.ParseInt(token[:len(token)-1], 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, token)
	}
	switch token[len(token)-1] {
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 60 * 60, nil
	case 'd':
		return n * 24 * 60 * 60, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, token)
}

// ToDuration converts a timeframe token into a time.Duration.
func ToDuration(token string) (time.Duration, error) {
	secs, err := ToSeconds(token)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
