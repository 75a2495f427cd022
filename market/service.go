package market

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/cache"
	"candleflow/logger"
	"candleflow/models"
)

const defaultStatsTTL = 30 * time.Second

var (
	hundred = decimal.NewFromInt(100)
	million = decimal.NewFromInt(1_000_000)
)

// staticFallbacks are the canned entries served for the majors when the
// provider has no usable data.
var staticFallbacks = map[string]models.SymbolStats{
	"BTC": {Symbol: "BTC", Price: decimal.NewFromFloat(83525.0), Change: decimal.NewFromFloat(2.1), Volume: "2.3B", Trend: "up"},
	"ETH": {Symbol: "ETH", Price: decimal.NewFromFloat(3200.5), Change: decimal.NewFromFloat(-0.5), Volume: "1.1B", Trend: "down"},
	"SOL": {Symbol: "SOL", Price: decimal.NewFromFloat(145.2), Change: decimal.NewFromFloat(4.8), Volume: "650M", Trend: "up"},
}

// StatsSource provides the per-asset market context the service summarizes.
type StatsSource interface {
	MarketStats(ctx context.Context, symbol string) (models.MarketStats, error)
}

// Service serves lightweight per-symbol market summaries. Fresh entries come
// from the TTL cache; the rest fan out one worker per symbol. Percent change
// is measured against the last price this service observed for the symbol.
type Service struct {
	source StatsSource
	cache  *cache.StatsCache
	log    *logger.Log

	mu        sync.Mutex
	lastKnown map[string]decimal.Decimal

	// now is a hook for tests; production uses time.Now.
	now func() time.Time
}

// NewService creates a stats service caching results for ttl (default 30s
// when non-positive).
func NewService(source StatsSource, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultStatsTTL
	}
	return &Service{
		source:    source,
		cache:     cache.NewStatsCache(ttl),
		log:       logger.GetLogger(),
		lastKnown: make(map[string]decimal.Decimal),
		now:       time.Now,
	}
}

// Fetch returns one SymbolStats per requested symbol, in input order. Cached
// entries younger than the TTL are served as-is; the remainder is fetched
// concurrently, one worker per symbol, and failures degrade to fallback
// entries rather than errors.
func (s *Service) Fetch(ctx context.Context, symbols []string) []models.SymbolStats {
	results := make([]models.SymbolStats, len(symbols))
	toFetch := make([]int, 0, len(symbols))

	for i, sym := range symbols {
		if stats, ok := s.cache.Get(sym); ok {
			results[i] = stats
			continue
		}
		toFetch = append(toFetch, i)
	}

	if len(toFetch) == 0 {
		return results
	}

	s.log.WithComponent("market_stats").WithFields(logger.Fields{
		"cached":   len(symbols) - len(toFetch),
		"fetching": len(toFetch),
	}).Debug("fanning out stats workers")

	var wg sync.WaitGroup
	wg.Add(len(toFetch))
	for _, idx := range toFetch {
		go func(idx int) {
			defer wg.Done()
			stats := s.fetchSymbol(ctx, symbols[idx])
			results[idx] = stats
			s.cache.Put(stats.Symbol, stats)
		}(idx)
	}
	wg.Wait()

	return results
}

func (s *Service) fetchSymbol(ctx context.Context, symbol string) models.SymbolStats {
	log := s.log.WithComponent("market_stats").WithFields(logger.Fields{"symbol": symbol})

	stats, err := s.source.MarketStats(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("stats fetch failed, serving fallback")
		return fallbackFor(symbol, s.now())
	}
	if !stats.MarkPrice.IsPositive() {
		log.Warn("zero or missing price, serving fallback")
		return fallbackFor(symbol, s.now())
	}

	price := stats.MarkPrice
	change := decimal.Zero
	s.mu.Lock()
	ref, seen := s.lastKnown[symbol]
	if seen && !ref.IsZero() {
		change = price.Sub(ref).Div(ref).Mul(hundred).Round(2)
	}
	s.lastKnown[symbol] = price
	s.mu.Unlock()

	trend := "down"
	if change.IsPositive() {
		trend = "up"
	}

	return models.SymbolStats{
		Symbol:    symbol,
		Price:     price,
		Change:    change,
		Volume:    stats.DayVolume.Div(million).StringFixed(1) + "M",
		Trend:     trend,
		Timestamp: s.now(),
	}
}

// fallbackFor returns the static entry for the majors, a zeroed placeholder
// otherwise.
func fallbackFor(symbol string, now time.Time) models.SymbolStats {
	if stats, ok := staticFallbacks[symbol]; ok {
		stats.Timestamp = now
		return stats
	}
	return models.SymbolStats{
		Symbol:    symbol,
		Price:     decimal.Zero,
		Change:    decimal.Zero,
		Volume:    "N/A",
		Trend:     "down",
		Timestamp: now,
	}
}
