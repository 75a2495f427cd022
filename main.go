package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"candleflow/config"
	"candleflow/internal/cache"
	"candleflow/internal/channel"
	"candleflow/logger"
	"candleflow/market"
	"candleflow/reader/coinbase"
	"candleflow/reader/hyperliquid"
	"candleflow/router"
	"candleflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Candleflow.Name,
		"version": cfg.Candleflow.Version,
	}).Info("starting candleflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	reportInterval := cfg.Metrics.ReportInterval
	if reportInterval <= 0 {
		reportInterval = 30 * time.Second
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.Enabled {
		logger.StartReport(ctx, log, reportInterval)
	}

	// Disabled sources stay nil interfaces so the router can route around them.
	var hlClient *hyperliquid.Client
	var hlSource, cbSource router.Source
	if cfg.Sources.Hyperliquid.Enabled {
		hlClient = hyperliquid.NewClient(cfg.Sources.Hyperliquid)
		hlSource = hyperliquid.NewCandleFetcher(hlClient, cfg.Sources.Hyperliquid)
	}
	if cfg.Sources.Coinbase.Enabled {
		cbSource = coinbase.NewClient(cfg.Sources.Coinbase, cfg.Market.QuoteCurrency)
	}

	store, err := cache.NewSeriesStore(cfg.Cache.Dir)
	if err != nil {
		log.WithError(err).Error("failed to create series store")
		os.Exit(1)
	}

	dataRouter, err := router.New(cfg, hlSource, cbSource, store)
	if err != nil {
		log.WithError(err).Error("failed to create data router")
		os.Exit(1)
	}

	var statsService *market.Service
	if hlClient != nil {
		statsService = market.NewService(hlClient, cfg.Market.StatsTTL)
	}

	var channels *channel.Channels
	var stream *hyperliquid.Stream
	if cfg.Stream.Enabled {
		if hlClient == nil {
			log.WithComponent("main").Warn("trade stream requires the hyperliquid source; skipping")
		} else {
			channels = channel.NewChannels(cfg.Stream.Buffer)
			defer channels.Close()
			stream = hyperliquid.NewStream(cfg.Sources.Hyperliquid, cfg.Stream, cfg.Market.Symbols, channels)
		}
	}

	var archiver *writer.Archiver
	if cfg.Archive.Enabled {
		archiver, err = writer.NewArchiver(cfg, dataRouter)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archiving disabled; skipping archiver")
	}

	var wg sync.WaitGroup

	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stream.Start(ctx); err != nil {
				log.WithError(err).Warn("trade stream failed to start")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeTrades(ctx, channels, log)
		}()
	}

	if archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiver.Start(ctx); err != nil {
				log.WithError(err).Warn("archiver failed to start")
			}
		}()
	}

	if statsService != nil {
		statsInterval := cfg.Market.StatsTTL
		if statsInterval <= 0 {
			statsInterval = 30 * time.Second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchMarket(ctx, statsService, cfg.Market.Symbols, statsInterval, log)
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if archiver != nil {
		log.Info("stopping archiver")
		archiver.Stop()
	}

	if stream != nil {
		log.Info("stopping trade stream")
		stream.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("candleflow stopped")
}

// consumeTrades drains the live trade channel so stream backpressure stays
// bounded, surfacing each trade at debug level.
func consumeTrades(ctx context.Context, channels *channel.Channels, log *logger.Log) {
	entry := log.WithComponent("trade_consumer")

	for {
		select {
		case <-ctx.Done():
			stats := channels.GetStats()
			entry.WithFields(logger.Fields{
				"trades_sent":    stats.TradesSent,
				"trades_dropped": stats.TradesDropped,
			}).Info("trade consumer stopped")
			return
		case trade, ok := <-channels.Trades:
			if !ok {
				return
			}
			entry.WithFields(logger.Fields{
				"symbol": trade.Symbol,
				"side":   trade.Side,
				"price":  trade.Price.String(),
				"size":   trade.Size.String(),
			}).Debug("trade received")
			logger.RecordChannelMessage("trades_consumed", 1)
		}
	}
}

// watchMarket periodically refreshes the market snapshot so operators see
// per-symbol prices in the logs even with no downstream consumer attached.
func watchMarket(ctx context.Context, svc *market.Service, symbols []string, interval time.Duration, log *logger.Log) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stats := range svc.Fetch(ctx, symbols) {
				log.WithComponent("market_watch").WithFields(logger.Fields{
					"symbol": stats.Symbol,
					"price":  stats.Price.String(),
					"change": stats.Change.String(),
					"volume": stats.Volume,
					"trend":  stats.Trend,
				}).Info("market snapshot")
			}
		}
	}
}
