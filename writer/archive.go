package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appconfig "candleflow/config"
	"candleflow/internal/metadata"
	"candleflow/logger"
	"candleflow/models"
)

const (
	defaultArchiveInterval = time.Hour
	defaultArchiveLookback = 24 * time.Hour
	fileStamp              = "20060102150405"
)

// HistoricalSource is the router-facing slice the archiver needs.
type HistoricalSource interface {
	HistoricalData(ctx context.Context, req models.FetchRequest) (models.Series, error)
}

// Archiver periodically assembles the configured lookback for every
// configured symbol and writes one file per symbol in the configured format,
// optionally mirroring each file to S3. Every written file is recorded in the
// manifest.
type Archiver struct {
	config   *appconfig.Config
	source   HistoricalSource
	uploader *S3Uploader
	manifest *metadata.Manifest
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// NewArchiver builds the archiver; the S3 uploader is only constructed when
// uploads are enabled.
func NewArchiver(cfg *appconfig.Config, source HistoricalSource) (*Archiver, error) {
	log := logger.GetLogger()

	a := &Archiver{
		config:   cfg,
		source:   source,
		manifest: metadata.NewManifest(cfg.Archive.Dir),
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	if cfg.Storage.S3.Enabled {
		uploader, err := NewS3Uploader(cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("archive s3 uploader: %w", err)
		}
		a.uploader = uploader
	}

	log.WithComponent("archiver").WithFields(logger.Fields{
		"dir":       cfg.Archive.Dir,
		"format":    cfg.Archive.Format,
		"timeframe": cfg.Archive.Timeframe,
		"interval":  cfg.Archive.Interval.String(),
		"s3_upload": cfg.Storage.S3.Enabled,
	}).Info("archiver initialized")

	return a, nil
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archiver")

	a.wg.Add(1)
	go a.run()

	log.Info("archiver started successfully")
	return nil
}

func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("archiver").Info("stopping archiver")
	a.wg.Wait()

	if err := a.manifest.Flush(); err != nil {
		a.log.WithComponent("archiver").WithError(err).Warn("final manifest flush failed")
	}
	a.log.WithComponent("archiver").Info("archiver stopped")
}

func (a *Archiver) run() {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "archive_loop"})

	interval := a.config.Archive.Interval
	if interval <= 0 {
		interval = defaultArchiveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.runOnce()

	for {
		select {
		case <-a.ctx.Done():
			log.Info("archive loop stopped due to context cancellation")
			return
		case <-ticker.C:
			a.runOnce()
		}
	}
}

// runOnce archives every configured symbol and flushes the manifest.
func (a *Archiver) runOnce() {
	begin := time.Now()
	written := 0

	for _, symbol := range a.config.Market.Symbols {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		if err := a.archiveSymbol(symbol); err != nil {
			a.log.WithComponent("archiver").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Error("archive run failed for symbol")
			continue
		}
		written++
	}

	if err := a.manifest.Flush(); err != nil {
		a.log.WithComponent("archiver").WithError(err).Warn("manifest flush failed")
	}

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"symbols":     len(a.config.Market.Symbols),
		"files":       written,
		"duration_ms": time.Since(begin).Milliseconds(),
	}).Info("archive run complete")
}

func (a *Archiver) archiveSymbol(symbol string) error {
	tf := a.config.Archive.Timeframe
	lookback := a.config.Archive.Lookback
	if lookback <= 0 {
		lookback = defaultArchiveLookback
	}

	series, err := a.source.HistoricalData(a.ctx, models.FetchRequest{
		Symbol:    symbol,
		Timeframe: tf,
		Lookback:  lookback,
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", symbol, err)
	}
	if series.Empty() {
		a.log.WithComponent("archiver").WithFields(logger.Fields{
			"symbol":    symbol,
			"timeframe": tf,
		}).Debug("no candles to archive")
		return nil
	}

	format := a.config.Archive.Format
	data, err := Encode(series, format, a.config.Archive.Compression)
	if err != nil {
		return fmt.Errorf("encode %s: %w", symbol, err)
	}

	first, _ := series.First()
	last, _ := series.Last()
	clean := strings.ReplaceAll(symbol, "/", "-")
	filename := fmt.Sprintf("%s_%s_%s_to_%s.%s",
		clean, tf,
		first.Timestamp.UTC().Format(fileStamp),
		last.Timestamp.UTC().Format(fileStamp),
		Extension(format))
	path := filepath.Join(a.config.Archive.Dir, clean, tf, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	logger.IncrementArchiveWrite(int64(len(data)))

	if a.uploader != nil {
		key := ObjectKey(string(models.SourceAuto), symbol, tf, last.Timestamp, Extension(format))
		if err := a.uploader.Upload(a.ctx, key, data, format); err != nil {
			a.log.WithComponent("archiver").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
				"s3_key": key,
			}).Error("archive upload failed")
		}
	}

	a.manifest.Add(metadata.Record{
		Path:      path,
		Format:    format,
		Symbol:    symbol,
		Timeframe: tf,
		Rows:      series.Len(),
		SizeBytes: int64(len(data)),
		Start:     first.Timestamp,
		End:       last.Timestamp,
		WroteAt:   time.Now().UTC(),
	})

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"symbol": symbol,
		"path":   path,
		"rows":   series.Len(),
		"bytes":  len(data),
	}).Info("symbol archived")
	return nil
}
