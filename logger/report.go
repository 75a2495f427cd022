package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsHyperliquid int64
	errorsCoinbase    int64
	warnsHyperliquid  int64
	warnsCoinbase     int64
	hyperliquidReads  int64
	coinbaseReads     int64
	archiveWrites     int64
	s3Uploads         int64
	streamDrops       int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "hyperliquid") {
		atomic.AddInt64(&warnsHyperliquid, 1)
	} else if strings.Contains(component, "coinbase") {
		atomic.AddInt64(&warnsCoinbase, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "hyperliquid") {
		atomic.AddInt64(&errorsHyperliquid, 1)
	} else if strings.Contains(component, "coinbase") {
		atomic.AddInt64(&errorsCoinbase, 1)
	}
}

func IncrementHyperliquidRead(candles int) {
	atomic.AddInt64(&hyperliquidReads, 1)
	recordChannel("hyperliquid_rest", candles)
}

func IncrementCoinbaseRead(candles int) {
	atomic.AddInt64(&coinbaseReads, 1)
	recordChannel("coinbase_rest", candles)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
}

func IncrementS3Upload(size int64) {
	atomic.AddInt64(&s3Uploads, 1)
	recordChannel("s3_upload", int(size))
}

func IncrementStreamDrop() {
	atomic.AddInt64(&streamDrops, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_hyperliquid": atomic.LoadInt64(&errorsHyperliquid),
		"errors_coinbase":    atomic.LoadInt64(&errorsCoinbase),
		"warns_hyperliquid":  atomic.LoadInt64(&warnsHyperliquid),
		"warns_coinbase":     atomic.LoadInt64(&warnsCoinbase),
		"hyperliquid_reads":  atomic.LoadInt64(&hyperliquidReads),
		"coinbase_reads":     atomic.LoadInt64(&coinbaseReads),
		"archive_writes":     atomic.LoadInt64(&archiveWrites),
		"s3_uploads":         atomic.LoadInt64(&s3Uploads),
		"stream_drops":       atomic.LoadInt64(&streamDrops),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Flow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ErrorsHyperliquid"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_hyperliquid"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ErrorsCoinbase"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_coinbase"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-WarnsHyperliquid"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_hyperliquid"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-WarnsCoinbase"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_coinbase"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-HyperliquidReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["hyperliquid_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-CoinbaseReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["coinbase_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-S3Uploads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_uploads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-StreamDrops"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stream_drops"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Flow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Flow-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
