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
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsTrade    int64
	errorsCandle   int64
	warnsTrade     int64
	warnsCandle    int64
	tradesRead     int64
	candlesEmitted int64
	queriesServed  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsTrade, 1)
	} else if strings.Contains(component, "aggregator") || strings.Contains(component, "history") {
		atomic.AddInt64(&warnsCandle, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsTrade, 1)
	} else if strings.Contains(component, "aggregator") || strings.Contains(component, "history") {
		atomic.AddInt64(&errorsCandle, 1)
	}
}

func IncrementTradeRead(size int) {
	atomic.AddInt64(&tradesRead, 1)
	recordChannel("trade_ws", size)
}

func IncrementCandleEmitted(size int) {
	atomic.AddInt64(&candlesEmitted, 1)
	recordChannel("candle_emit", size)
}

func IncrementQueryServed(size int) {
	atomic.AddInt64(&queriesServed, 1)
	recordChannel("query_response", size)
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
		"errors_trade":    atomic.LoadInt64(&errorsTrade),
		"errors_candle":   atomic.LoadInt64(&errorsCandle),
		"warns_trade":     atomic.LoadInt64(&warnsTrade),
		"warns_candle":    atomic.LoadInt64(&warnsCandle),
		"trades_read":     atomic.LoadInt64(&tradesRead),
		"candles_emitted": atomic.LoadInt64(&candlesEmitted),
		"queries_served":  atomic.LoadInt64(&queriesServed),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_trade"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsCandle"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_candle"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_trade"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsCandle"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_candle"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TradesRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["trades_read"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CandlesEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["candles_emitted"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QueriesServed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["queries_served"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
