package channel

import (
	"context"
	"time"

	"candleflow/internal/channel/candle"
	"candleflow/internal/channel/status"
	"candleflow/internal/channel/trade"
	"candleflow/logger"
)

// Channels bundles the per-topic buses connecting the pipeline stages:
// trade topics (ingestor to aggregator), candle topics (aggregator to
// distributor) and the system-status broadcast.
type Channels struct {
	Trade  *trade.Channels
	Candle *candle.Channels
	Status *status.Channels

	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(symbols []string, intervalSeconds, tradeBuffer, candleBuffer, statusBuffer int) *Channels {
	return &Channels{
		Trade:  trade.NewChannels(symbols, tradeBuffer),
		Candle: candle.NewChannels(symbols, intervalSeconds, candleBuffer),
		Status: status.NewChannels(statusBuffer),
		log:    logger.GetLogger(),
	}
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}
	if c.Trade != nil {
		c.Trade.Close()
	}
	if c.Candle != nil {
		c.Candle.Close()
	}
	if c.Status != nil {
		c.Status.Close()
	}
	c.log.WithComponent("channels").Info("all channels closed")
}

// StartMetricsReporting periodically logs per-topic depth and send/drop
// counters until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	tradeStats := c.Trade.GetStats()
	candleStats := c.Candle.GetStats()

	fields := logger.Fields{
		"trade_sent":     tradeStats.Sent,
		"trade_dropped":  tradeStats.Dropped,
		"candle_sent":    candleStats.Sent,
		"candle_dropped": candleStats.Dropped,
		"status_dropped": c.Status.Dropped(),
	}
	for topic, depth := range c.Trade.Depths() {
		fields[topic+"_len"] = depth[0]
		fields[topic+"_cap"] = depth[1]
	}
	for topic, depth := range c.Candle.Depths() {
		fields[topic+"_len"] = depth[0]
		fields[topic+"_cap"] = depth[1]
	}

	c.log.WithComponent("channels").WithFields(fields).Info("channel statistics")
}
