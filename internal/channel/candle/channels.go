package candle

import (
	"context"
	"sync"

	"candleflow/logger"
	"candleflow/models"
)

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels holds one buffered channel per configured symbol, carrying
// finalized candles on CANDLE_<symbol>_<interval> topics.
type Channels struct {
	topics   map[string]chan models.CandleEvent
	interval int

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(symbols []string, intervalSeconds, bufferSize int) *Channels {
	log := logger.GetLogger()
	topics := make(map[string]chan models.CandleEvent, len(symbols))
	for _, s := range symbols {
		topics[s] = make(chan models.CandleEvent, bufferSize)
	}

	c := &Channels{
		topics:   topics,
		interval: intervalSeconds,
		log:      log,
	}

	log.WithComponent("candle_channels").WithFields(logger.Fields{
		"symbols":     symbols,
		"interval":    intervalSeconds,
		"buffer_size": bufferSize,
	}).Info("candle channels initialized")

	return c
}

func (c *Channels) Close() {
	for _, ch := range c.topics {
		close(ch)
	}
	c.log.WithComponent("candle_channels").Info("candle channels closed")
}

func (c *Channels) IncrementSent() {
	c.statsMutex.Lock()
	c.stats.Sent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementDropped() {
	c.statsMutex.Lock()
	c.stats.Dropped++
	c.statsMutex.Unlock()
}

// Publish sends the event on its symbol's topic without blocking.
func (c *Channels) Publish(ctx context.Context, ev models.CandleEvent) bool {
	ch, ok := c.topics[ev.Symbol]
	if !ok {
		c.IncrementDropped()
		return false
	}
	select {
	case ch <- ev:
		c.IncrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementDropped()
		return false
	}
}

// Topic returns the receive side of a symbol's topic channel.
func (c *Channels) Topic(symbol string) (<-chan models.CandleEvent, bool) {
	ch, ok := c.topics[symbol]
	return ch, ok
}

// Symbols lists the symbols this bus carries topics for.
func (c *Channels) Symbols() []string {
	symbols := make([]string, 0, len(c.topics))
	for s := range c.topics {
		symbols = append(symbols, s)
	}
	return symbols
}

// Depths reports current length and capacity per topic for metrics.
func (c *Channels) Depths() map[string][2]int {
	depths := make(map[string][2]int, len(c.topics))
	for s, ch := range c.topics {
		depths[models.CandleTopic(s, c.interval)] = [2]int{len(ch), cap(ch)}
	}
	return depths
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
