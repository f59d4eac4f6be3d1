package trade

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

// Channels holds one buffered channel per configured symbol. Topic names
// follow the TRADE_<symbol> pattern; lookup is by symbol.
type Channels struct {
	topics map[string]chan models.TradeEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(symbols []string, bufferSize int) *Channels {
	log := logger.GetLogger()
	topics := make(map[string]chan models.TradeEvent, len(symbols))
	for _, s := range symbols {
		topics[s] = make(chan models.TradeEvent, bufferSize)
	}

	c := &Channels{
		topics: topics,
		log:    log,
	}

	log.WithComponent("trade_channels").WithFields(logger.Fields{
		"symbols":     symbols,
		"buffer_size": bufferSize,
	}).Info("trade channels initialized")

	return c
}

func (c *Channels) Close() {
	for _, ch := range c.topics {
		close(ch)
	}
	c.log.WithComponent("trade_channels").Info("trade channels closed")
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

// Publish sends the event on its symbol's topic without blocking. Events for
// unknown symbols and events that would block are dropped.
func (c *Channels) Publish(ctx context.Context, ev models.TradeEvent) bool {
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
func (c *Channels) Topic(symbol string) (<-chan models.TradeEvent, bool) {
	ch, ok := c.topics[symbol]
	return ch, ok
}

// Depths reports current length and capacity per topic for metrics.
func (c *Channels) Depths() map[string][2]int {
	depths := make(map[string][2]int, len(c.topics))
	for s, ch := range c.topics {
		depths[models.TradeTopic(s)] = [2]int{len(ch), cap(ch)}
	}
	return depths
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
