package status

import (
	"context"
	"sync"

	"candleflow/logger"
	"candleflow/models"
)

// Channels carries best-effort system-status broadcasts. A slow or absent
// consumer never blocks the publisher.
type Channels struct {
	Events chan models.StatusEvent

	dropped    int64
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events: make(chan models.StatusEvent, bufferSize),
		log:    log,
	}

	log.WithComponent("status_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("status channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	c.log.WithComponent("status_channels").Info("status channel closed")
}

// Publish sends a status event without blocking; events nobody is ready to
// receive are dropped.
func (c *Channels) Publish(ctx context.Context, ev models.StatusEvent) bool {
	select {
	case c.Events <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.dropped++
		c.statsMutex.Unlock()
		return false
	}
}

// Dropped reports how many status events were discarded.
func (c *Channels) Dropped() int64 {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.dropped
}
