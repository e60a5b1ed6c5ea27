package channel

import (
	"context"
	"sync"

	"marketpulse/logger"
	"marketpulse/models"
)

type Stats struct {
	EventsSent     int64
	BatchesSent    int64
	EventsDropped  int64
	BatchesDropped int64
}

// Channels carries normalized market events from the feed layer to the
// consumers (market store, archiver, dashboard). Sends never block: when a
// buffer is full the message is dropped and counted.
type Channels struct {
	Events  chan models.MarketEvent
	Batches chan models.EventBatch

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(eventBufferSize, batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Events:  make(chan models.MarketEvent, eventBufferSize),
		Batches: make(chan models.EventBatch, batchBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_buffer_size": eventBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Info("event channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Events)
	close(c.Batches)
	c.log.WithComponent("channels").Info("event channels closed")
}

func (c *Channels) incrementEventsSent() {
	c.statsMutex.Lock()
	c.stats.EventsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementBatchesSent() {
	c.statsMutex.Lock()
	c.stats.BatchesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementEventsDropped() {
	c.statsMutex.Lock()
	c.stats.EventsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementBatchesDropped() {
	c.statsMutex.Lock()
	c.stats.BatchesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) SendEvent(ctx context.Context, event models.MarketEvent) bool {
	select {
	case c.Events <- event:
		c.incrementEventsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementEventsDropped()
		return false
	}
}

func (c *Channels) SendBatch(ctx context.Context, batch models.EventBatch) bool {
	select {
	case c.Batches <- batch:
		c.incrementBatchesSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementBatchesDropped()
		return false
	}
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
