package channel

import (
	"context"
	"sync"

	"candleflow/logger"
	"candleflow/models"
)

type Stats struct {
	TradesSent    int64
	TradesDropped int64
}

// Channels carries live trades from the stream reader to its consumers. Sends
// never block: a full buffer drops the trade and counts it.
type Channels struct {
	Trades chan models.Trade

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Trades: make(chan models.Trade, bufferSize),
		log:    log,
	}

	log.WithComponent("trade_channels").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("trade channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Trades)
	c.log.WithComponent("trade_channels").Info("trade channels closed")
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.TradesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.TradesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) SendTrade(ctx context.Context, trade models.Trade) bool {
	select {
	case c.Trades <- trade:
		c.incrementSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
