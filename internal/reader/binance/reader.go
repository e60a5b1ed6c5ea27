package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"

	appconfig "marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/logger"
	"marketpulse/models"
)

const feedName = "binance"

// Reader streams crypto trades and best bid/ask from Binance spot websocket
// streams and normalizes them onto the shared event channel. It complements
// the equities feeds with always-open crypto data.
type Reader struct {
	config   appconfig.BinanceFeedConfig
	channels *channel.Channels
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewReader(cfg appconfig.BinanceFeedConfig, channels *channel.Channels) *Reader {
	return &Reader{
		config:   cfg,
		channels: channels,
		log:      logger.GetLogger(),
	}
}

// Start subscribes to trade and book ticker streams for every configured
// symbol.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_reader")

	if !r.config.Enabled {
		log.Warn("binance feed is disabled")
		return fmt.Errorf("binance feed is disabled")
	}
	if len(r.config.Symbols) == 0 {
		return fmt.Errorf("binance feed has no symbols configured")
	}

	log.WithFields(logger.Fields{"symbols": r.config.Symbols}).Info("starting binance reader")

	for _, symbol := range r.config.Symbols {
		r.wg.Add(2)
		go r.streamTrades(symbol)
		go r.streamQuotes(symbol)
	}

	return nil
}

// Stop waits for all stream workers to exit. The context passed to Start
// must be cancelled first.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_reader").Info("stopping binance reader")
	r.wg.Wait()
	r.log.WithComponent("binance_reader").Info("binance reader stopped")
}

func (r *Reader) streamTrades(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "trade_stream",
	})

	handler := func(event *binance.WsAggTradeEvent) {
		r.publish(log, aggTradeToEvent(event))
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	doneC, stopC, err := binance.WsAggTradeServe(symbol, handler, errHandler)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to trade stream")
		return
	}

	select {
	case <-r.ctx.Done():
		close(stopC)
		<-doneC
	case <-doneC:
		// stream ended
	}
}

func (r *Reader) streamQuotes(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "quote_stream",
	})

	handler := func(event *binance.WsBookTickerEvent) {
		r.publish(log, bookTickerToEvent(event))
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	doneC, stopC, err := binance.WsBookTickerServe(symbol, handler, errHandler)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to book ticker stream")
		return
	}

	select {
	case <-r.ctx.Done():
		close(stopC)
		<-doneC
	case <-doneC:
		// stream ended
	}
}

func (r *Reader) publish(log *logger.Entry, event models.MarketEvent) {
	if !r.channels.SendEvent(r.ctx, event) {
		log.Debug("event channel full, dropping message")
		return
	}
	logger.IncrementFeedEvents(1)
}

func aggTradeToEvent(event *binance.WsAggTradeEvent) models.MarketEvent {
	return models.MarketEvent{
		Kind:       models.KindTrade,
		Feed:       feedName,
		Symbol:     event.Symbol,
		Timestamp:  event.TradeTime,
		ReceivedAt: time.Now(),
		Trade: &models.TradeFields{
			Price: parseDecimal(event.Price),
			Size:  parseDecimal(event.Quantity),
		},
	}
}

func bookTickerToEvent(event *binance.WsBookTickerEvent) models.MarketEvent {
	return models.MarketEvent{
		Kind:       models.KindQuote,
		Feed:       feedName,
		Symbol:     event.Symbol,
		Timestamp:  time.Now().UnixMilli(),
		ReceivedAt: time.Now(),
		Quote: &models.QuoteFields{
			BidPrice: parseDecimal(event.BestBidPrice),
			BidSize:  parseDecimal(event.BestBidQty),
			AskPrice: parseDecimal(event.BestAskPrice),
			AskSize:  parseDecimal(event.BestAskQty),
		},
	}
}

// parseDecimal converts Binance's string-encoded numbers; malformed values
// become zero rather than failing the stream.
func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
