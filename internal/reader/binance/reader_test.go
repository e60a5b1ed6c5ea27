package binance

import (
	"context"
	"testing"

	binance "github.com/adshao/go-binance/v2"

	appconfig "marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/models"
)

func TestNewReader(t *testing.T) {
	cfg := appconfig.BinanceFeedConfig{Enabled: true, Symbols: []string{"BTCUSDT"}}
	r := NewReader(cfg, channel.NewChannels(1, 1))
	if r == nil {
		t.Fatal("NewReader returned nil")
	}
}

func TestStartRejectsDisabledFeed(t *testing.T) {
	r := NewReader(appconfig.BinanceFeedConfig{Enabled: false}, channel.NewChannels(1, 1))
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for disabled feed")
	}
}

func TestStartRejectsEmptySymbols(t *testing.T) {
	r := NewReader(appconfig.BinanceFeedConfig{Enabled: true}, channel.NewChannels(1, 1))
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for empty symbol list")
	}
}

func TestAggTradeToEvent(t *testing.T) {
	event := aggTradeToEvent(&binance.WsAggTradeEvent{
		Symbol:    "BTCUSDT",
		Price:     "65000.25",
		Quantity:  "0.5",
		TradeTime: 1700000000000,
	})

	if event.Kind != models.KindTrade || event.Feed != "binance" || event.Symbol != "BTCUSDT" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Trade.Price != 65000.25 || event.Trade.Size != 0.5 {
		t.Errorf("unexpected trade fields: %+v", event.Trade)
	}
	if event.Timestamp != 1700000000000 {
		t.Errorf("expected provider trade time, got %d", event.Timestamp)
	}
}

func TestBookTickerToEvent(t *testing.T) {
	event := bookTickerToEvent(&binance.WsBookTickerEvent{
		Symbol:       "ETHUSDT",
		BestBidPrice: "3000.1",
		BestBidQty:   "2",
		BestAskPrice: "3000.5",
		BestAskQty:   "1.5",
	})

	if event.Kind != models.KindQuote || event.Symbol != "ETHUSDT" {
		t.Errorf("unexpected event: %+v", event)
	}
	q := event.Quote
	if q.BidPrice != 3000.1 || q.BidSize != 2 || q.AskPrice != 3000.5 || q.AskSize != 1.5 {
		t.Errorf("unexpected quote fields: %+v", q)
	}
}

func TestParseDecimalMalformed(t *testing.T) {
	if v := parseDecimal("not-a-number"); v != 0 {
		t.Errorf("expected 0 for malformed input, got %v", v)
	}
}
