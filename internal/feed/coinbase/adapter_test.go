package coinbase

import (
	"encoding/json"
	"testing"

	"marketpulse/internal/feed"
	"marketpulse/models"
)

func TestSubscribeFrame(t *testing.T) {
	a := NewAdapter()

	frame, err := a.SubscribeFrame([]feed.Subscription{
		{Symbol: "BTC-USD", Channels: []string{"ticker"}},
		{Symbol: "ETH-USD", Channels: []string{"ticker", "heartbeat"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cmd struct {
		Type       string   `json:"type"`
		ProductIDs []string `json:"product_ids"`
		Channels   []string `json:"channels"`
	}
	if err := json.Unmarshal(frame, &cmd); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}

	if cmd.Type != "subscribe" {
		t.Errorf("expected subscribe type, got %q", cmd.Type)
	}
	if len(cmd.ProductIDs) != 2 || cmd.ProductIDs[0] != "BTC-USD" {
		t.Errorf("unexpected product ids: %v", cmd.ProductIDs)
	}
	if len(cmd.Channels) != 2 || cmd.Channels[0] != "ticker" || cmd.Channels[1] != "heartbeat" {
		t.Errorf("unexpected channels: %v", cmd.Channels)
	}
}

func TestSubscribeFrameDefaultsToTicker(t *testing.T) {
	a := NewAdapter()

	frame, err := a.SubscribeFrame([]feed.Subscription{{Symbol: "BTC-USD"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cmd struct {
		Channels []string `json:"channels"`
	}
	json.Unmarshal(frame, &cmd)
	if len(cmd.Channels) != 1 || cmd.Channels[0] != "ticker" {
		t.Errorf("expected default ticker channel, got %v", cmd.Channels)
	}
}

func TestDecodeTickerExpandsToTradeAndQuote(t *testing.T) {
	a := NewAdapter()

	raw := []byte(`{
		"type": "ticker",
		"product_id": "BTC-USD",
		"price": "50000.5",
		"last_size": "0.1",
		"best_bid": "50000.0",
		"best_ask": "50001.0",
		"time": "2023-11-14T22:13:20Z"
	}`)

	events, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected trade and quote, got %d events", len(events))
	}

	trade := events[0]
	if trade.Kind != models.KindTrade || trade.Symbol != "BTC-USD" {
		t.Fatalf("unexpected first event: %+v", trade)
	}
	if trade.Trade.Price != 50000.5 || trade.Trade.Size != 0.1 {
		t.Errorf("unexpected trade payload: %+v", trade.Trade)
	}
	if trade.Timestamp != 1700000000000 {
		t.Errorf("expected timestamp 1700000000000, got %d", trade.Timestamp)
	}

	quote := events[1]
	if quote.Kind != models.KindQuote {
		t.Fatalf("unexpected second event: %+v", quote)
	}
	if quote.Quote.BidPrice != 50000.0 || quote.Quote.AskPrice != 50001.0 {
		t.Errorf("unexpected quote payload: %+v", quote.Quote)
	}
}

func TestDecodeTickerWithoutQuoteFields(t *testing.T) {
	a := NewAdapter()

	events, err := a.Decode([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"100","last_size":"1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindTrade {
		t.Errorf("expected single trade event, got %+v", events)
	}
}

func TestDecodeSubscriptionsAck(t *testing.T) {
	a := NewAdapter()

	events, err := a.Decode([]byte(`{"type":"subscriptions","channels":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindStatus {
		t.Fatalf("expected status event, got %+v", events)
	}
	if events[0].Status.Status != models.StatusConnected {
		t.Errorf("expected connected status, got %q", events[0].Status.Status)
	}
}

func TestDecodeError(t *testing.T) {
	a := NewAdapter()

	events, err := a.Decode([]byte(`{"type":"error","message":"Failed to subscribe","reason":"product not found"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindError {
		t.Fatalf("expected error event, got %+v", events)
	}
	if events[0].Status.Message != "Failed to subscribe: product not found" {
		t.Errorf("unexpected message: %q", events[0].Status.Message)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	a := NewAdapter()

	events, err := a.Decode([]byte(`{"type":"l2update","product_id":"BTC-USD"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.KindUnknown {
		t.Errorf("expected unknown event, got %+v", events)
	}
}

func TestDecodeMalformed(t *testing.T) {
	a := NewAdapter()
	if _, err := a.Decode([]byte(`{`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}
