package channel

import (
	"context"
	"testing"
	"time"

	"marketpulse/models"
)

func TestSendEventAndStats(t *testing.T) {
	c := NewChannels(2, 2)
	defer c.Close()

	ctx := context.Background()
	event := models.MarketEvent{
		Kind:   models.KindTrade,
		Feed:   "polygon",
		Symbol: "AAPL",
		Trade:  &models.TradeFields{Price: 187.5, Size: 100},
	}

	if !c.SendEvent(ctx, event) {
		t.Fatal("expected send to succeed")
	}

	stats := c.GetStats()
	if stats.EventsSent != 1 {
		t.Errorf("expected 1 event sent, got %d", stats.EventsSent)
	}

	got := <-c.Events
	if got.Symbol != "AAPL" || got.Trade == nil || got.Trade.Price != 187.5 {
		t.Errorf("unexpected event received: %+v", got)
	}
}

func TestSendEventDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	ctx := context.Background()
	event := models.MarketEvent{Kind: models.KindQuote, Feed: "coinbase", Symbol: "BTC-USD"}

	if !c.SendEvent(ctx, event) {
		t.Fatal("expected first send to succeed")
	}
	if c.SendEvent(ctx, event) {
		t.Error("expected second send to drop")
	}

	stats := c.GetStats()
	if stats.EventsDropped != 1 {
		t.Errorf("expected 1 dropped event, got %d", stats.EventsDropped)
	}
}

func TestSendEventCancelledContext(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so the default branch does not win the select.
	c.Events <- models.MarketEvent{}

	done := make(chan bool, 1)
	go func() {
		done <- c.SendEvent(ctx, models.MarketEvent{Kind: models.KindTrade})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected send on cancelled context to fail")
		}
	case <-time.After(time.Second):
		t.Fatal("send did not return")
	}
}

func TestSendBatch(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	batch := models.EventBatch{Feed: "polygon", Symbol: "AAPL", RecordCount: 3}
	if !c.SendBatch(context.Background(), batch) {
		t.Fatal("expected batch send to succeed")
	}

	got := <-c.Batches
	if got.RecordCount != 3 {
		t.Errorf("expected record count 3, got %d", got.RecordCount)
	}
	if c.GetStats().BatchesSent != 1 {
		t.Errorf("expected 1 batch sent, got %d", c.GetStats().BatchesSent)
	}
}
