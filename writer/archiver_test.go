package writer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/models"
)

type capturedUpload struct {
	key  string
	data []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []capturedUpload
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, capturedUpload{key: key, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeUploader) all() []capturedUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedUpload(nil), f.uploads...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func tradeEvent(feed, symbol string, price float64) models.MarketEvent {
	return models.MarketEvent{
		Kind:      models.KindTrade,
		Feed:      feed,
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Trade:     &models.TradeFields{Price: price, Size: 1},
	}
}

func newTestArchiver(t *testing.T, cfg appconfig.ArchiverConfig) (*Archiver, *fakeUploader, context.CancelFunc) {
	t.Helper()
	store := &fakeUploader{}
	a := newArchiver(cfg, store, channel.NewChannels(16, 16))

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		a.Stop()
	})
	return a, store, cancel
}

func TestFlushOnBatchSize(t *testing.T) {
	a, store, _ := newTestArchiver(t, appconfig.ArchiverConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
	})

	a.Add(tradeEvent("polygon", "AAPL", 100))
	a.Add(tradeEvent("polygon", "AAPL", 101))
	if store.count() != 0 {
		t.Fatal("expected no upload below batch size")
	}

	a.Add(tradeEvent("polygon", "AAPL", 102))
	waitFor(t, 2*time.Second, func() bool { return store.count() == 1 })

	up := store.all()[0]
	if !strings.HasPrefix(up.key, "feed=polygon/symbol=AAPL/date=") {
		t.Errorf("unexpected key %q", up.key)
	}
	if !strings.HasSuffix(up.key, ".parquet") {
		t.Errorf("expected parquet extension, got %q", up.key)
	}
	if !bytes.HasPrefix(up.data, []byte("PAR1")) || !bytes.HasSuffix(up.data, []byte("PAR1")) {
		t.Error("expected parquet magic bytes at both ends of the file")
	}
}

func TestBuffersKeyedByFeedAndSymbol(t *testing.T) {
	a, store, _ := newTestArchiver(t, appconfig.ArchiverConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
	})

	a.Add(tradeEvent("polygon", "AAPL", 100))
	a.Add(tradeEvent("coinbase", "AAPL", 100))
	a.Add(tradeEvent("polygon", "MSFT", 200))
	if store.count() != 0 {
		t.Fatal("expected separate buffers per feed and symbol")
	}

	a.Add(tradeEvent("coinbase", "AAPL", 101))
	waitFor(t, 2*time.Second, func() bool { return store.count() == 1 })

	if key := store.all()[0].key; !strings.HasPrefix(key, "feed=coinbase/symbol=AAPL/") {
		t.Errorf("unexpected key %q", key)
	}
}

func TestIntervalFlush(t *testing.T) {
	a, store, _ := newTestArchiver(t, appconfig.ArchiverConfig{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})

	a.Add(tradeEvent("polygon", "AAPL", 100))

	waitFor(t, 2*time.Second, func() bool { return store.count() == 1 })
}

func TestShutdownFlushesRemainder(t *testing.T) {
	a, store, cancel := newTestArchiver(t, appconfig.ArchiverConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	a.Add(tradeEvent("polygon", "AAPL", 100))
	a.Add(tradeEvent("polygon", "MSFT", 200))

	cancel()
	a.Stop()

	if got := store.count(); got != 2 {
		t.Fatalf("expected 2 uploads on shutdown, got %d", got)
	}
}

func TestControlEventsNotArchived(t *testing.T) {
	a, store, cancel := newTestArchiver(t, appconfig.ArchiverConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
	})

	a.Add(models.MarketEvent{
		Kind:   models.KindStatus,
		Feed:   "polygon",
		Symbol: "AAPL",
		Status: &models.StatusFields{Status: models.StatusConnected},
	})
	a.Add(models.MarketEvent{Kind: models.KindTrade, Feed: "polygon", Trade: &models.TradeFields{Price: 1}})

	cancel()
	a.Stop()

	if store.count() != 0 {
		t.Errorf("expected no uploads, got %d", store.count())
	}
}

func TestEncodeParquetRoundsAllKinds(t *testing.T) {
	entries := []models.MarketEvent{
		tradeEvent("polygon", "AAPL", 100),
		{
			Kind:   models.KindQuote,
			Feed:   "polygon",
			Symbol: "AAPL",
			Quote:  &models.QuoteFields{BidPrice: 99.5, BidSize: 10, AskPrice: 100.5, AskSize: 7},
		},
		{
			Kind:      models.KindAggregate,
			Feed:      "polygon",
			Symbol:    "AAPL",
			Aggregate: &models.AggregateFields{Open: 99, High: 101, Low: 98, Close: 100, Volume: 5000},
		},
	}

	for _, compression := range []string{"", "snappy", "gzip"} {
		data, err := encodeParquet(entries, compression)
		if err != nil {
			t.Fatalf("compression %q: %v", compression, err)
		}
		if len(data) == 0 {
			t.Fatalf("compression %q: empty file", compression)
		}
	}
}

func TestGenerateKeyPartitions(t *testing.T) {
	batch := models.EventBatch{
		Feed:      "coinbase",
		Symbol:    "BTC-USD",
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}

	key := generateKey(batch)
	want := "feed=coinbase/symbol=BTC-USD/date=2026-03-14/hour=09/marketpulse_coinbase_BTC-USD_20260314092653.parquet"
	if key != want {
		t.Errorf("got %q, want %q", key, want)
	}
}
