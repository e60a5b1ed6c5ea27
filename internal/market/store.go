package market

import (
	"sort"
	"sync"
	"time"

	"marketpulse/logger"
	"marketpulse/models"
)

// Snapshot is the latest known view of one symbol, aggregated from the live
// feeds. Reads always return copies; consumers never share mutable state with
// the store.
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Feed       string    `json:"feed"`
	LastPrice  float64   `json:"last_price"`
	LastSize   float64   `json:"last_size"`
	OpenPrice  float64   `json:"open_price"`
	ChangePct  float64   `json:"change_pct"`
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     float64   `json:"volume"`
	EventCount int64     `json:"event_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store keeps the latest snapshot per symbol. OpenPrice is the first trade
// price seen for the symbol this session; ChangePct is measured against it.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
	log   *logger.Entry
}

func NewStore() *Store {
	return &Store{
		snaps: make(map[string]*Snapshot),
		log:   logger.GetLogger().WithComponent("market.store"),
	}
}

// Apply folds one event into the symbol's snapshot. Non-data events are
// ignored.
func (s *Store) Apply(event models.MarketEvent) {
	if !event.IsData() || event.Symbol == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[event.Symbol]
	if !ok {
		snap = &Snapshot{Symbol: event.Symbol, Feed: event.Feed}
		s.snaps[event.Symbol] = snap
	}

	switch event.Kind {
	case models.KindTrade:
		price := event.Trade.Price
		if snap.OpenPrice == 0 {
			snap.OpenPrice = price
		}
		snap.LastPrice = price
		snap.LastSize = event.Trade.Size
		snap.Volume += event.Trade.Size
		if price > snap.High {
			snap.High = price
		}
		if snap.Low == 0 || price < snap.Low {
			snap.Low = price
		}
		if snap.OpenPrice != 0 {
			snap.ChangePct = (price - snap.OpenPrice) / snap.OpenPrice * 100
		}
	case models.KindQuote:
		snap.BidPrice = event.Quote.BidPrice
		snap.AskPrice = event.Quote.AskPrice
	case models.KindAggregate:
		agg := event.Aggregate
		if snap.OpenPrice == 0 {
			snap.OpenPrice = agg.Open
		}
		snap.LastPrice = agg.Close
		snap.Volume += agg.Volume
		if agg.High > snap.High {
			snap.High = agg.High
		}
		if snap.Low == 0 || (agg.Low > 0 && agg.Low < snap.Low) {
			snap.Low = agg.Low
		}
		if snap.OpenPrice != 0 {
			snap.ChangePct = (agg.Close - snap.OpenPrice) / snap.OpenPrice * 100
		}
	}

	snap.Feed = event.Feed
	snap.EventCount++
	snap.UpdatedAt = event.ReceivedAt
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
}

// Get returns a copy of the snapshot for one symbol.
func (s *Store) Get(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[symbol]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// All returns copies of every snapshot, sorted by symbol.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	out := make([]Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, *snap)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of tracked symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
