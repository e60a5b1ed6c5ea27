package models

import "time"

// EventKind discriminates the variants of the normalized MarketEvent union.
type EventKind string

const (
	KindTrade     EventKind = "trade"
	KindQuote     EventKind = "quote"
	KindAggregate EventKind = "aggregate"
	KindStatus    EventKind = "status"
	KindError     EventKind = "error"
	KindUnknown   EventKind = "unknown"
)

// Feed status values reported by providers through status frames.
const (
	StatusConnected   = "connected"
	StatusAuthSuccess = "auth_success"
	StatusAuthFailed  = "auth_failed"
)

// TradeFields carries the payload of an executed trade.
type TradeFields struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// QuoteFields carries the current best bid/ask for a symbol.
type QuoteFields struct {
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
}

// AggregateFields carries one OHLCV bar together with its window bounds
// in epoch milliseconds.
type AggregateFields struct {
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	WindowStart int64   `json:"window_start"`
	WindowEnd   int64   `json:"window_end"`
}

// StatusFields carries a provider status or error frame. Status frames drive
// connection/auth state and are not forwarded to data listeners.
type StatusFields struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MarketEvent is the normalized union decoded from raw provider frames at the
// trust boundary. Exactly one of the variant pointers matching Kind is set;
// unrecognized discriminators produce KindUnknown with all variants nil.
// Events are transient: delivered once to listeners and never persisted by
// the feed layer.
type MarketEvent struct {
	Kind       EventKind        `json:"kind"`
	Feed       string           `json:"feed"`
	Symbol     string           `json:"symbol"`
	Timestamp  int64            `json:"timestamp"` // provider time, epoch millis
	ReceivedAt time.Time        `json:"received_at"`
	Trade      *TradeFields     `json:"trade,omitempty"`
	Quote      *QuoteFields     `json:"quote,omitempty"`
	Aggregate  *AggregateFields `json:"aggregate,omitempty"`
	Status     *StatusFields    `json:"status,omitempty"`
}

// IsData reports whether the event carries market data that should reach
// fan-out listeners, as opposed to control traffic consumed by the
// connection manager.
func (e MarketEvent) IsData() bool {
	switch e.Kind {
	case KindTrade, KindQuote, KindAggregate:
		return true
	default:
		return false
	}
}

// EventBatch groups normalized events for the archiver.
type EventBatch struct {
	BatchID     string        `json:"batch_id"`
	Feed        string        `json:"feed"`
	Symbol      string        `json:"symbol"`
	Entries     []MarketEvent `json:"entries"`
	RecordCount int           `json:"record_count"`
	Timestamp   time.Time     `json:"timestamp"`
}
