package polygon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketpulse/internal/feed"
	"marketpulse/models"
)

// Event type discriminators used on the wire.
const (
	evTrade     = "T"
	evQuote     = "Q"
	evAggregate = "AM"
	evStatus    = "status"
)

// Adapter speaks the Polygon.io websocket protocol: auth and subscribe
// commands are {"action": ..., "params": ...} objects, inbound frames are
// JSON arrays of messages discriminated by an "ev" field.
type Adapter struct {
	apiKey string
}

func NewAdapter(apiKey string) *Adapter {
	return &Adapter{apiKey: apiKey}
}

func (a *Adapter) Name() string { return "polygon" }

func (a *Adapter) RequiresAuth() bool { return true }

func (a *Adapter) AuthFrame() ([]byte, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("polygon: api key is empty")
	}
	return json.Marshal(command{Action: "auth", Params: a.apiKey})
}

func (a *Adapter) SubscribeFrame(subs []feed.Subscription) ([]byte, error) {
	params := topicList(subs)
	if params == "" {
		return nil, fmt.Errorf("polygon: no topics to subscribe")
	}
	return json.Marshal(command{Action: "subscribe", Params: params})
}

func (a *Adapter) UnsubscribeFrame(subs []feed.Subscription) ([]byte, error) {
	params := topicList(subs)
	if params == "" {
		return nil, fmt.Errorf("polygon: no topics to unsubscribe")
	}
	return json.Marshal(command{Action: "unsubscribe", Params: params})
}

type command struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// topicList joins channel.symbol pairs, e.g. "T.AAPL,Q.AAPL". Symbols with no
// channels default to trades.
func topicList(subs []feed.Subscription) string {
	var topics []string
	for _, sub := range subs {
		channels := sub.Channels
		if len(channels) == 0 {
			channels = []string{evTrade}
		}
		for _, ch := range channels {
			topics = append(topics, ch+"."+sub.Symbol)
		}
	}
	return strings.Join(topics, ",")
}

// Wire message shapes. The "s" key is overloaded by the provider: trade size
// on trades, window start on aggregates. Each kind therefore gets its own
// struct and messages are probed by "ev" before the full unmarshal.
type tradeMessage struct {
	Sym   string  `json:"sym"`
	Price float64 `json:"p"`
	Size  float64 `json:"s"`
	T     int64   `json:"t"`
}

type quoteMessage struct {
	Sym  string  `json:"sym"`
	BidP float64 `json:"bp"`
	BidS float64 `json:"bs"`
	AskP float64 `json:"ap"`
	AskS float64 `json:"as"`
	T    int64   `json:"t"`
}

type aggregateMessage struct {
	Sym    string  `json:"sym"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	Start  int64   `json:"s"`
	End    int64   `json:"e"`
}

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Decode parses one inbound frame. Polygon batches multiple logical messages
// into one array frame; ordering within the frame is preserved. A bare object
// frame is accepted as a batch of one. Unrecognized "ev" values map to
// KindUnknown.
func (a *Adapter) Decode(raw []byte) ([]models.MarketEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		trimmed = append(append([]byte{'['}, trimmed...), ']')
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("polygon: decode frame: %w", err)
	}

	now := time.Now()
	events := make([]models.MarketEvent, 0, len(items))
	for _, item := range items {
		event, err := a.normalize(item, now)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (a *Adapter) normalize(item json.RawMessage, now time.Time) (models.MarketEvent, error) {
	var probe struct {
		Ev string `json:"ev"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return models.MarketEvent{}, fmt.Errorf("polygon: decode message: %w", err)
	}

	event := models.MarketEvent{Feed: a.Name(), ReceivedAt: now}

	switch probe.Ev {
	case evTrade:
		var msg tradeMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			return models.MarketEvent{}, fmt.Errorf("polygon: decode trade: %w", err)
		}
		event.Kind = models.KindTrade
		event.Symbol = msg.Sym
		event.Timestamp = msg.T
		event.Trade = &models.TradeFields{Price: msg.Price, Size: msg.Size}
	case evQuote:
		var msg quoteMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			return models.MarketEvent{}, fmt.Errorf("polygon: decode quote: %w", err)
		}
		event.Kind = models.KindQuote
		event.Symbol = msg.Sym
		event.Timestamp = msg.T
		event.Quote = &models.QuoteFields{
			BidPrice: msg.BidP,
			BidSize:  msg.BidS,
			AskPrice: msg.AskP,
			AskSize:  msg.AskS,
		}
	case evAggregate:
		var msg aggregateMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			return models.MarketEvent{}, fmt.Errorf("polygon: decode aggregate: %w", err)
		}
		event.Kind = models.KindAggregate
		event.Symbol = msg.Sym
		event.Timestamp = msg.End
		event.Aggregate = &models.AggregateFields{
			Open:        msg.Open,
			High:        msg.High,
			Low:         msg.Low,
			Close:       msg.Close,
			Volume:      msg.Volume,
			WindowStart: msg.Start,
			WindowEnd:   msg.End,
		}
	case evStatus:
		var msg statusMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			return models.MarketEvent{}, fmt.Errorf("polygon: decode status: %w", err)
		}
		event.Kind = models.KindStatus
		event.Status = &models.StatusFields{
			Status:  normalizeStatus(msg.Status),
			Message: msg.Message,
		}
	default:
		event.Kind = models.KindUnknown
	}
	return event, nil
}

func normalizeStatus(status string) string {
	switch status {
	case "connected":
		return models.StatusConnected
	case "auth_success":
		return models.StatusAuthSuccess
	case "auth_failed":
		return models.StatusAuthFailed
	default:
		return status
	}
}
