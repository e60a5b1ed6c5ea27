package coinbase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketpulse/internal/feed"
	"marketpulse/models"
)

// Adapter speaks the Coinbase Exchange websocket feed: subscribe commands are
// {"type":"subscribe","product_ids":[...],"channels":[...]} objects, inbound
// frames are single JSON objects discriminated by a "type" field with numeric
// values encoded as strings. The feed requires no authentication for public
// market data.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "coinbase" }

func (a *Adapter) RequiresAuth() bool { return false }

func (a *Adapter) AuthFrame() ([]byte, error) {
	return nil, fmt.Errorf("coinbase: feed does not authenticate")
}

type command struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func (a *Adapter) SubscribeFrame(subs []feed.Subscription) ([]byte, error) {
	return a.commandFrame("subscribe", subs)
}

func (a *Adapter) UnsubscribeFrame(subs []feed.Subscription) ([]byte, error) {
	return a.commandFrame("unsubscribe", subs)
}

func (a *Adapter) commandFrame(action string, subs []feed.Subscription) ([]byte, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("coinbase: no products to %s", action)
	}

	products := make([]string, 0, len(subs))
	channelSet := make(map[string]struct{})
	var channels []string
	for _, sub := range subs {
		products = append(products, sub.Symbol)
		requested := sub.Channels
		if len(requested) == 0 {
			requested = []string{"ticker"}
		}
		for _, ch := range requested {
			if _, ok := channelSet[ch]; !ok {
				channelSet[ch] = struct{}{}
				channels = append(channels, ch)
			}
		}
	}

	return json.Marshal(command{Type: action, ProductIDs: products, Channels: channels})
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	LastSize  string `json:"last_size"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

// Decode parses one inbound frame. A ticker message carries both the last
// trade and the current best bid/ask, so it expands to a Trade event followed
// by a Quote event for the same product. Subscription acks and heartbeats map
// to status events; unrecognized types map to KindUnknown.
func (a *Adapter) Decode(raw []byte) ([]models.MarketEvent, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("coinbase: decode frame: %w", err)
	}

	now := time.Now()
	switch msg.Type {
	case "ticker":
		return a.normalizeTicker(msg, now), nil
	case "subscriptions":
		return []models.MarketEvent{{
			Kind:       models.KindStatus,
			Feed:       a.Name(),
			ReceivedAt: now,
			Status:     &models.StatusFields{Status: models.StatusConnected, Message: "subscriptions confirmed"},
		}}, nil
	case "heartbeat":
		return []models.MarketEvent{{
			Kind:       models.KindStatus,
			Feed:       a.Name(),
			Symbol:     msg.ProductID,
			ReceivedAt: now,
			Status:     &models.StatusFields{Status: "heartbeat"},
		}}, nil
	case "error":
		message := msg.Message
		if msg.Reason != "" {
			message = message + ": " + msg.Reason
		}
		return []models.MarketEvent{{
			Kind:       models.KindError,
			Feed:       a.Name(),
			ReceivedAt: now,
			Status:     &models.StatusFields{Status: "error", Message: message},
		}}, nil
	default:
		return []models.MarketEvent{{
			Kind:       models.KindUnknown,
			Feed:       a.Name(),
			Symbol:     msg.ProductID,
			ReceivedAt: now,
		}}, nil
	}
}

func (a *Adapter) normalizeTicker(msg tickerMessage, now time.Time) []models.MarketEvent {
	timestamp := parseTime(msg.Time)

	events := make([]models.MarketEvent, 0, 2)

	price, priceErr := parseDecimal(msg.Price)
	size, _ := parseDecimal(msg.LastSize)
	if priceErr == nil {
		events = append(events, models.MarketEvent{
			Kind:       models.KindTrade,
			Feed:       a.Name(),
			Symbol:     msg.ProductID,
			Timestamp:  timestamp,
			ReceivedAt: now,
			Trade:      &models.TradeFields{Price: price, Size: size},
		})
	}

	bid, bidErr := parseDecimal(msg.BestBid)
	ask, askErr := parseDecimal(msg.BestAsk)
	if bidErr == nil && askErr == nil {
		events = append(events, models.MarketEvent{
			Kind:       models.KindQuote,
			Feed:       a.Name(),
			Symbol:     msg.ProductID,
			Timestamp:  timestamp,
			ReceivedAt: now,
			Quote:      &models.QuoteFields{BidPrice: bid, AskPrice: ask},
		})
	}

	return events
}

func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
