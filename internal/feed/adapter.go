package feed

import "marketpulse/models"

// Subscription is one tracked symbol together with the channel kinds
// requested for it (for example trades, quotes, minute aggregates).
type Subscription struct {
	Symbol   string
	Channels []string
}

// Adapter translates between one provider's wire protocol and the normalized
// event model. Adapters are stateless: all connection and subscription state
// lives in the Manager and Registry.
type Adapter interface {
	// Name identifies the feed in logs, metrics and emitted events.
	Name() string

	// RequiresAuth reports whether the provider expects an auth frame after
	// the socket opens, acknowledged by a status message, before
	// subscriptions may be sent.
	RequiresAuth() bool

	// AuthFrame builds the authentication frame. Only called when
	// RequiresAuth is true.
	AuthFrame() ([]byte, error)

	// SubscribeFrame builds one wire frame subscribing to the given
	// subscriptions.
	SubscribeFrame(subs []Subscription) ([]byte, error)

	// UnsubscribeFrame builds one wire frame unsubscribing from the given
	// subscriptions.
	UnsubscribeFrame(subs []Subscription) ([]byte, error)

	// Decode parses one raw inbound frame into zero or more normalized
	// events, preserving the order in which the provider batched them.
	// Unrecognized message kinds must map to models.KindUnknown rather
	// than an error; Decode errors are reserved for frames that cannot be
	// parsed at all.
	Decode(raw []byte) ([]models.MarketEvent, error)
}
