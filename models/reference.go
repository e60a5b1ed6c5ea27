package models

// Reference data collected from the equities provider's REST API. These
// mirror the provider's response shapes after normalization and are served
// as-is by the dashboard API.

// AggregateBar is one historical OHLCV bar for a ticker.
type AggregateBar struct {
	Ticker       string  `json:"ticker"`
	Timestamp    int64   `json:"timestamp"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	VWAP         float64 `json:"vwap,omitempty"`
	Timespan     string  `json:"timespan"`
	Multiplier   int     `json:"multiplier"`
	Transactions int64   `json:"transactions,omitempty"`
}

// IndicatorPoint is one value of a provider-computed technical indicator.
// Signal and Histogram are only populated for MACD.
type IndicatorPoint struct {
	Ticker    string  `json:"ticker"`
	Indicator string  `json:"indicator"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal,omitempty"`
	Histogram float64 `json:"histogram,omitempty"`
}

// TickerInfo is reference metadata for one listed ticker.
type TickerInfo struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Market          string `json:"market"`
	Locale          string `json:"locale"`
	PrimaryExchange string `json:"primary_exchange"`
	Type            string `json:"type"`
	Active          bool   `json:"active"`
	CurrencyName    string `json:"currency_name"`
}

// NewsArticle is one published news item, optionally tied to tickers.
type NewsArticle struct {
	ID           string   `json:"id"`
	Tickers      []string `json:"tickers"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	PublishedUTC string   `json:"published_utc"`
	ArticleURL   string   `json:"article_url"`
	ImageURL     string   `json:"image_url,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// Dividend is one cash dividend record.
type Dividend struct {
	Ticker         string  `json:"ticker"`
	ExDividendDate string  `json:"ex_dividend_date"`
	PaymentDate    string  `json:"payment_date"`
	RecordDate     string  `json:"record_date"`
	CashAmount     float64 `json:"cash_amount"`
	Currency       string  `json:"currency"`
}

// Split is one stock split record.
type Split struct {
	Ticker        string  `json:"ticker"`
	ExecutionDate string  `json:"execution_date"`
	SplitFrom     float64 `json:"split_from"`
	SplitTo       float64 `json:"split_to"`
}

// MarketHoliday is one upcoming market holiday or shortened session.
type MarketHoliday struct {
	Date     string `json:"date"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Status   string `json:"status"`
}
