package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

const defaultTimeout = 15 * time.Second

// Client is a rate-limited HTTP client for the equities provider's REST API.
// Every request waits on the shared limiter so bursts of collection cycles
// never exceed the configured request budget.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func NewClient(cfg config.CollectorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger().WithComponent("collector.client"),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", c.apiKey)

	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type aggregatesResponse struct {
	Ticker  string `json:"ticker"`
	Results []struct {
		Open         float64 `json:"o"`
		High         float64 `json:"h"`
		Low          float64 `json:"l"`
		Close        float64 `json:"c"`
		Volume       float64 `json:"v"`
		VWAP         float64 `json:"vw"`
		Timestamp    int64   `json:"t"`
		Transactions int64   `json:"n"`
	} `json:"results"`
}

// Aggregates fetches historical OHLCV bars for a ticker over [from, to].
func (c *Client) Aggregates(ctx context.Context, ticker string, multiplier int, timespan string, from, to time.Time) ([]models.AggregateBar, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		ticker, multiplier, timespan, from.Format("2006-01-02"), to.Format("2006-01-02"))

	query := url.Values{}
	query.Set("adjusted", "true")
	query.Set("sort", "asc")

	var resp aggregatesResponse
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.AggregateBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, models.AggregateBar{
			Ticker:       ticker,
			Timestamp:    r.Timestamp,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			VWAP:         r.VWAP,
			Timespan:     timespan,
			Multiplier:   multiplier,
			Transactions: r.Transactions,
		})
	}
	return bars, nil
}

type indicatorResponse struct {
	Results struct {
		Values []struct {
			Timestamp int64   `json:"timestamp"`
			Value     float64 `json:"value"`
			Signal    float64 `json:"signal"`
			Histogram float64 `json:"histogram"`
		} `json:"values"`
	} `json:"results"`
}

// Indicator fetches a provider-computed technical indicator (sma, ema, rsi or
// macd) for a ticker. The provider does all the math; values are served
// as-is.
func (c *Client) Indicator(ctx context.Context, ticker, indicator string, window int) ([]models.IndicatorPoint, error) {
	switch indicator {
	case "sma", "ema", "rsi", "macd":
	default:
		return nil, fmt.Errorf("unsupported indicator %q", indicator)
	}

	query := url.Values{}
	query.Set("timespan", "day")
	query.Set("series_type", "close")
	query.Set("order", "desc")
	if window > 0 && indicator != "macd" {
		query.Set("window", strconv.Itoa(window))
	}

	var resp indicatorResponse
	if err := c.get(ctx, "/v1/indicators/"+indicator+"/"+ticker, query, &resp); err != nil {
		return nil, err
	}

	points := make([]models.IndicatorPoint, 0, len(resp.Results.Values))
	for _, v := range resp.Results.Values {
		points = append(points, models.IndicatorPoint{
			Ticker:    ticker,
			Indicator: indicator,
			Timestamp: v.Timestamp,
			Value:     v.Value,
			Signal:    v.Signal,
			Histogram: v.Histogram,
		})
	}
	return points, nil
}

type newsResponse struct {
	Results []struct {
		ID           string   `json:"id"`
		Tickers      []string `json:"tickers"`
		Title        string   `json:"title"`
		Author       string   `json:"author"`
		PublishedUTC string   `json:"published_utc"`
		ArticleURL   string   `json:"article_url"`
		ImageURL     string   `json:"image_url"`
		Description  string   `json:"description"`
	} `json:"results"`
}

// News fetches recent news articles, optionally filtered to one ticker.
func (c *Client) News(ctx context.Context, ticker string, limit int) ([]models.NewsArticle, error) {
	query := url.Values{}
	if ticker != "" {
		query.Set("ticker", ticker)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	query.Set("order", "desc")

	var resp newsResponse
	if err := c.get(ctx, "/v2/reference/news", query, &resp); err != nil {
		return nil, err
	}

	articles := make([]models.NewsArticle, 0, len(resp.Results))
	for _, r := range resp.Results {
		articles = append(articles, models.NewsArticle{
			ID:           r.ID,
			Tickers:      r.Tickers,
			Title:        r.Title,
			Author:       r.Author,
			PublishedUTC: r.PublishedUTC,
			ArticleURL:   r.ArticleURL,
			ImageURL:     r.ImageURL,
			Description:  r.Description,
		})
	}
	return articles, nil
}

type tickerDetailsResponse struct {
	Results struct {
		Ticker          string `json:"ticker"`
		Name            string `json:"name"`
		Market          string `json:"market"`
		Locale          string `json:"locale"`
		PrimaryExchange string `json:"primary_exchange"`
		Type            string `json:"type"`
		Active          bool   `json:"active"`
		CurrencyName    string `json:"currency_name"`
	} `json:"results"`
}

// TickerDetails fetches reference metadata for one ticker.
func (c *Client) TickerDetails(ctx context.Context, ticker string) (models.TickerInfo, error) {
	var resp tickerDetailsResponse
	if err := c.get(ctx, "/v3/reference/tickers/"+ticker, nil, &resp); err != nil {
		return models.TickerInfo{}, err
	}

	r := resp.Results
	return models.TickerInfo{
		Ticker:          r.Ticker,
		Name:            r.Name,
		Market:          r.Market,
		Locale:          r.Locale,
		PrimaryExchange: r.PrimaryExchange,
		Type:            r.Type,
		Active:          r.Active,
		CurrencyName:    r.CurrencyName,
	}, nil
}

type dividendsResponse struct {
	Results []struct {
		Ticker         string  `json:"ticker"`
		ExDividendDate string  `json:"ex_dividend_date"`
		PayDate        string  `json:"pay_date"`
		RecordDate     string  `json:"record_date"`
		CashAmount     float64 `json:"cash_amount"`
		Currency       string  `json:"currency"`
	} `json:"results"`
}

// Dividends fetches cash dividend records for a ticker.
func (c *Client) Dividends(ctx context.Context, ticker string) ([]models.Dividend, error) {
	query := url.Values{}
	query.Set("ticker", ticker)

	var resp dividendsResponse
	if err := c.get(ctx, "/v3/reference/dividends", query, &resp); err != nil {
		return nil, err
	}

	dividends := make([]models.Dividend, 0, len(resp.Results))
	for _, r := range resp.Results {
		dividends = append(dividends, models.Dividend{
			Ticker:         r.Ticker,
			ExDividendDate: r.ExDividendDate,
			PaymentDate:    r.PayDate,
			RecordDate:     r.RecordDate,
			CashAmount:     r.CashAmount,
			Currency:       r.Currency,
		})
	}
	return dividends, nil
}

type splitsResponse struct {
	Results []struct {
		Ticker        string  `json:"ticker"`
		ExecutionDate string  `json:"execution_date"`
		SplitFrom     float64 `json:"split_from"`
		SplitTo       float64 `json:"split_to"`
	} `json:"results"`
}

// Splits fetches stock split records for a ticker.
func (c *Client) Splits(ctx context.Context, ticker string) ([]models.Split, error) {
	query := url.Values{}
	query.Set("ticker", ticker)

	var resp splitsResponse
	if err := c.get(ctx, "/v3/reference/splits", query, &resp); err != nil {
		return nil, err
	}

	splits := make([]models.Split, 0, len(resp.Results))
	for _, r := range resp.Results {
		splits = append(splits, models.Split{
			Ticker:        r.Ticker,
			ExecutionDate: r.ExecutionDate,
			SplitFrom:     r.SplitFrom,
			SplitTo:       r.SplitTo,
		})
	}
	return splits, nil
}

// MarketHolidays fetches upcoming market holidays and shortened sessions.
// This endpoint returns a bare array rather than a results envelope.
func (c *Client) MarketHolidays(ctx context.Context) ([]models.MarketHoliday, error) {
	var raw []struct {
		Date     string `json:"date"`
		Name     string `json:"name"`
		Exchange string `json:"exchange"`
		Status   string `json:"status"`
	}
	if err := c.get(ctx, "/v1/marketstatus/upcoming", nil, &raw); err != nil {
		return nil, err
	}

	holidays := make([]models.MarketHoliday, 0, len(raw))
	for _, r := range raw {
		holidays = append(holidays, models.MarketHoliday{
			Date:     r.Date,
			Name:     r.Name,
			Exchange: r.Exchange,
			Status:   r.Status,
		})
	}
	return holidays, nil
}
