package collector

import (
	"context"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

// Store holds the most recent reference data per ticker. All reads return
// copies.
type Store struct {
	mu         sync.RWMutex
	aggregates map[string][]models.AggregateBar
	indicators map[string][]models.IndicatorPoint
	tickers    map[string]models.TickerInfo
	dividends  map[string][]models.Dividend
	splits     map[string][]models.Split
	news       []models.NewsArticle
	holidays   []models.MarketHoliday
	lastFetch  time.Time
}

func newStore() *Store {
	return &Store{
		aggregates: make(map[string][]models.AggregateBar),
		indicators: make(map[string][]models.IndicatorPoint),
		tickers:    make(map[string]models.TickerInfo),
		dividends:  make(map[string][]models.Dividend),
		splits:     make(map[string][]models.Split),
	}
}

func (s *Store) Aggregates(ticker string) []models.AggregateBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AggregateBar(nil), s.aggregates[ticker]...)
}

func (s *Store) Indicators(ticker string) []models.IndicatorPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.IndicatorPoint(nil), s.indicators[ticker]...)
}

func (s *Store) Ticker(ticker string) (models.TickerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tickers[ticker]
	return info, ok
}

func (s *Store) Dividends(ticker string) []models.Dividend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Dividend(nil), s.dividends[ticker]...)
}

func (s *Store) Splits(ticker string) []models.Split {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Split(nil), s.splits[ticker]...)
}

func (s *Store) News() []models.NewsArticle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.NewsArticle(nil), s.news...)
}

func (s *Store) Holidays() []models.MarketHoliday {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MarketHoliday(nil), s.holidays...)
}

func (s *Store) LastFetch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetch
}

// Collector periodically pulls aggregates, indicators, reference data and
// news for the configured tickers and keeps the latest results in its store
// for the dashboard API.
type Collector struct {
	cfg    config.CollectorConfig
	client *Client
	store  *Store
	log    *logger.Entry
}

func New(cfg config.CollectorConfig) *Collector {
	return &Collector{
		cfg:    cfg,
		client: NewClient(cfg),
		store:  newStore(),
		log:    logger.GetLogger().WithComponent("collector"),
	}
}

// Store exposes the collected reference data.
func (c *Collector) Store() *Store {
	return c.store
}

// Run fetches immediately, then on every interval tick, until the context is
// cancelled.
func (c *Collector) Run(ctx context.Context) {
	interval := c.cfg.FetchInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	c.fetchAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetchAll(ctx)
		}
	}
}

func (c *Collector) fetchAll(ctx context.Context) {
	start := time.Now()
	var fetched, failed int

	lookback := c.cfg.Aggregates.LookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	timespan := c.cfg.Aggregates.Timespan
	if timespan == "" {
		timespan = "day"
	}
	multiplier := c.cfg.Aggregates.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	to := time.Now()
	from := to.AddDate(0, 0, -lookback)

	for _, ticker := range c.cfg.Tickers {
		if ctx.Err() != nil {
			return
		}

		if bars, err := c.client.Aggregates(ctx, ticker, multiplier, timespan, from, to); err != nil {
			c.log.WithError(err).WithField("ticker", ticker).Warn("failed to fetch aggregates")
			failed++
		} else {
			c.store.mu.Lock()
			c.store.aggregates[ticker] = bars
			c.store.mu.Unlock()
			fetched++
		}

		var points []models.IndicatorPoint
		for _, indicator := range c.cfg.Indicators {
			values, err := c.client.Indicator(ctx, ticker, indicator, 14)
			if err != nil {
				c.log.WithError(err).WithFields(logger.Fields{
					"ticker":    ticker,
					"indicator": indicator,
				}).Warn("failed to fetch indicator")
				failed++
				continue
			}
			points = append(points, values...)
			fetched++
		}
		if len(points) > 0 {
			c.store.mu.Lock()
			c.store.indicators[ticker] = points
			c.store.mu.Unlock()
		}

		if info, err := c.client.TickerDetails(ctx, ticker); err != nil {
			c.log.WithError(err).WithField("ticker", ticker).Warn("failed to fetch ticker details")
			failed++
		} else {
			c.store.mu.Lock()
			c.store.tickers[ticker] = info
			c.store.mu.Unlock()
			fetched++
		}

		if dividends, err := c.client.Dividends(ctx, ticker); err != nil {
			c.log.WithError(err).WithField("ticker", ticker).Warn("failed to fetch dividends")
			failed++
		} else {
			c.store.mu.Lock()
			c.store.dividends[ticker] = dividends
			c.store.mu.Unlock()
			fetched++
		}

		if splits, err := c.client.Splits(ctx, ticker); err != nil {
			c.log.WithError(err).WithField("ticker", ticker).Warn("failed to fetch splits")
			failed++
		} else {
			c.store.mu.Lock()
			c.store.splits[ticker] = splits
			c.store.mu.Unlock()
			fetched++
		}
	}

	if articles, err := c.client.News(ctx, "", c.cfg.NewsLimit); err != nil {
		c.log.WithError(err).Warn("failed to fetch news")
		failed++
	} else {
		c.store.mu.Lock()
		c.store.news = articles
		c.store.mu.Unlock()
		fetched++
	}

	if holidays, err := c.client.MarketHolidays(ctx); err != nil {
		c.log.WithError(err).Warn("failed to fetch market holidays")
		failed++
	} else {
		c.store.mu.Lock()
		c.store.holidays = holidays
		c.store.mu.Unlock()
		fetched++
	}

	c.store.mu.Lock()
	c.store.lastFetch = time.Now()
	c.store.mu.Unlock()

	logger.IncrementCollectorFetches()
	metrics.Emit(nil, "collector", "CollectionCycle", fetched, "counter", logger.Fields{
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	c.log.WithFields(logger.Fields{
		"tickers":  len(c.cfg.Tickers),
		"fetched":  fetched,
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("collection cycle complete")
}
