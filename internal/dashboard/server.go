package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/internal/collector"
	"marketpulse/internal/feed"
	"marketpulse/internal/market"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
)

// Sources bundles the live data the dashboard serves. Reference may be nil
// when the collector is disabled; its endpoints then return empty results.
type Sources struct {
	Market    *market.Store
	Reference *collector.Store
	Feeds     map[string]*feed.Manager
	Channels  *channel.Channels
}

// Server hosts the JSON API consumed by the browser dashboard.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	sources       Sources
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	sampler       *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is
// enabled. When it is disabled the returned server is nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, sources Sources) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		sources:       sources,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: handlerID,
		sampler:       newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("dashboard server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	s.sampler.stop()
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/quotes", s.handleQuotes)
	api.GET("/quotes/:symbol", s.handleQuote)
	api.GET("/aggregates/:ticker", s.handleAggregates)
	api.GET("/indicators/:ticker", s.handleIndicators)
	api.GET("/tickers/:ticker", s.handleTicker)
	api.GET("/news", s.handleNews)
	api.GET("/holidays", s.handleHolidays)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	return router, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	names := make([]string, 0, len(s.sources.Feeds))
	for name := range s.sources.Feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	feeds := make([]gin.H, 0, len(names))
	for _, name := range names {
		m := s.sources.Feeds[name]
		subs := m.Subscriptions()
		subPayload := make([]gin.H, 0, len(subs))
		for _, sub := range subs {
			subPayload = append(subPayload, gin.H{
				"symbol":   sub.Symbol,
				"channels": sub.Channels,
			})
		}

		entry := gin.H{
			"name":          name,
			"state":         m.State().String(),
			"subscriptions": subPayload,
		}
		if err := m.Err(); err != nil {
			entry["last_error"] = err.Error()
		}
		feeds = append(feeds, entry)
	}

	payload := gin.H{"feeds": feeds}
	if s.sources.Channels != nil {
		stats := s.sources.Channels.GetStats()
		payload["channels"] = gin.H{
			"events_sent":     stats.EventsSent,
			"batches_sent":    stats.BatchesSent,
			"events_dropped":  stats.EventsDropped,
			"batches_dropped": stats.BatchesDropped,
		}
	}
	if s.sources.Reference != nil {
		payload["last_collection"] = s.sources.Reference.LastFetch()
	}

	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleQuotes(c *gin.Context) {
	if s.sources.Market == nil {
		c.JSON(http.StatusOK, gin.H{"quotes": []market.Snapshot{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": s.sources.Market.All()})
}

func (s *Server) handleQuote(c *gin.Context) {
	symbol := c.Param("symbol")
	if s.sources.Market == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	snap, ok := s.sources.Market.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleAggregates(c *gin.Context) {
	ticker := c.Param("ticker")
	if s.sources.Reference == nil {
		c.JSON(http.StatusOK, gin.H{"ticker": ticker, "bars": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker": ticker,
		"bars":   s.sources.Reference.Aggregates(ticker),
	})
}

func (s *Server) handleIndicators(c *gin.Context) {
	ticker := c.Param("ticker")
	if s.sources.Reference == nil {
		c.JSON(http.StatusOK, gin.H{"ticker": ticker, "indicators": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker":     ticker,
		"indicators": s.sources.Reference.Indicators(ticker),
	})
}

func (s *Server) handleTicker(c *gin.Context) {
	ticker := c.Param("ticker")
	if s.sources.Reference == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ticker"})
		return
	}
	info, ok := s.sources.Reference.Ticker(ticker)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ticker"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticker":    info,
		"dividends": s.sources.Reference.Dividends(ticker),
		"splits":    s.sources.Reference.Splits(ticker),
	})
}

func (s *Server) handleNews(c *gin.Context) {
	if s.sources.Reference == nil {
		c.JSON(http.StatusOK, gin.H{"news": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"news": s.sources.Reference.News()})
}

func (s *Server) handleHolidays(c *gin.Context) {
	if s.sources.Reference == nil {
		c.JSON(http.StatusOK, gin.H{"holidays": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holidays": s.sources.Reference.Holidays()})
}

func (s *Server) handleMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleLogs(c *gin.Context) {
	snapshot := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, l := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	snapshots := s.sampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_used":    snap.MemoryUsed,
			"memory_total":   snap.MemoryTotal,
			"memory_percent": snap.MemoryPct,
			"disk_used":      snap.DiskUsed,
			"disk_total":     snap.DiskTotal,
			"disk_percent":   snap.DiskPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
