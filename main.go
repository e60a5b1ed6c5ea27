package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/internal/collector"
	"marketpulse/internal/dashboard"
	"marketpulse/internal/feed"
	"marketpulse/internal/feed/coinbase"
	"marketpulse/internal/feed/polygon"
	"marketpulse/internal/market"
	binancereader "marketpulse/internal/reader/binance"
	"marketpulse/logger"
	"marketpulse/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	resolved := appconfig.ResolvePath(*configPath, "config/config.yml", map[string]string{
		appconfig.EnvironmentProduction: "config/config.prod.yml",
		appconfig.EnvironmentStaging:    "config/config.stag.yml",
	})

	cfg, err := appconfig.LoadConfig(resolved)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Logging.Namespace)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Marketpulse.Name,
		"version":     cfg.Marketpulse.Version,
		"environment": appconfig.AppEnvironment(),
	}).Info("starting marketpulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if interval, err := time.ParseDuration(cfg.Logging.ReportInterval); err == nil && interval > 0 {
		logger.StartReport(ctx, interval)
	}

	channels := channel.NewChannels(cfg.Channels.EventBuffer, cfg.Channels.BatchBuffer)

	marketStore := market.NewStore()

	var arch *writer.Archiver
	if cfg.Archiver.Enabled && cfg.Storage.S3.Enabled {
		arch, err = writer.New(cfg.Archiver, cfg.Storage.S3, cfg.Marketpulse.Version, channels)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archiver disabled; live events will not be persisted")
	}

	feeds := make(map[string]*feed.Manager)

	if cfg.Feeds.Polygon.Enabled {
		manager, err := feed.NewManager(feed.Options{
			URL:      cfg.Feeds.Polygon.URL,
			Adapter:  polygon.NewAdapter(cfg.Feeds.Polygon.APIKey),
			Policy:   feed.NewPolicy(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay, cfg.Reconnect.MaxAttempts),
			Channels: channels,
		})
		if err != nil {
			log.WithError(err).Error("failed to create polygon feed")
			os.Exit(1)
		}
		for _, symbol := range cfg.Feeds.Polygon.Symbols {
			if err := manager.Subscribe(symbol, cfg.Feeds.Polygon.Channels); err != nil {
				log.WithError(err).WithField("symbol", symbol).Warn("failed to track symbol")
			}
		}
		feeds["polygon"] = manager
	}

	if cfg.Feeds.Coinbase.Enabled {
		manager, err := feed.NewManager(feed.Options{
			URL:      cfg.Feeds.Coinbase.URL,
			Adapter:  coinbase.NewAdapter(),
			Policy:   feed.NewPolicy(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay, cfg.Reconnect.MaxAttempts),
			Channels: channels,
		})
		if err != nil {
			log.WithError(err).Error("failed to create coinbase feed")
			os.Exit(1)
		}
		for _, product := range cfg.Feeds.Coinbase.Products {
			if err := manager.Subscribe(product, cfg.Feeds.Coinbase.Channels); err != nil {
				log.WithError(err).WithField("product", product).Warn("failed to track product")
			}
		}
		feeds["coinbase"] = manager
	}

	var binanceReader *binancereader.Reader
	if cfg.Feeds.Binance.Enabled {
		binanceReader = binancereader.NewReader(cfg.Feeds.Binance, channels)
	}

	var coll *collector.Collector
	if cfg.Collector.Enabled {
		coll = collector.New(cfg.Collector)
	}

	var wg sync.WaitGroup

	// Dispatcher: every live event updates the market store and, when
	// archiving is on, lands in the archiver's buffers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-channels.Events:
				if !ok {
					return
				}
				marketStore.Apply(event)
				if arch != nil {
					arch.Add(event)
				}
			}
		}
	}()

	if arch != nil {
		if err := arch.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archiver")
			os.Exit(1)
		}
	}

	for name, manager := range feeds {
		if err := manager.Connect(ctx); err != nil {
			// The manager keeps retrying per its policy; a failed first dial
			// is not fatal.
			log.WithError(err).WithField("feed", name).Warn("initial connect failed")
		}
	}

	if binanceReader != nil {
		if err := binanceReader.Start(ctx); err != nil {
			log.WithError(err).Warn("binance reader failed to start")
			binanceReader = nil
		}
	}

	if coll != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll.Run(ctx)
		}()
	}

	var refStore *collector.Store
	if coll != nil {
		refStore = coll.Store()
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Sources{
		Market:    marketStore,
		Reference: refStore,
		Feeds:     feeds,
		Channels:  channels,
	})
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Error("dashboard server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	for name, manager := range feeds {
		log.WithField("feed", name).Info("disconnecting feed")
		manager.Disconnect()
	}

	cancel()

	if binanceReader != nil {
		binanceReader.Stop()
	}
	if arch != nil {
		arch.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	stats := channels.GetStats()
	log.WithFields(logger.Fields{
		"events_sent":    stats.EventsSent,
		"events_dropped": stats.EventsDropped,
		"batches_sent":   stats.BatchesSent,
	}).Info("marketpulse stopped")
}
