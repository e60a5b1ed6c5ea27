package writer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 30 * time.Second
)

// uploader persists one finished parquet file. The S3 implementation is the
// production path; tests substitute an in-memory one.
type uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

type s3Uploader struct {
	client      *s3.Client
	bucket      string
	compression string
	version     string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":        "parquet",
			"compression":         u.compression,
			"marketpulse-version": u.version,
		},
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}
	return nil
}

// Archiver buffers live market events per feed and symbol and periodically
// flushes them as parquet files to object storage. Flushed batches travel
// through the batch channel so uploading never blocks event intake.
type Archiver struct {
	cfg      appconfig.ArchiverConfig
	channels *channel.Channels
	store    uploader
	log      *logger.Log

	ctx         context.Context
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	buffer      map[string][]models.MarketEvent
	flushTicker *time.Ticker
}

// New builds an archiver backed by S3. Credentials come from the storage
// config, which in turn is populated from the environment.
func New(cfg appconfig.ArchiverConfig, storage appconfig.S3Config, version string, channels *channel.Channels) (*Archiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(storage.Region),
	}
	if storage.AccessKeyID != "" && storage.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				storage.AccessKeyID,
				storage.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(storage.Endpoint)
		}
		o.UsePathStyle = storage.PathStyle
	})

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":     storage.Bucket,
		"region":     storage.Region,
		"endpoint":   storage.Endpoint,
		"path_style": storage.PathStyle,
	}).Info("archiver initialized")

	return newArchiver(cfg, &s3Uploader{
		client:      client,
		bucket:      storage.Bucket,
		compression: cfg.Compression,
		version:     version,
	}, channels), nil
}

func newArchiver(cfg appconfig.ArchiverConfig, store uploader, channels *channel.Channels) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	return &Archiver{
		cfg:      cfg,
		channels: channels,
		store:    store,
		log:      logger.GetLogger(),
		buffer:   make(map[string][]models.MarketEvent),
	}
}

// Start launches the flush and upload workers.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)
	a.mu.Unlock()

	a.wg.Add(2)
	go a.flushWorker()
	go a.uploadWorker()

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"batch_size":     a.cfg.BatchSize,
		"flush_interval": a.cfg.FlushInterval.String(),
	}).Info("archiver started")
	return nil
}

// Stop waits for the workers to drain. The context passed to Start must be
// cancelled first.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.log.WithComponent("archiver").Info("archiver stopped")
}

// Add buffers one event for archival. Control traffic is not archived. When a
// symbol's buffer reaches the batch size it is flushed immediately.
func (a *Archiver) Add(event models.MarketEvent) {
	if !event.IsData() || event.Symbol == "" {
		return
	}

	key := bufferKey(event.Feed, event.Symbol)

	a.mu.Lock()
	a.buffer[key] = append(a.buffer[key], event)
	full := a.running && len(a.buffer[key]) >= a.cfg.BatchSize
	var entries []models.MarketEvent
	if full {
		entries = a.buffer[key]
		delete(a.buffer, key)
	}
	a.mu.Unlock()

	if full {
		a.dispatch(key, entries, false)
	}
}

func bufferKey(feed, symbol string) string {
	return fmt.Sprintf("%s|%s", feed, symbol)
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flushBuffers("shutdown", true)
			log.Info("flush worker stopped")
			return
		case <-a.flushTicker.C:
			a.flushBuffers("interval", false)
		}
	}
}

func (a *Archiver) flushBuffers(reason string, inline bool) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.MarketEvent)
	a.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Debug("flushing buffers")

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		a.dispatch(key, entries, inline)
	}
}

// dispatch wraps buffered entries into a batch and hands it to the upload
// worker. During shutdown the upload worker may already be gone, so the batch
// is processed inline; the same fallback covers a full batch channel.
func (a *Archiver) dispatch(key string, entries []models.MarketEvent, inline bool) {
	parts := strings.SplitN(key, "|", 2)
	batch := models.EventBatch{
		BatchID:     uuid.New().String(),
		Feed:        parts[0],
		Symbol:      parts[1],
		Entries:     entries,
		RecordCount: len(entries),
		Timestamp:   time.Now().UTC(),
	}

	if inline || !a.channels.SendBatch(a.ctx, batch) {
		a.processBatch(batch)
	}
}

func (a *Archiver) uploadWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "upload"})
	log.Info("starting upload worker")

	for {
		select {
		case <-a.ctx.Done():
			// Drain batches the flush worker queued during shutdown.
			for {
				select {
				case batch := <-a.channels.Batches:
					a.processBatch(batch)
				default:
					log.Info("upload worker stopped")
					return
				}
			}
		case batch, ok := <-a.channels.Batches:
			if !ok {
				log.Info("batch channel closed, upload worker stopping")
				return
			}
			a.processBatch(batch)
		}
	}
}

func (a *Archiver) processBatch(batch models.EventBatch) {
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"feed":         batch.Feed,
		"symbol":       batch.Symbol,
		"record_count": batch.RecordCount,
	})

	if batch.RecordCount == 0 {
		log.Debug("batch has no records, skipping")
		return
	}

	key := generateKey(batch)
	log = log.WithFields(logger.Fields{"key": key})

	data, err := encodeParquet(batch.Entries, a.cfg.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	ctx := context.WithoutCancel(a.ctx)
	if err := a.store.Upload(ctx, key, data); err != nil {
		log.WithError(err).Error("failed to upload batch")
		return
	}

	logger.IncrementArchiveBatches(int64(batch.RecordCount))
	metrics.Emit(a.log, "archiver", "ArchivedBatch", batch.RecordCount, "counter", logger.Fields{
		"feed":      batch.Feed,
		"symbol":    batch.Symbol,
		"file_size": len(data),
	})

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("batch archived")
}

// generateKey builds the hive-partitioned object key for a batch.
func generateKey(batch models.EventBatch) string {
	ts := batch.Timestamp.UTC()
	return fmt.Sprintf("feed=%s/symbol=%s/date=%s/hour=%02d/marketpulse_%s_%s_%s.parquet",
		batch.Feed,
		batch.Symbol,
		ts.Format("2006-01-02"),
		ts.Hour(),
		batch.Feed,
		batch.Symbol,
		ts.Format("20060102150405"),
	)
}
