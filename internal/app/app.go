package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/bluray-scraper/internal/config"
	"github.com/maltedev/bluray-scraper/internal/database"
	"github.com/maltedev/bluray-scraper/internal/events"
	"github.com/maltedev/bluray-scraper/internal/fetch"
	"github.com/maltedev/bluray-scraper/internal/models"
	"github.com/maltedev/bluray-scraper/internal/objectstore"
	"github.com/maltedev/bluray-scraper/internal/parser"
	"github.com/maltedev/bluray-scraper/internal/pipeline"
	"github.com/maltedev/bluray-scraper/internal/ratelimit"
	"github.com/maltedev/bluray-scraper/internal/scraper"
	"github.com/maltedev/bluray-scraper/internal/storage"
)

var errPipelineStopped = errors.New("asset pipeline stopped")

type Crawler interface {
	Crawl(ctx context.Context, run *scraper.Run, years []int) (*scraper.Summary, error)
}

type AssetPipeline interface {
	Run(ctx context.Context, in <-chan *models.Record, sink pipeline.Sink) error
}

type RecordPublisher interface {
	PublishRecord(ctx context.Context, rec *models.Record) error
}

type OutboxFlusher interface {
	Flush(ctx context.Context) (int, error)
}

type Options struct {
	OutputDir string
	Series    scraper.Series
	Country   string
	// Buffer is the number of finished records that may wait for the
	// asset pipeline before the crawl blocks.
	Buffer int
}

// Service runs one crawl: seeds progress from prior output, feeds finished
// records through the asset pipeline and persists them.
type Service struct {
	crawler   Crawler
	assets    AssetPipeline
	publisher RecordPublisher
	flusher   OutboxFlusher
	opts      Options
	logger    *slog.Logger
}

func NewService(crawler Crawler, assets AssetPipeline, opts Options, logger *slog.Logger) *Service {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Service{
		crawler: crawler,
		assets:  assets,
		opts:    opts,
		logger:  logger.With("component", "service"),
	}
}

// WithPersistence makes completed records go to Postgres and the outbox to
// be flushed after each run. flusher may be nil.
func (s *Service) WithPersistence(publisher RecordPublisher, flusher OutboxFlusher) *Service {
	s.publisher = publisher
	s.flusher = flusher
	return s
}

// Run crawls years and returns the crawl summary. Output files are written
// even when the crawl aborts or ctx is canceled.
func (s *Service) Run(ctx context.Context, years []int, observe func(*scraper.Run)) (*scraper.Summary, error) {
	out, err := storage.OpenOutput(s.opts.OutputDir, s.opts.Series.Label(), s.opts.Country, years)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}

	known := out.URLs()
	progress := scraper.NewProgressSet(uint(len(known)))
	for _, u := range known {
		progress.Add(u)
	}

	records := make(chan *models.Record, s.opts.Buffer)
	pipeDone := make(chan struct{})
	var pipeErr error
	go func() {
		defer close(pipeDone)
		pipeErr = s.assets.Run(ctx, records, s.sink(out))
	}()

	emit := func(ctx context.Context, rec *models.Record) error {
		select {
		case records <- rec:
			return nil
		case <-pipeDone:
			return errPipelineStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run := scraper.NewRun(progress, emit)
	if observe != nil {
		observe(run)
	}

	summary, crawlErr := s.crawler.Crawl(ctx, run, years)
	close(records)
	<-pipeDone

	if pipeErr != nil && !errors.Is(pipeErr, context.Canceled) {
		s.logger.Error("asset pipeline failed", "run_id", run.ID, "error", pipeErr)
	} else {
		pipeErr = nil
	}

	saveErr := out.Save()
	if saveErr != nil {
		s.logger.Error("failed to save output", "run_id", run.ID, "error", saveErr)
	} else {
		s.logger.Info("output saved", "run_id", run.ID, "records", out.Len(), "dir", s.opts.OutputDir)
	}

	if s.flusher != nil {
		// ctx may already be canceled; the outbox holds what the run wrote
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		n, err := s.flusher.Flush(flushCtx)
		cancel()
		if err != nil {
			s.logger.Warn("failed to flush outbox", "run_id", run.ID, "error", err)
		} else if n > 0 {
			s.logger.Info("flushed outbox", "run_id", run.ID, "events", n)
		}
	}

	return summary, errors.Join(crawlErr, pipeErr, saveErr)
}

func (s *Service) sink(out *storage.Output) pipeline.Sink {
	return func(ctx context.Context, rec *models.Record) error {
		if err := out.Put(rec); err != nil {
			s.logger.Warn("failed to store record", "source_url", rec.SourceURL, "error", err)
			return nil
		}
		if s.publisher == nil {
			return nil
		}
		if err := s.publisher.PublishRecord(ctx, rec); err != nil {
			s.logger.Warn("failed to publish record", "source_url", rec.SourceURL, "error", err)
		}
		return nil
	}
}

// Components holds everything Build wires from config.
type Components struct {
	Service *Service
	DB      *database.DB
	Redis   *redis.Client
	Outbox  *database.OutboxRepository
	Relay   *database.Relay
}

func (c *Components) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

// Build wires the crawler, asset pipeline and optional persistence from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	series, err := scraper.ParseSeries(cfg.Crawl.Series)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewHostLimiter(cfg.Fetch.DownloadDelay, 1)
	fetcher := fetch.NewClient(fetch.Options{
		UserAgent:        cfg.Fetch.UserAgent,
		Timeout:          cfg.Fetch.Timeout,
		ProxyURL:         cfg.Fetch.EffectiveProxyURL(),
		ProxyInsecure:    cfg.Fetch.ZyteKey != "",
		CloudflareBypass: cfg.Fetch.CloudflareBypass,
		Limiter:          limiter,
	}, logger)

	crawler := scraper.New(fetcher, parser.NewCatalogExtractor(cfg.Crawl.BaseURL), scraper.Options{
		Origin:                cfg.Crawl.BaseURL,
		Series:                series,
		Country:               cfg.Crawl.Country,
		PageSize:              cfg.Crawl.PageSize,
		Workers:               cfg.Crawl.Workers,
		PriceTrackerURL:       cfg.Match.PriceTrackerURL,
		MarketplaceURL:        cfg.Match.MarketplaceURL,
		MarketplaceMaxResults: cfg.Match.MaxResults,
		MatchThreshold:        cfg.Match.Threshold,
		KnownBad:              cfg.Match.KnownBadAssets,
	}, logger)

	store, err := NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	assets := pipeline.New(fetcher, store, pipeline.Options{
		KeyPrefix:        cfg.Storage.KeyPrefix,
		Workers:          cfg.Storage.AssetWorkers,
		AssetConcurrency: cfg.Storage.AssetWorkers,
		KnownBad:         cfg.Match.KnownBadAssets,
	}, logger)

	c := &Components{
		Service: NewService(crawler, assets, Options{
			OutputDir: cfg.Crawl.OutputDir,
			Series:    series,
			Country:   cfg.Crawl.Country,
		}, logger),
	}

	if cfg.Database.URL == "" {
		return c, nil
	}

	if err := c.connect(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	var flusher OutboxFlusher
	if c.Relay != nil {
		flusher = c.Relay
	}
	c.Service.WithPersistence(events.NewPublisher(c.DB, logger), flusher)
	return c, nil
}

// BuildRelay connects only what the standalone relay needs.
func BuildRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg.Database.URL == "" || cfg.Redis.Addr == "" {
		return nil, errors.New("relay requires DATABASE_URL and REDIS_ADDR")
	}
	c := &Components{}
	if err := c.connect(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	c.Outbox = database.NewOutboxRepository(db)

	if cfg.Redis.Addr == "" {
		return nil
	}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.Relay = database.NewRelay(c.Outbox, c.Redis, logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		StreamMaxLen: cfg.Redis.StreamMaxLen,
	})
	return nil
}

// NewStore returns the configured object store wrapped in the upload retry
// policy.
func NewStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (objectstore.Store, error) {
	var store objectstore.Store
	switch cfg.Backend {
	case "s3":
		s3Store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		store = s3Store
	case "local", "":
		store = objectstore.NewLocalStore(cfg.Dir, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	return objectstore.NewRetryingStore(store, objectstore.RetryConfig{
		Attempts: cfg.UploadAttempts,
		Base:     cfg.UploadBackoffBase,
	}, logger), nil
}
