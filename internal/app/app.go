// Package app builds the long-lived services of an ingestion process from
// configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/api"
	"github.com/JakeFAU/openperu-ingest/internal/bills"
	"github.com/JakeFAU/openperu-ingest/internal/clock/system"
	"github.com/JakeFAU/openperu-ingest/internal/config"
	"github.com/JakeFAU/openperu-ingest/internal/congress"
	"github.com/JakeFAU/openperu-ingest/internal/congresspeople"
	"github.com/JakeFAU/openperu-ingest/internal/directory"
	"github.com/JakeFAU/openperu-ingest/internal/doccache"
	"github.com/JakeFAU/openperu-ingest/internal/fetch"
	collyfetcher "github.com/JakeFAU/openperu-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/openperu-ingest/internal/id/uuid"
	"github.com/JakeFAU/openperu-ingest/internal/ingest"
	"github.com/JakeFAU/openperu-ingest/internal/memberships"
	"github.com/JakeFAU/openperu-ingest/internal/ocr"
	"github.com/JakeFAU/openperu-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/openperu-ingest/internal/sink/jsonl"
	"github.com/JakeFAU/openperu-ingest/internal/sink/memory"
	"github.com/JakeFAU/openperu-ingest/internal/sink/postgres"
	"github.com/JakeFAU/openperu-ingest/internal/sink/pubsub"
	"github.com/JakeFAU/openperu-ingest/internal/telemetry"
)

// Version is stamped into trace resources.
var Version = "dev"

// App holds the services shared by the CLI commands.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	pipeline *ingest.Pipeline
	tracker  *ingest.Tracker
	store    doccache.Store
	sink     congress.RecordSink
	closers  []func(context.Context) error
}

// New wires every component described by cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, tracker: ingest.NewTracker()}
	started := false
	defer func() {
		if !started {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Enabled:     cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func(ctx context.Context) error { return tp.Shutdown(ctx) })

	orchestrator, err := a.buildOrchestrator()
	if err != nil {
		return nil, err
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	cache, err := a.buildCache(store, orchestrator)
	if err != nil {
		return nil, err
	}

	sink, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	a.sink = sink

	regs := ingest.NewRegistries(logger)
	if err := a.seedRegistries(ctx, regs); err != nil {
		return nil, err
	}
	bancadas := regs.Organizations[congress.OrgBancada]

	dir, err := a.loadDirectory()
	if err != nil {
		return nil, err
	}
	normalizer, err := bills.NewNormalizer(bills.Config{
		BaseURL:              cfg.Source.BaseURL,
		ClassifyWorkers:      cfg.OCR.ClassifyWorkers,
		BackfillCompleteText: cfg.OCR.BackfillCompleteText,
	}, bills.Deps{
		Directory:  dir,
		Classifier: ocr.NewClassifier(cache, logger),
		Texts:      cache,
		Bancadas:   bancadas,
		Committees: regs.Organizations[congress.OrgCommittee],
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	scraper, err := congresspeople.New(cfg.Source.DirectoryURL, orchestrator, regs.Parties, bancadas, logger)
	if err != nil {
		return nil, fmt.Errorf("build congressperson scraper: %w", err)
	}

	deps := ingest.Deps{
		Fetcher:       orchestrator,
		Normalizer:    normalizer,
		People:        scraper,
		Sink:          sink,
		Organizations: regs.Ledgers(),
		Parties:       regs.Parties,
		Clock:         system.New(),
		IDs:           uuid.New(),
		Tracker:       a.tracker,
	}
	if cfg.Ingest.Memberships {
		resolvers := make(map[congress.OrgKind]memberships.Resolver, len(regs.Organizations))
		for kind, r := range regs.Organizations {
			resolvers[kind] = r
		}
		deps.Memberships, err = memberships.New(orchestrator, resolvers, logger)
		if err != nil {
			return nil, fmt.Errorf("build membership scraper: %w", err)
		}
	}
	if cfg.Ingest.ArchiveRaw {
		archive, ok := sink.(congress.RawArchive)
		if !ok {
			return nil, fmt.Errorf("sink %q cannot archive raw bills", cfg.Sink.Backend)
		}
		deps.Archive = archive
	}

	a.pipeline, err = ingest.New(ingest.Config{
		BaseURL:   cfg.Source.BaseURL,
		BatchSize: cfg.Ingest.BatchSize,
		Workers:   cfg.Ingest.Concurrency,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("cache", cfg.Cache.Backend),
		zap.String("sink", cfg.Sink.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.String("ocr_engine", cfg.OCR.Engine),
		zap.String("renderer", cfg.OCR.Renderer),
		zap.Bool("memberships", cfg.Ingest.Memberships),
		zap.Bool("archive_raw", cfg.Ingest.ArchiveRaw),
	)
	started = true
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Tracker returns the live run tally.
func (a *App) Tracker() *ingest.Tracker { return a.tracker }

// IngestBills runs the bill pipeline over refs.
func (a *App) IngestBills(ctx context.Context, refs []ingest.BillRef) (ingest.Summary, error) {
	return a.pipeline.IngestBills(ctx, refs)
}

// IngestCongresspeople scrapes every legislative period.
func (a *App) IngestCongresspeople(ctx context.Context) (ingest.Summary, error) {
	return a.pipeline.IngestCongresspeople(ctx)
}

// OpsServer builds the operator HTTP surface. Readiness checks the
// document cache store.
func (a *App) OpsServer() *api.Server {
	checks := map[string]api.ReadinessCheck{
		"doccache": func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_, _, err := a.store.Get(ctx, "readyz-check.txt")
			return err
		},
	}
	return api.NewServer(api.Config{APIKey: a.cfg.Server.APIKey}, a.tracker, checks, a.logger)
}

// Close releases services in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildOrchestrator() (*fetch.Orchestrator, error) {
	cfg := a.cfg
	var policy fetch.RetryPolicy = &fetch.FixedRetryPolicy{
		MaxAttempts: cfg.HTTP.MaxAttempts,
		Delay:       cfg.BackoffInitial(),
	}
	if cfg.BackoffMax() > 0 {
		policy = fetch.NewExponentialRetryPolicy(cfg.HTTP.MaxAttempts, cfg.BackoffInitial(), cfg.BackoffMax())
	}
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:          cfg.HTTP.UserAgent,
		Timeout:            cfg.RequestTimeout(),
		ConnectTimeout:     cfg.ConnectTimeout(),
		MaxBodySize:        cfg.HTTP.MaxBodyBytes,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	})
	o, err := fetch.New(transport, policy, fetch.Config{
		Concurrency: cfg.HTTP.Concurrency,
		Timeout:     cfg.RequestTimeout(),
		Limiter:     ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RatePerHost, DefaultBurst: cfg.HTTP.Burst}),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return o, nil
}

func (a *App) buildStore(ctx context.Context) (doccache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		return doccache.NewGCSStore(client, a.cfg.Cache.GCSBucket, a.cfg.Cache.GCSPrefix)
	case "memory":
		return doccache.NewMemoryStore(), nil
	default:
		return doccache.NewFSStore(a.cfg.Cache.Dir)
	}
}

func (a *App) buildCache(store doccache.Store, downloader ocr.Downloader) (*doccache.Cache, error) {
	cfg := a.cfg.OCR
	engineCfg := ocr.EngineConfig{
		Languages:      cfg.Languages,
		PageSegMode:    cfg.PSM,
		TessdataPrefix: cfg.TessdataPrefix,
	}
	var engine ocr.Engine = ocr.NewTesseractEngine(engineCfg)
	if cfg.Engine == "cli" {
		engine = ocr.NewCLIEngine(cfg.TesseractBinary, engineCfg)
	}
	renderer, err := ocr.NewRenderer(cfg.Renderer, cfg.RendererBinary, cfg.DPI)
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}
	extractor, err := ocr.NewExtractor(
		downloader,
		renderer,
		engine,
		ocr.ExtractorConfig{Threshold: uint8(cfg.Threshold), Workers: cfg.Workers},
		a.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	cache, err := doccache.New(store, extractor, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build document cache: %w", err)
	}
	return cache, nil
}

func (a *App) buildSink(ctx context.Context) (congress.RecordSink, error) {
	var sink congress.RecordSink
	switch a.cfg.Sink.Backend {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:         a.cfg.Sink.DSN,
			TablePrefix: a.cfg.Sink.TablePrefix,
			MaxConns:    a.cfg.Sink.MaxConns,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		if a.cfg.Sink.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		sink = store
	case "memory":
		sink = memory.New()
	default:
		s, err := jsonl.New(a.cfg.Sink.OutputDir, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		sink = s
	}
	if a.cfg.PubSub.Enabled {
		notifier, err := pubsub.Dial(ctx, sink, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicID, a.logger)
		if err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("open pubsub notifier: %w", err)
		}
		sink = notifier
	}
	a.onClose(func(context.Context) error { return sink.Close() })
	return sink, nil
}

// seedRegistries loads the organizations and parties earlier runs stored
// so identifiers stay stable across runs.
func (a *App) seedRegistries(ctx context.Context, regs ingest.Registries) error {
	src, ok := a.sink.(congress.RecordSource)
	if !ok {
		a.logger.Warn("sink cannot read back organizations; ids restart at 1", zap.String("sink", a.cfg.Sink.Backend))
		return nil
	}
	orgs, err := src.LoadOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("load stored organizations: %w", err)
	}
	parties, err := src.LoadParties(ctx)
	if err != nil {
		return fmt.Errorf("load stored parties: %w", err)
	}
	regs.Seed(orgs, parties)
	a.logger.Info("registries seeded", zap.Int("organizations", len(orgs)), zap.Int("parties", len(parties)))
	return nil
}

// loadDirectory reads the congressperson directory written by a previous
// congresspeople run. Without one, every author id stays null.
func (a *App) loadDirectory() (*directory.Directory, error) {
	path := a.cfg.Ingest.DirectoryPath
	if path == "" {
		return directory.New(nil), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("congressperson directory not found; author ids will be null", zap.String("path", path))
		return directory.New(nil), nil
	}
	dir, err := directory.Load(path)
	if err != nil {
		return nil, err
	}
	a.logger.Info("congressperson directory loaded", zap.String("path", path), zap.Int("urls", dir.Len()))
	return dir, nil
}
