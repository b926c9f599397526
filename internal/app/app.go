// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/api"
	"github.com/JakeFAU/ooi-harvest-request/internal/checker"
	"github.com/JakeFAU/ooi-harvest-request/internal/clock/system"
	"github.com/JakeFAU/ooi-harvest-request/internal/config"
	"github.com/JakeFAU/ooi-harvest-request/internal/existing"
	collyfetcher "github.com/JakeFAU/ooi-harvest-request/internal/fetcher/colly"
	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/id/uuid"
	"github.com/JakeFAU/ooi-harvest-request/internal/initiator"
	"github.com/JakeFAU/ooi-harvest-request/internal/metrics"
	"github.com/JakeFAU/ooi-harvest-request/internal/ooi"
	"github.com/JakeFAU/ooi-harvest-request/internal/policy/ratelimit"
	"github.com/JakeFAU/ooi-harvest-request/internal/producer"
	pubsubpublisher "github.com/JakeFAU/ooi-harvest-request/internal/publisher/pubsub"
	"github.com/JakeFAU/ooi-harvest-request/internal/state"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/gcs"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/local"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/postgres"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/s3"
	"github.com/JakeFAU/ooi-harvest-request/internal/watch"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once per command and closed when the command finishes.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	client   *ooi.Client
	state    *state.Store
	producer *producer.Producer

	ledger    *postgres.LedgerStore
	publisher *pubsubpublisher.Publisher

	gcsMu     sync.Mutex
	gcsClient *gcstorage.Client
}

// New creates the services described by cfg. Optional side channels (ledger,
// Pub/Sub, pushgateway) are only built when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.OOI.RateLimit.RPS,
		DefaultBurst: cfg.OOI.RateLimit.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.OOI.UserAgent,
		Timeout:     cfg.OOI.Timeout,
		MaxBodySize: cfg.OOI.MaxBodySize,
	}, collyfetcher.WithLimiter(limiter))

	client, err := ooi.NewClient(ooi.Config{
		IndexURL:       cfg.OOI.IndexURL,
		M2MBaseURL:     cfg.OOI.M2MBaseURL,
		ThreddsBaseURL: cfg.OOI.ThreddsBaseURL,
		Username:       cfg.OOI.Username,
		Token:          cfg.OOI.Token,
	}, fetcher, a.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init ooi client: %w", err)
	}
	a.client = client
	if !cfg.OOI.HasCredentials() {
		logger.Warn("ooi credentials not configured; on-demand requests will be rejected")
	}

	backend, err := local.New(local.Config{BaseDir: cfg.State.Dir})
	if err != nil {
		return nil, fmt.Errorf("init state storage: %w", err)
	}
	a.state = state.New(backend, state.Paths{
		Response: cfg.State.ResponsePath,
		Status:   cfg.State.StatusPath,
	}, logger)

	probe := existing.NewProbe(a.Openers(), logger.Named("existing"))
	ini, err := initiator.New(client, client, probe, a.clock, logger)
	if err != nil {
		return nil, err
	}
	chk, err := checker.New(client, client, a.clock,
		checker.WithTimeout(cfg.Timeout.FallbackAfter),
		checker.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	reporters, err := a.buildReporters(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.producer, err = producer.New(producer.Deps{
		Index:     client,
		Initiator: ini,
		Checker:   chk,
		State:     a.state,
		Clock:     a.clock,
		IDs:       uuid.New(),
		Reporters: reporters,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildReporters(ctx context.Context) ([]producer.Reporter, error) {
	reporters := []producer.Reporter{
		producer.NewMetricsReporter(metrics.NewPusher(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job)),
	}
	if a.cfg.Notify.Topic != "" {
		a.logger.Info("publishing status events", zap.String("topic", a.cfg.Notify.Topic))
		pub, err := pubsubpublisher.NewFromProject(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.publisher = pub
		reporters = append(reporters, producer.NewPublishReporter(pub, ""))
	}
	if a.cfg.Ledger.DSN != "" {
		a.logger.Info("connecting to invocation ledger")
		ledger, err := postgres.NewLedgerStore(ctx, postgres.LedgerStoreConfig{
			DSN:   a.cfg.Ledger.DSN,
			Table: a.cfg.Ledger.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		a.ledger = ledger
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
		reporters = append(reporters, producer.NewLedgerReporter(ledger, a.clock))
	}
	return reporters, nil
}

// Openers returns the existing-data readers keyed by URI scheme.
func (a *App) Openers() map[string]existing.Opener {
	gsOpener := func(ctx context.Context, bucket string, _ map[string]any) (storage.Reader, error) {
		client, err := a.gcs(ctx)
		if err != nil {
			return nil, err
		}
		return gcs.New(client, gcs.Config{Bucket: bucket})
	}
	return map[string]existing.Opener{
		"file": func(_ context.Context, dir string, _ map[string]any) (storage.Reader, error) {
			return local.New(local.Config{BaseDir: dir, ReadOnly: true})
		},
		"s3": func(_ context.Context, bucket string, settings map[string]any) (storage.Reader, error) {
			return s3.New(s3.ConfigFromSettings(bucket, settings))
		},
		"gs":  gsOpener,
		"gcs": gsOpener,
	}
}

func (a *App) gcs(ctx context.Context) (*gcstorage.Client, error) {
	a.gcsMu.Lock()
	defer a.gcsMu.Unlock()
	if a.gcsClient == nil {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
	}
	return a.gcsClient, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetProducer returns the invocation runner.
func (a *App) GetProducer() *producer.Producer {
	return a.producer
}

// GetState returns the persisted state store.
func (a *App) GetState() *state.Store {
	return a.state
}

// NewWatcher builds a watcher over the producer's check flow.
func (a *App) NewWatcher() (*watch.Watcher, error) {
	return watch.New(a.producer, a.clock, a.cfg.Watch.Schedule, watch.WithLogger(a.logger))
}

// NewAPIServer builds the operator HTTP server for one stream.
func (a *App) NewAPIServer(tableName string) *api.Server {
	var history api.HistoryReader
	if a.ledger != nil {
		history = a.ledger
	}
	return api.NewServer(a.state, history, tableName, a.logger)
}

// Run executes one request or check invocation.
func (a *App) Run(ctx context.Context, cfg harvest.HarvestConfig, dataCheck bool) (producer.Outcome, error) {
	return a.producer.Run(ctx, cfg, dataCheck)
}

// LoadStatus returns the persisted status record.
func (a *App) LoadStatus(ctx context.Context) (status.RequestStatus, error) {
	return a.state.LoadStatus(ctx)
}

// Watch repeats the check flow until the request is no longer pending.
func (a *App) Watch(ctx context.Context, cfg harvest.HarvestConfig) (producer.Outcome, error) {
	w, err := a.NewWatcher()
	if err != nil {
		return producer.Outcome{}, err
	}
	return w.Run(ctx, cfg)
}

// Handler returns the operator HTTP handler for one stream.
func (a *App) Handler(tableName string) http.Handler {
	return a.NewAPIServer(tableName).Handler()
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Error closing pubsub publisher", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	a.gcsMu.Lock()
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("Error closing gcs client", zap.Error(err))
		}
	}
	a.gcsMu.Unlock()
	_ = a.logger.Sync()
}
