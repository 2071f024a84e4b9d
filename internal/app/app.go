// Package app initializes and holds long-lived engine services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/config"
	"github.com/docketwatch/docketwatch/internal/docket"
	"github.com/docketwatch/docketwatch/internal/metrics"
	"github.com/docketwatch/docketwatch/internal/progress"
	"github.com/docketwatch/docketwatch/internal/progress/sinks"
	noopPublisher "github.com/docketwatch/docketwatch/internal/publish/noop"
	gcpPublisher "github.com/docketwatch/docketwatch/internal/publish/pubsub"
	"github.com/docketwatch/docketwatch/internal/storage"
	"github.com/docketwatch/docketwatch/internal/tracker"
)

// App holds the shared, long-lived services for one engine invocation. It is
// initialized once at startup and handed to the command that needs it.
type App struct {
	Cfg       config.Config
	Logger    *zap.Logger
	Tracker   docket.Tracker
	Blobs     docket.BlobStore
	Artifacts *storage.ArtifactStore
	Publisher docket.Publisher
	Hub       *progress.Hub

	metricsSrv *metrics.Server
	gcsClient  *gcs.Client
	pgTracker  *tracker.Postgres
}

// New wires every provider the configuration selects. It fails fast: a
// misconfigured tracker or unreachable bucket aborts startup instead of
// surfacing mid-run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initTracker(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := storage.NewGCS(ctx, client, storage.GCSConfig{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			client.Close()
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.gcsClient = client
		a.Blobs = store
		a.Logger.Info("using gcs blob store", zap.String("bucket", a.Cfg.Storage.GCSBucket))
	case "memory":
		a.Blobs = storage.NewMemory()
		a.Logger.Info("using in-memory blob store; artifacts will not survive the process")
	default:
		return fmt.Errorf("unknown storage provider: %s", a.Cfg.Storage.Provider)
	}
	a.Artifacts = storage.NewArtifactStore(a.Blobs, a.Cfg.URLTTL())
	return nil
}

func (a *App) initTracker(ctx context.Context) error {
	switch a.Cfg.Tracker.Provider {
	case "airtable":
		token := a.Cfg.Tracker.Airtable.APIKey
		if token == "" {
			token = os.Getenv("DOCKETWATCH_TRACKER_AIRTABLE_API_KEY")
		}
		t, err := tracker.NewAirtable(tracker.AirtableConfig{
			BaseURL: a.Cfg.Tracker.Airtable.BaseURL,
			Token:   token,
			BaseID:  a.Cfg.Tracker.Airtable.BaseID,
			Table:   a.Cfg.Tracker.Airtable.Table,
		}, tracker.DefaultFields(), a.Logger)
		if err != nil {
			return fmt.Errorf("init airtable tracker: %w", err)
		}
		a.Tracker = t
	case "postgres":
		t, err := tracker.NewPostgres(ctx, tracker.PostgresConfig{DSN: a.Cfg.Tracker.Postgres.DSN})
		if err != nil {
			return fmt.Errorf("init postgres tracker: %w", err)
		}
		a.pgTracker = t
		a.Tracker = t
	default:
		return fmt.Errorf("unknown tracker provider: %s", a.Cfg.Tracker.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.Cfg.PubSub.Enabled {
		a.Publisher = noopPublisher.New()
		return nil
	}
	pub, err := gcpPublisher.New(ctx, a.Cfg.PubSub.ProjectID, a.Cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.Publisher = pub
	a.Logger.Info("publishing run summaries",
		zap.String("project", a.Cfg.PubSub.ProjectID),
		zap.String("topic", a.Cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) initProgress() error {
	sinkList := []progress.Sink{sinks.NewLogSink(a.Logger)}
	if a.Cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("init prometheus sink: %w", err)
		}
		sinkList = append(sinkList, promSink)
		a.metricsSrv = metrics.NewServer(a.Cfg.Metrics.Port, reg, a.Logger)
		a.metricsSrv.Start()
	}
	a.Hub = progress.NewHub(progress.Config{Logger: a.Logger}, sinkList...)
	return nil
}

// Close flushes progress, stops the metrics listener and releases every
// client. Safe to call after a partially failed run.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pgTracker != nil {
		a.pgTracker.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
