package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/seamline-io/conveyor/adapter"
	adapterredis "github.com/seamline-io/conveyor/adapter/redis"
	"github.com/seamline-io/conveyor/adapter/webhook"
	"github.com/seamline-io/conveyor/artifact"
	"github.com/seamline-io/conveyor/cli/reader"
	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/config"
	rssconnector "github.com/seamline-io/conveyor/connector/rss"
	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/metrics"
	"github.com/seamline-io/conveyor/pipeline"
	"github.com/seamline-io/conveyor/reconcile"
	"github.com/seamline-io/conveyor/store"
	storefile "github.com/seamline-io/conveyor/store/file"
	storeredis "github.com/seamline-io/conveyor/store/redis"
	"github.com/seamline-io/conveyor/trend"
	"github.com/seamline-io/conveyor/types"
)

// defaultStorageRoot is used when neither config nor --data names one.
const defaultStorageRoot = "./conveyor-data"

// env is the wired runtime for a CLI invocation. Read-only commands build a
// lighter env without collaborators.
type env struct {
	cfg       *config.Config
	coord     *pipeline.Coordinator
	reader    *reader.Reader
	collector *metrics.Collector
	events    adapter.Adapter

	closers []func() error
}

// Close releases every wired resource, newest first.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func (e *env) onClose(f func() error) { e.closers = append(e.closers, f) }

// loadConfig reads the config file named by --config. A missing file at the
// default location yields built-in defaults; an explicitly named missing
// file is an error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if !c.IsSet("config") && errors.Is(err, fs.ErrNotExist) {
			cfg = &config.Config{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// buildEnv wires the full pipeline environment from config and flags.
func buildEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if c.String("data") != "" {
		cfg.Storage.Path = c.String("data")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStorageRoot
	}

	e := &env{cfg: cfg}

	items, err := buildItemStore(cfg)
	if err != nil {
		return nil, err
	}
	e.onClose(items.Close)

	led, err := ledger.OpenFile(filepath.Join(cfg.Storage.Path, "ledger"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	e.onClose(led.Close)

	artifacts, err := buildArtifactStore(c, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.onClose(artifacts.Close)

	e.collector = metrics.NewCollector(cfg.Items.Backend, "file", cfg.Storage.ArtifactBackend)

	trends, err := trend.Open(cfg.Trends.DSN)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.onClose(trends.Close)

	delivery, events, err := buildDelivery(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.events = events
	if events != nil {
		e.onClose(events.Close)
	}

	scorer := &collab.ReferenceScorer{}
	deps := pipeline.Deps{
		Items:     items,
		Ledger:    led,
		Artifacts: artifacts,
		Connector: buildConnector(cfg),
		Scorer:    scorer,
		Selector:  collab.ReferenceSelector{},
		Drafter:   collab.ReferenceDrafter{},
		Renderer:  collab.ReferenceRenderer{},
		Delivery:  delivery,
		Collector: e.collector,
	}
	if trends.Enabled() {
		if err := trends.EnsureSchema(c.Context); err != nil {
			e.Close()
			return nil, fmt.Errorf("trend schema: %w", err)
		}
		deps.Trends = trends
	}
	deps.Auditor = reconcile.New(items, led, artifacts, scorer, reconcile.Config{
		QualityThreshold: cfg.Audit.QualityThreshold,
		SampleArtifacts:  cfg.Audit.SampleArtifacts,
		StaleItemDays:    cfg.Audit.StaleItemDays,
	}, e.collector)

	e.coord = pipeline.New(deps, pipeline.Config{
		ScoreThreshold:     cfg.Admission.ScoreThreshold,
		MaxBatchItems:      cfg.Admission.MaxBatchItems,
		MaxAttempts:        cfg.Retry.MaxAttempts,
		Backoff:            cfg.Retry.Backoff.Duration,
		CallTimeout:        cfg.Retry.CallTimeout.Duration,
		StaleAfter:         cfg.Retry.StaleAfter.Duration,
		MaxFreePerDay:      cfg.Publish.MaxFreePerDay,
		MaxPaidPerDay:      cfg.Publish.MaxPaidPerDay,
		TopicCooldownDays:  cfg.Publish.TopicCooldownDays,
		SelectLookbackDays: 1,
	})
	e.reader = reader.New(led, items)
	return e, nil
}

// buildReadEnv wires only what read-only commands need: the ledger and the
// item store. No collaborators, no adapters.
func buildReadEnv(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if c.String("data") != "" {
		cfg.Storage.Path = c.String("data")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStorageRoot
	}

	e := &env{cfg: cfg}

	items, err := buildItemStore(cfg)
	if err != nil {
		return nil, err
	}
	e.onClose(items.Close)

	led, err := ledger.OpenFile(filepath.Join(cfg.Storage.Path, "ledger"))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	e.onClose(led.Close)

	e.reader = reader.New(led, items)
	return e, nil
}

func buildItemStore(cfg *config.Config) (store.ItemStore, error) {
	switch cfg.Items.Backend {
	case "file", "":
		s, err := storefile.Open(filepath.Join(cfg.Storage.Path, "items.mp"), cfg.Items.MaxKeys)
		if err != nil {
			return nil, fmt.Errorf("open item store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := storeredis.Open(cfg.Items.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis item store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown item store backend: %q (must be file or redis)", cfg.Items.Backend)
	}
}

func buildArtifactStore(c *cli.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Storage.ArtifactBackend {
	case "fs", "":
		s, err := artifact.OpenFS(filepath.Join(cfg.Storage.Path, "artifacts"))
		if err != nil {
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		return s, nil
	case "s3":
		if cfg.Storage.S3Region != "" {
			// The SDK's default chain reads AWS_REGION.
			_ = os.Setenv("AWS_REGION", cfg.Storage.S3Region)
		}
		s, err := artifact.OpenS3(c.Context, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("open s3 artifact store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %q (must be fs or s3)", cfg.Storage.ArtifactBackend)
	}
}

func buildConnector(cfg *config.Config) collab.Connector {
	sources := make([]rssconnector.Source, 0, len(cfg.Feeds.Sources))
	for _, src := range cfg.Feeds.Sources {
		sources = append(sources, rssconnector.Source{
			Name:   src.Name,
			URL:    src.URL,
			Themes: src.Themes,
		})
	}
	return rssconnector.New(sources, cfg.Feeds.MaxAge.Duration)
}

// buildDelivery wires the outbound document channel and the stage-completion
// event adapter from the adapter config. The redis adapter serves both; the
// webhook adapter publishes events only.
func buildDelivery(cfg *config.Config) (collab.Delivery, adapter.Adapter, error) {
	switch cfg.Adapter.Type {
	case "":
		return noDelivery(), nil, nil
	case "redis":
		d, err := adapterredis.NewDelivery(cfg.Adapter.URL, "")
		if err != nil {
			return nil, nil, err
		}
		events, err := adapterredis.New(adapterredis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retriesOrDefault(cfg.Adapter.Retries, adapterredis.DefaultRetries),
		})
		if err != nil {
			_ = d.Close()
			return nil, nil, err
		}
		return d, events, nil
	case "webhook":
		events, err := webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retriesOrDefault(cfg.Adapter.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			return nil, nil, err
		}
		return noDelivery(), events, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter type: %q (must be redis or webhook)", cfg.Adapter.Type)
	}
}

// noDelivery refuses free-tier delivery when no channel is configured. The
// failure is permanent so the coordinator doesn't burn retries on it.
func noDelivery() collab.Delivery {
	return collab.DeliveryFunc(func(_ context.Context, _ types.RunDate, _ string, _ []byte) (string, error) {
		return "", pipeline.Permanentf("no delivery channel configured (set adapter.type in conveyor.yaml)")
	})
}

func retriesOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
