package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/KevoDB/prevterm/pkg/api"
	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/config"
	"github.com/KevoDB/prevterm/pkg/predecessor"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/sstable"
	"github.com/KevoDB/prevterm/pkg/stats"
	"github.com/KevoDB/prevterm/pkg/telemetry"
)

// loadConfig layers the config file, PREVTERM_* variables and flags
func loadConfig(g *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	var extra []config.IndexConfig
	if g.indexList != "" {
		list, err := config.ParseIndexList(g.indexList)
		if err != nil {
			return nil, err
		}
		extra = append(extra, list...)
	}
	for _, f := range g.indexFlags {
		ic, err := config.ParseIndexFlag(f)
		if err != nil {
			return nil, err
		}
		extra = append(extra, ic)
	}

	cfg.Update(func(c *config.Config) {
		// flags replace configured indexes of the same name
		for _, ic := range extra {
			replaced := false
			for i := range c.Indexes {
				if c.Indexes[i].Name == ic.Name {
					c.Indexes[i] = ic
					replaced = true
				}
			}
			if !replaced {
				c.Indexes = append(c.Indexes, ic)
			}
		}
		if g.logLevel != "" {
			c.Log.Level = g.logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components shared by the commands
type app struct {
	cfg      *config.Config
	logger   log.Logger
	tel      telemetry.Telemetry
	metrics  *api.Metrics
	stats    *stats.AtomicCollector
	cache    *sstable.BlockCache
	registry *registry.Registry
	service  *query.Service
}

func newApp(ctx context.Context, g *globalOptions) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewStandardLogger(log.WithOutput(os.Stderr), log.WithLevel(level))
	log.SetDefaultLogger(logger)

	// OpenTelemetry instruments share the registry served on /metrics
	metrics := api.NewMetrics()
	tel, err := telemetry.New(ctx, cfg.Telemetry, telemetry.WithRegisterer(metrics.Registry()))
	if err != nil {
		return nil, err
	}

	cache, err := sstable.NewBlockCache(cfg.Storage.BlockCacheBytes)
	if err != nil {
		tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		tel:     tel,
		metrics: metrics,
		stats:   stats.NewAtomicCollector(),
		cache:   cache,
	}

	a.registry = registry.New(
		registry.WithLogger(logger.WithField("component", telemetry.ComponentRegistry)),
		registry.WithTelemetry(tel),
		registry.WithStats(a.stats),
		registry.WithBlockCache(cache),
		registry.WithOpenWorkers(cfg.Storage.OpenWorkers),
	)
	specs := make([]registry.IndexSpec, 0, len(cfg.Indexes))
	for _, ic := range cfg.Indexes {
		specs = append(specs, registry.SpecFromConfig(ic))
	}
	if err := a.registry.Configure(specs...); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.registry.OpenAll(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("opening indexes: %w", err)
	}

	direction, err := query.ParseDirection(cfg.Query.Direction)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	resolver := predecessor.NewResolver(
		predecessor.WithBatchSize(cfg.Resolver.BatchSize),
		predecessor.WithMaxRetries(cfg.Resolver.MaxRetries),
		predecessor.WithLogger(logger.WithField("component", telemetry.ComponentResolver)),
		predecessor.WithTelemetry(tel),
	)
	a.service = query.NewService(a.registry,
		query.WithMaxTerms(cfg.Query.MaxTerms, cfg.Query.MaxTermsLimit),
		query.WithDefaultDirection(direction),
		query.WithResolver(resolver),
		query.WithTimeout(cfg.Resolver.Timeout),
		query.WithLogger(logger.WithField("component", telemetry.ComponentQuery)),
		query.WithTelemetry(tel),
		query.WithStats(a.stats),
	)
	return a, nil
}

// Close releases dictionaries, the block cache and telemetry exporters
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	a.cache.Close()
	errs = append(errs, a.tel.Shutdown(ctx))
	return errors.Join(errs...)
}
