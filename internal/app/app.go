// Package app wires every plug-in, the cache set, and the HTTP layer
// together into an fx.App. Grounded on the teacher's internal/app/app.go.
package app

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"imaginator/internal/config"
	"imaginator/internal/httpapi"
	"imaginator/internal/lrucache"
	"imaginator/internal/metrics"
	"imaginator/internal/plugins/base"
	"imaginator/internal/plugins/cache"
	"imaginator/internal/plugins/download"
	"imaginator/internal/registry"
	"imaginator/internal/server"
)

// downloadTimeout bounds a single download filter fetch; the original's
// hyper client has no fixed deadline, but an unbounded request ties up a
// worker goroutine indefinitely, so this picks a generous ceiling instead.
const downloadTimeout = 30 * time.Second

// Build constructs an fx application configured with all dependencies.
func Build(cfg *config.Config) *fx.App {
	logger := newLogger()
	applyRuntimeTuning(logger, cfg)

	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
		fx.Supply(
			cfg,
			logger,
		),
		fx.Provide(
			prometheus.NewRegistry,
			fx.Annotate(func(r *prometheus.Registry) prometheus.Registerer { return r }, fx.As(new(prometheus.Registerer))),
			metrics.New,
			newCaches,
			newRegistry,
			httpapi.NewHandler,
		),
		server.Module,
	)
}

func newLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler)
}

// newCaches opens every configured named cache and wires its eviction
// notifications into the shared metrics counter.
func newCaches(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (map[string]*lrucache.Cache, error) {
	caches := make(map[string]*lrucache.Cache, len(cfg.Caches))
	for name, spec := range cfg.Caches {
		c, err := lrucache.Open(name, spec.Dir, spec.Size.Bytes)
		if err != nil {
			return nil, err
		}
		c.OnEvict(func(cacheName string) {
			m.CacheEvictions.WithLabelValues(cacheName).Inc()
		})
		caches[name] = c
		logger.Info("opened cache", "name", name, "dir", spec.Dir, "capacity_bytes", spec.Size.Bytes)
	}
	return caches, nil
}

// newRegistry assembles every plug-in's filters into one registry.
func newRegistry(cfg *config.Config, caches map[string]*lrucache.Cache, m *metrics.Metrics) (*registry.Registry, error) {
	reg := registry.New()
	fetcher := download.NewHTTPFetcher(downloadTimeout)
	plugins := []map[string]registry.Handler{
		base.Handlers(&cfg.Image),
		cache.Handlers(caches, m),
		download.Handlers(cfg, fetcher),
	}
	for _, p := range plugins {
		if err := reg.Merge(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func applyRuntimeTuning(logger *slog.Logger, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Runtime.GOMAXPROCS > 0 {
		prev := runtime.GOMAXPROCS(cfg.Runtime.GOMAXPROCS)
		logger.Info("set GOMAXPROCS", "value", cfg.Runtime.GOMAXPROCS, "previous", prev)
	}
	if cfg.Runtime.VIPSConcurrency > 0 {
		configureVipsConcurrency(cfg.Runtime.VIPSConcurrency)
		logger.Info("set libvips concurrency", "value", cfg.Runtime.VIPSConcurrency)
	}
}
