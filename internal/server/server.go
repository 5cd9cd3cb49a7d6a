// Package server wires the gin engine into an fx-managed HTTP lifecycle:
// listen, drain on SIGTERM within the configured grace period, notify
// systemd once ready, and flush every configured cache's LRU index to
// disk on shutdown. Grounded on the teacher's internal/server/server.go.
package server

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"imaginator/internal/config"
	"imaginator/internal/httpapi"
	"imaginator/internal/lrucache"
)

// Module exposes fx providers for the HTTP server.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(RegisterLifecycle),
)

// Params bundles dependencies for HTTP lifecycle registration.
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Engine    *gin.Engine
	Caches    map[string]*lrucache.Cache
	Logger    *slog.Logger
}

// NewEngine constructs the gin engine with the pipeline route and a
// separate /metrics endpoint registered, scraping the same registry the
// service's counters and histograms were registered against.
func NewEngine(cfg *config.Config, handler *httpapi.Handler, gatherer *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	handler.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}

// RegisterLifecycle wires the HTTP server into fx lifecycle: listen on
// OnStart, notify systemd that the service is ready, and on OnStop drain
// within ShutdownGracePeriod and persist every cache's LRU index.
func RegisterLifecycle(p Params) {
	srv := &http.Server{
		Addr:              p.Config.Server.Address(),
		Handler:           p.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Logger.Info("starting HTTP server", slog.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					p.Logger.Error("http server failure", slog.Any("error", err))
				}
			}()
			if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				p.Logger.Warn("systemd notify failed", slog.Any("error", err))
			} else if ok {
				p.Logger.Info("notified systemd of readiness")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping HTTP server", slog.Duration("grace_period", p.Config.Server.ShutdownGracePeriod.Duration))
			if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
				p.Logger.Warn("systemd stopping notify failed", slog.Any("error", err))
			}

			drainCtx := ctx
			if p.Config.Server.ShutdownGracePeriod.Duration > 0 {
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(ctx, p.Config.Server.ShutdownGracePeriod.Duration)
				defer cancel()
			}
			shutdownErr := srv.Shutdown(drainCtx)

			for name, c := range p.Caches {
				if err := c.Export(); err != nil {
					p.Logger.Error("failed to persist cache index", slog.String("cache", name), slog.Any("error", err))
				}
			}
			return shutdownErr
		},
	})
}
