// Package app wires sources, the owner loop, the worker pool and tile I/O
// into the tiled HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IvanBrykalov/tilecache/fetch"
	"github.com/IvanBrykalov/tilecache/loop"
	"github.com/IvanBrykalov/tilecache/metrics/prom"
	"github.com/IvanBrykalov/tilecache/pkg/config"
	"github.com/IvanBrykalov/tilecache/pkg/logger"
	"github.com/IvanBrykalov/tilecache/pkg/telemetry"
	"github.com/IvanBrykalov/tilecache/query"
	"github.com/IvanBrykalov/tilecache/source"
	"github.com/IvanBrykalov/tilecache/store"
	"github.com/IvanBrykalov/tilecache/tileio"
	"github.com/IvanBrykalov/tilecache/worker"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the assembled service.
type App struct {
	cfg *config.Config
	log logger.Logger

	Loop    *loop.Loop
	Pool    *worker.Pool
	Loader  *tileio.Loader
	Service *Service
	Router  *gin.Engine

	closers []func() error
}

// New assembles the service from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, l logger.Logger) (*App, error) {
	l = logger.OrNop(l)
	a := &App{cfg: cfg, log: l}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var payloads store.Store = store.NewMemoryStore()
	if cfg.Redis.Enabled {
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		l.Info("using redis payload store", "addr", cfg.Redis.Addr)
		payloads = rs
		a.closers = append(a.closers, rs.Close)
	}

	a.Loop = loop.New(loop.Options{Frame: cfg.Loop.Frame, QueueSize: cfg.Loop.QueueSize, Logger: l})
	a.Pool = worker.New(worker.Options{Workers: cfg.Worker.Count, QueueSize: cfg.Worker.QueueSize, Logger: l})
	tileio.RegisterHandlers(a.Pool, decodeTile)
	a.Pool.Handle(query.JobQueryFeatures, query.Handler(tileio.Lookup))

	fetcher := fetch.New(fetch.Options{Timeout: cfg.Fetch.Timeout, UserAgent: cfg.Fetch.UserAgent, Logger: l})
	a.Loader = tileio.New(tileio.Options{
		Fetcher: fetcher,
		Workers: a.Pool,
		Loop:    a.Loop,
		Store:   payloads,
		Logger:  l,
	})

	disp := query.NewDispatcher(query.Options{
		Workers: a.Pool,
		Metrics: prom.New(reg, metricsNamespace, "query", nil),
		Logger:  l,
		Tracer:  telemetry.Tracer(),
	})

	deps := source.Deps{Fetcher: fetcher, Scheduler: a.Loop, TileIO: a.Loader, Logger: l}
	a.Service = newService(a.Loop, source.NewRegistry(), deps, disp, a.Loader.Live, reg, l)
	a.Router = newRouter(a.Service, reg, l, cfg.Telemetry.Enabled)
	return a, nil
}

// Run serves until ctx is done, then shuts the server, sources, pool and
// loop down in that order.
func (a *App) Run(ctx context.Context, sources []source.Options) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = a.Loop.Run(loopCtx)
	}()
	a.Pool.Start(loopCtx)

	for _, opt := range sources {
		if _, err := a.Service.AddSource(ctx, opt); err != nil {
			a.log.Error("skipping source", "source", opt.ID, "error", err)
			continue
		}
		a.log.Info("source registered", "source", opt.ID, "type", opt.Kind.String())
	}

	server := &http.Server{
		Addr:         ":" + a.cfg.HTTP.Server.Port,
		Handler:      a.Router,
		ReadTimeout:  a.cfg.HTTP.Server.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.Server.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.Server.IdleTimeout,
	}

	g.Go(func() error {
		a.log.Info("starting http server", "port", a.cfg.HTTP.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server forced to shutdown", "error", err)
		}
		if err := a.Service.Close(shutdownCtx); err != nil {
			a.log.Error("failed to clear sources", "error", err)
		}
		return nil
	})
	err := g.Wait()

	a.Loader.Close()
	if cerr := a.Pool.Close(); cerr != nil {
		a.log.Error("worker pool stopped with error", "error", cerr)
	}
	stopLoop()
	<-loopDone
	for _, c := range a.closers {
		if cerr := c(); cerr != nil {
			a.log.Error("failed to close resource", "error", cerr)
		}
	}
	a.log.Info("server stopped")
	return err
}
