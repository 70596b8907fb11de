package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leeineian/voxbox/proc"
	"github.com/leeineian/voxbox/sys"
)

const limiterIdle = 10 * time.Minute

// registerDaemons hooks the background workers into the daemon system. They
// start once the gateway reports ready.
func registerDaemons(cfg *sys.Config, client *bot.Client, store *sys.Store, e *engine, metrics *proc.Metrics) {
	sys.RegisterDaemon(sys.LogLibrary, func(ctx context.Context) (bool, func(), func()) {
		return true, func() {
			if err := e.library.Sync(ctx); err != nil {
				sys.LogLibrary(sys.MsgGenericError, err)
			}
			if err := e.library.Watch(ctx); err != nil {
				sys.LogLibrary(sys.MsgLibraryWatchFail, err)
			}
		}, nil
	})

	sys.RegisterDaemon(sys.LogInfo, func(ctx context.Context) (bool, func(), func()) {
		rotator := proc.NewStatusRotator(client, e.scheduler, store)
		return true, func() { rotator.Run(ctx) }, nil
	})

	sys.RegisterDaemon(sys.LogDebug, func(ctx context.Context) (bool, func(), func()) {
		return true, func() {
			ticker := time.NewTicker(limiterIdle)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					e.limiter.Prune(limiterIdle)
				case <-ctx.Done():
					return
				}
			}
		}, nil
	})

	sys.RegisterDaemon(sys.LogInfo, func(ctx context.Context) (bool, func(), func()) {
		if cfg.MetricsAddr == "" {
			return false, nil, nil
		}
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRouter(store, metrics)}
		run := func() {
			sys.LogInfo(sys.MsgMetricsListening, cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sys.LogError(sys.MsgMetricsServeFail, err)
			}
		}
		shutdown := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
		return true, run, shutdown
	})
}

func metricsRouter(store *sys.Store, metrics *proc.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
