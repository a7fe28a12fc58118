// Package app wires the engine's components together.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"churnwatch/internal/config"
	"churnwatch/internal/ensemble"
	"churnwatch/internal/httpapi"
	"churnwatch/internal/jobs"
	"churnwatch/internal/metrics"
	"churnwatch/internal/predictor"
	"churnwatch/internal/store"
	"churnwatch/internal/treemodel"
	"churnwatch/internal/watch"
)

type App struct {
	cfg     config.Config
	log     *slog.Logger
	store   *store.Store
	models  *treemodel.Cache
	engine  *predictor.Engine
	runner  *jobs.Runner
	watcher *watch.Watcher
	handler http.Handler
}

func New(cfg config.Config, log *slog.Logger) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	models := treemodel.NewCache(cfg.ModelPath)
	engine := predictor.NewEngine(st, models, m, log, cfg.HistoryDays)
	ens := ensemble.NewPredictor(st, cfg.EnsembleDays, cfg.EnsembleMin)
	runner := jobs.NewRunner(engine, st, log, cfg.WorkerCount, cfg.QueueSize)
	watcher := watch.New(models, m, log, cfg.EnableWatcher)
	router := httpapi.NewRouter(cfg, st, engine, ens, runner, m, log)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		models:  models,
		engine:  engine,
		runner:  runner,
		watcher: watcher,
		handler: router.Handler(),
	}, nil
}

// Run starts workers, the model watcher, and the HTTP server, and blocks
// until the server exits.
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("http listening", slog.String("port", a.cfg.HTTPPort))
	err := srv.ListenAndServe()
	a.runner.Stop()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *App) Store() *store.Store       { return a.store }
func (a *App) Engine() *predictor.Engine { return a.engine }
func (a *App) Handler() http.Handler     { return a.handler }
func (a *App) Close() error              { return a.store.Close() }
