// Package server wires the sync server together: storage, the server clock,
// metrics, the change feed and both transports. It shuts down gracefully on
// SIGINT, SIGTERM and SIGQUIT.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/server/config"
	"github.com/dmitrijs2005/finkeeper/internal/server/events"
	"github.com/dmitrijs2005/finkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/finkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"

	gs "github.com/dmitrijs2005/finkeeper/internal/server/grpc"
)

var openPostgres = func(ctx context.Context, dsn string) (storage.Storage, error) {
	return storage.OpenPostgres(ctx, dsn)
}

type App struct {
	config      *config.Config
	logger      logging.Logger
	store       storage.Storage
	metrics     *metrics.Metrics
	hub         *events.Hub
	syncService *services.SyncService
}

// OpenStorage returns the store selected by the DSN.
func OpenStorage(ctx context.Context, c *config.Config) (storage.Storage, error) {
	if c.InMemory() {
		return storage.NewMemory(), nil
	}
	st, err := openPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return st, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {

	logger := logging.New(logOut, logging.Options{Format: "json", Level: c.LogLevel})

	st, err := OpenStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	clock := services.NewClock(nil)
	if err := services.SeedClock(ctx, st, clock); err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	hub := events.NewHub()
	ss := services.NewSyncService(st, clock, m, logger)
	ss.SetPublisher(hub)

	return &App{config: c, logger: logger, store: st, metrics: m, hub: hub, syncService: ss}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.syncService, app.metrics, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	router := httpapi.NewRouter(httpapi.Deps{
		Sync:      app.syncService,
		Events:    app.hub,
		Metrics:   app.metrics,
		Logger:    app.logger,
		SecretKey: app.config.SecretKey,
		Origins:   app.config.CORSOrigins,
	})
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, router, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "in_memory", app.config.InMemory())

	app.initSignalHandler(cancelFunc)

	// websocket connections outlive http.Server.Shutdown
	go func() {
		<-ctx.Done()
		app.hub.Close()
	}()

	var wg sync.WaitGroup

	if app.config.EndpointAddrGRPC != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	if app.config.EndpointAddrHTTP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHTTPServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	app.logger.Info(context.Background(), "Stopped, closing storage")
	return app.store.Close()
}
