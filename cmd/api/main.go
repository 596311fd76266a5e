package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "commsplan/internal/api"
    "commsplan/internal/buildinfo"
    "commsplan/internal/config"
    "commsplan/internal/events"
    "commsplan/internal/logging"
    "commsplan/internal/metrics"
    "commsplan/internal/observability"
    "commsplan/internal/store"
)

func main() {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    cfg, err := config.Load()
    if err != nil {
        logging.NewFromEnv().Error(ctx, "invalid configuration", logging.Err(err))
        os.Exit(1)
    }
    log := logging.New(cfg.Logging())
    bi := buildinfo.Get()
    log.Info(ctx, "starting commsplan", logging.String("version", bi.Version), logging.String("commit", bi.Commit))

    shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
    if err != nil {
        log.Error(ctx, "tracing init failed", logging.Err(err))
        os.Exit(1)
    }
    defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
    metrics.RegisterDefault()

    st, closeStore, err := openStore(ctx, cfg, log)
    if err != nil {
        log.Error(ctx, "store init failed", logging.Err(err))
        os.Exit(1)
    }
    defer closeStore()

    broker := openBroker(cfg, log)

    srv, err := api.NewServer(cfg, st, broker, log)
    if err != nil {
        log.Error(ctx, "server init failed", logging.Err(err))
        os.Exit(1)
    }

    // Start webhook worker
    workerCtx, stopWorker := context.WithCancel(ctx)
    defer stopWorker()
    go srv.NewWebhookWorker().Run(workerCtx)

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srv.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }
    errCh := make(chan error, 1)
    go func() {
        log.Info(ctx, "API listening", logging.String("addr", httpSrv.Addr))
        errCh <- httpSrv.ListenAndServe()
    }()

    select {
    case <-ctx.Done():
    case err := <-errCh:
        if err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error(ctx, "server error", logging.Err(err))
        }
    }
    log.Info(context.Background(), "shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    if err := httpSrv.Shutdown(shutdownCtx); err != nil {
        log.Warn(shutdownCtx, "graceful shutdown failed", logging.Err(err))
    }
}

// openStore uses Postgres when DATABASE_URL is set and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg config.Config, log logging.Logger) (store.Store, func(), error) {
    if cfg.DatabaseURL == "" {
        log.Info(ctx, "using in-memory store")
        return store.NewMemory(), func() {}, nil
    }
    pg, err := store.NewPostgres(cfg.DatabaseURL)
    if err != nil {
        return nil, nil, err
    }
    if cfg.DBMigrate {
        if err := pg.Migrate(ctx); err != nil {
            _ = pg.Close()
            return nil, nil, err
        }
    }
    log.Info(ctx, "using postgres store", logging.Any("migrated", cfg.DBMigrate))
    return pg, func() { _ = pg.Close() }, nil
}

// openBroker falls back to the in-process broker when Redis is not
// configured or unreachable.
func openBroker(cfg config.Config, log logging.Logger) events.Broker {
    if cfg.RedisURL == "" {
        return events.NewMemory()
    }
    rb, err := events.NewRedis(cfg.RedisURL, log)
    if err == nil {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        err = rb.Ping(ctx)
        cancel()
    }
    if err != nil {
        log.Warn(context.Background(), "redis broker unavailable, using in-memory broker", logging.Err(err))
        return events.NewMemory()
    }
    return rb
}
