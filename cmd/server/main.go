/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags over environment, see config/config.go)
  2. Build the zap logger
  3. Connect Redis (distributed locks + event stream)
  4. Initialize SQLite store
  5. Wire the engine, instrumentation and API handler
  6. Start the batch scheduler (if enabled)
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payroll.db"

  # Run with in-memory database and console logs
  ./server -db=":memory:" -log-format=console

  # Validate employees against the user service, batch orgs 1 and 2 hourly
  USER_SERVICE_URL=http://users:8080 ./server -scheduler -scheduler-orgs=1,2

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - payroll/service.go: Engine
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/lock"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/users"
)

const eventsMaxLen = 100000

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "payroll-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Redis backs locks and events. An unreachable Redis at startup is not
	// fatal; writes fail closed until it comes back.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, writes will fail until it recovers",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var directory payroll.UserLookup
	var demoDirectory *users.Memory
	switch {
	case cfg.Demo:
		demoDirectory = users.NewMemory()
		directory = demoDirectory
		logger.Warn("demo mode: in-memory user directory, /api/scenarios enabled")
	case cfg.UserServiceURL != "":
		directory = users.NewHTTPLookup(cfg.UserServiceURL, 5*time.Second, logger)
	default:
		logger.Info("USER_SERVICE_URL not set, employee validation and batches disabled")
	}

	engineCfg := payroll.DefaultConfig()
	engineCfg.CompensationLock.TTL = cfg.Lock.TTL
	engineCfg.CompensationLock.MaxRetries = cfg.Lock.MaxRetries
	engineCfg.CompensationLock.RetryDelay = cfg.Lock.RetryDelay
	engineCfg.RunLock = engineCfg.CompensationLock
	engineCfg.BatchLock.TTL = cfg.Lock.BatchTTL
	engineCfg.BatchLock.RetryDelay = cfg.Lock.RetryDelay

	engine := payroll.NewEngine(payroll.Deps{
		Store:  store,
		Locker: lock.NewRedis(rdb, logger),
		Users:  directory,
		Events: events.NewRedisStream(rdb, cfg.EventsStream, eventsMaxLen, logger),
		Logger: logger,
		Config: &engineCfg,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := payroll.Instrument(engine, logger, payroll.NewMetrics(reg))

	handler := api.NewHandler(svc, logger)
	handler.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	handler.Checks["store"] = store.Ping
	handler.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if demoDirectory != nil {
		handler.Directory = demoDirectory
	}

	scheduler := api.NewBatchScheduler(svc, cfg.Scheduler.OrgIDs, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		scheduler.Stop()
		return err
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
