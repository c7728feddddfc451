package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/cache"
	"github.com/erp/inventory-core/internal/infrastructure/config"
	"github.com/erp/inventory-core/internal/infrastructure/event"
	"github.com/erp/inventory-core/internal/infrastructure/logger"
	"github.com/erp/inventory-core/internal/infrastructure/persistence"
	"github.com/erp/inventory-core/internal/infrastructure/scheduler"
	"github.com/erp/inventory-core/internal/infrastructure/telemetry"
	"github.com/erp/inventory-core/internal/interfaces/http/handler"
	"github.com/erp/inventory-core/internal/interfaces/http/middleware"
	"github.com/erp/inventory-core/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Inventory Consistency Core API
//	@version		1.0
//	@description	Transactional stock balances, reservations and movements per item and location.

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	ActorHeader
//	@in							header
//	@name						X-Actor
//	@description				Identifies the calling system in logs, traces and rate limits.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// OpenTelemetry providers. Each one is a no-op when telemetry is disabled.
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}

	// Rebuild the logger so every entry is also exported over OTLP
	log, err := logger.New(logCfg, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		LoggerProvider: loggerProvider,
		Level:          logger.ParseLevel(cfg.Log.Level),
	}))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting inventory core",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Initialize database connection with the zap query logger and tracing
	db, err := persistence.NewDatabase(&cfg.Database, persistence.DatabaseOptions{
		Logger:        log,
		LogLevel:      cfg.Log.Level,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		Tracing: telemetry.DBTracingConfig{
			Enabled:          cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:         "postgresql",
			WithoutVariables: !cfg.Telemetry.DBLogFullSQL,
		},
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	scope, err := persistence.NewGormTransactionScope(db.DB, persistence.TransactionOptions{
		Isolation:   cfg.Database.IsolationLevel,
		LockTimeout: cfg.Database.LockTimeout,
	})
	if err != nil {
		log.Fatal("Invalid transaction settings", zap.Error(err))
	}

	// Event publication
	bus := event.NewInMemoryEventBus(log)
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	idempotency := shared.DefaultIdempotencyConfig()
	if cfg.Event.IdempotencyTTL > 0 {
		idempotency.TTL = cfg.Event.IdempotencyTTL
	}
	handlers := event.WrapHandlersWithIdempotency(
		[]shared.EventHandler{event.NewAuditLogHandler(log)},
		idempotencyStore, log,
		event.WithIdempotencyConfig(idempotency),
	)
	for _, h := range handlers {
		bus.Subscribe(h, h.EventTypes()...)
	}
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var publisher shared.EventPublisher = bus
	var kafkaPublisher *event.KafkaPublisher
	if cfg.Event.Publisher == "kafka" {
		kafkaPublisher = event.NewKafkaPublisher(cfg.Kafka, log)
		publisher = event.NewMultiPublisher(bus, kafkaPublisher)
		log.Info("Publishing inventory events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Engine metrics
	var metrics appinv.MetricsSink
	var inventoryMetrics *telemetry.InventoryMetrics
	if meterProvider.IsEnabled() {
		inventoryMetrics, err = telemetry.NewInventoryMetrics(meterProvider.Meter("inventory-core"), log)
		if err != nil {
			log.Fatal("Failed to create inventory metrics", zap.Error(err))
		}
		metrics = inventoryMetrics
	}

	engine := appinv.NewEngine(scope, publisher, metrics, log, appinv.EngineConfig{
		SingleCellTimeout:     cfg.Engine.SingleCellTimeout,
		TransferTimeout:       cfg.Engine.TransferTimeout,
		DeadlockRetries:       cfg.Engine.DeadlockRetries,
		DeadlockBackoff:       cfg.Engine.DeadlockBackoff,
		DeadlockMultiplier:    cfg.Engine.DeadlockMultiplier,
		ConflictRetries:       cfg.Engine.ConflictRetries,
		ConflictBackoff:       cfg.Engine.ConflictBackoff,
		ConflictJitter:        cfg.Engine.ConflictJitter,
		PublishTimeout:        cfg.Engine.PublishTimeout,
		DefaultReservationTTL: cfg.Reservation.DefaultTTL,
	})
	dispatcher := appinv.NewDispatcher(engine, cfg.Engine.WorkerPoolSize)

	if inventoryMetrics != nil {
		inventoryMetrics.StartPeriodicCollection(ctx, reservationGauges{engine: engine}, cfg.Telemetry.MetricsInterval)
	}

	// Background jobs
	var schedules []scheduler.Schedule
	if cfg.Reservation.SweeperEnabled {
		sweeper := appinv.NewReservationExpirationService(scope, engine, log, cfg.Reservation.SweeperBatchSize)
		schedules = append(schedules, scheduler.Schedule{
			Job:      scheduler.NewSweeperJob(sweeper, cfg.Reservation.SweeperBatchSize, log),
			Interval: cfg.Reservation.SweeperInterval,
		})
	}
	if cfg.Event.ReconcilerEnabled {
		replayer := appinv.NewJournalReplayService(scope, persistence.NewGormCheckpointStore(db.DB), publisher, log,
			appinv.JournalReplayConfig{
				Name:      cfg.Event.ReconcilerName,
				BatchSize: cfg.Event.ReconcilerBatch,
				Lag:       cfg.Event.ReconcilerLag,
			})
		schedules = append(schedules, scheduler.Schedule{
			Job:      scheduler.NewReconcilerJob(replayer, cfg.Event.ReconcilerBatch, log),
			Interval: cfg.Event.ReconcilerPoll,
		})
	}
	jobs, err := scheduler.New(log, schedules...)
	if err != nil {
		log.Fatal("Failed to configure scheduler", zap.Error(err))
	}
	if err := jobs.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Register custom validators and error translation
	middleware.SetupValidator()

	ginEngine := gin.New()
	if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	// Middleware order matters: tracing wraps logging so log lines carry trace ids
	ginEngine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     tracerProvider.IsEnabled(),
	}))
	ginEngine.Use(logger.GinMiddleware(log))
	ginEngine.Use(logger.Recovery(log))
	ginEngine.Use(middleware.SpanErrorMarker())
	ginEngine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
		Logger:        log,
	}))
	ginEngine.Use(middleware.CORS(middleware.CORSConfig{AllowOrigins: cfg.HTTP.CORSOrigins}))
	ginEngine.Use(middleware.APIHeaders(middleware.APIHeadersConfig{HSTSMaxAge: cfg.HTTP.HSTSMaxAge}))
	ginEngine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
		ginEngine.Use(middleware.RateLimit(limiter))
	}

	health := handler.NewHealthHandler(cfg.App.Name, version, map[string]handler.HealthCheck{
		"database": db.Ping,
	})

	r := router.NewRouter(ginEngine, router.WithAPIVersion("v1"))
	r.Register(handler.NewInventoryHandler(engine, engine, dispatcher))
	r.RegisterRoot(router.RegistrarFunc(func(rg *gin.RouterGroup) {
		rg.GET("/health", health.Health)
	}))
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if limiter != nil {
		limiter.Stop()
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if inventoryMetrics != nil {
		inventoryMetrics.Stop()
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not stop cleanly", zap.Error(err))
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Warn("Kafka writer did not close cleanly", zap.Error(err))
		}
	}
	if closer, ok := idempotencyStore.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	for name, shutdown := range map[string]func(context.Context) error{
		"tracer": tracerProvider.Shutdown,
		"meter":  meterProvider.Shutdown,
		"logger": loggerProvider.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry provider did not shut down cleanly", zap.String("provider", name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

// reservationGauges feeds ledger totals to the periodic metrics collector.
type reservationGauges struct {
	engine *appinv.Engine
}

func (g reservationGauges) ReservationGauges(ctx context.Context) ([]telemetry.ReservationGauge, error) {
	stats, err := g.engine.ReservationStats(ctx)
	if err != nil {
		return nil, err
	}
	gauges := make([]telemetry.ReservationGauge, 0, len(stats.ByStatus))
	for _, s := range stats.ByStatus {
		gauges = append(gauges, telemetry.ReservationGauge{
			Status:   s.Status.String(),
			Count:    s.Count,
			Quantity: s.Quantity,
		})
	}
	return gauges, nil
}
