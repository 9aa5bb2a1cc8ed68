package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/duplicaterecord"
	"github.com/Ramsey-B/fern/internal/repositories/filefingerprint"
	"github.com/Ramsey-B/fern/internal/repositories/importjob"
	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/rowupdate"
	"github.com/Ramsey-B/fern/internal/repositories/tablerow"
	"github.com/Ramsey-B/fern/internal/repositories/targettable"
	"github.com/Ramsey-B/fern/internal/repositories/uploadedfile"
	"github.com/Ramsey-B/fern/internal/repositories/validationfailure"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/routes/duplicate"
	"github.com/Ramsey-B/fern/pkg/routes/file"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	importroutes "github.com/Ramsey-B/fern/pkg/routes/importrecord"
	"github.com/Ramsey-B/fern/pkg/routes/job"
	rowupdateroutes "github.com/Ramsey-B/fern/pkg/routes/rowupdate"
	"github.com/Ramsey-B/fern/pkg/routes/table"
	"github.com/Ramsey-B/fern/pkg/routes/validation"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/storage"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		os.Exit(1)
	}

	dbPort, err := strconv.Atoi(cfg.DatabasePort)
	if err != nil {
		logger.WithError(err).Errorf("Invalid database port %q", cfg.DatabasePort)
		os.Exit(1)
	}
	db, err := database.Connect(database.ConnectConfig{
		Host:            cfg.DatabaseHost,
		Port:            dbPort,
		Username:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		os.Exit(1)
	}

	if err := runMigrations(cfg, logger, db); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	streams := redis.NewStreams(redisClient)
	locker := redis.NewLocker(redisClient, "")
	dlq := redis.NewDeadLetterQueue(redisClient, redis.DefaultDLQStream, logger)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	emitter := events.NewEmitter(producer, logger)

	fileRepo := uploadedfile.NewRepository(db, logger)
	fingerprintRepo := filefingerprint.NewRepository(db, logger)
	tableRepo := targettable.NewRepository(db, logger)
	rowRepo := tablerow.NewRepository(db, logger)
	recordRepo := importrecord.NewRepository(db, logger)
	jobRepo := importjob.NewRepository(db, logger)
	duplicateRepo := duplicaterecord.NewRepository(db, logger)
	failureRepo := validationfailure.NewRepository(db, logger)
	updateRepo := rowupdate.NewRepository(db, logger)

	store := storage.NewLocalStore(cfg.StorageBasePath)

	chunkLoader := loader.New(rowRepo, duplicateRepo, failureRepo, loader.Config{
		ChunkSize:        cfg.ImportChunkSize,
		CheckWorkerCount: cfg.ImportCheckWorkerCount,
	}, logger)

	var advisor mapping.Advisor
	if cfg.MappingAdvisorEnabled {
		advisor = mapping.NewHeuristicAdvisor()
	}

	importerService := importer.NewService(
		cfg,
		logger,
		fileRepo,
		fingerprintRepo,
		tableRepo,
		rowRepo,
		recordRepo,
		jobRepo,
		chunkLoader,
		mapping.NewMapper(),
		advisor,
		store,
		locker,
		streams,
		emitter,
	)
	engine := resolution.NewEngine(duplicateRepo, failureRepo, rowRepo, updateRepo, recordRepo, tableRepo, emitter, logger)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		logger.WithError(err).Error("Failed to create DI container")
		os.Exit(1)
	}
	register(container, logger, fileRepo)
	register(container, logger, tableRepo)
	register(container, logger, recordRepo)
	register(container, logger, jobRepo)
	register(container, logger, duplicateRepo)
	register(container, logger, failureRepo)
	register(container, logger, updateRepo)
	register(container, logger, engine)
	register(container, logger, importerService)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	api := e.Group("/api/v1")
	file.Register(api.Group("/files"))
	table.Register(api.Group("/tables"))
	importroutes.Register(api.Group("/imports"))
	duplicate.Register(api.Group("/duplicates"))
	validation.Register(api.Group("/validation-failures"))
	rowupdateroutes.Register(api.Group("/row-updates"))
	job.Register(api.Group("/jobs"))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	checker := health.NewChecker(db, redisClient, streams, cfg.RedisStreamsJobQueue, version)
	checker.RegisterRoutes(e)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	if cfg.WorkerEnabled {
		procCfg := queue.DefaultProcessorConfig()
		procCfg.Stream = cfg.RedisStreamsJobQueue
		procCfg.ConsumerGroup = cfg.RedisStreamsConsumerGroup
		if cfg.RedisStreamsConsumerName != "" {
			procCfg.ConsumerName = cfg.RedisStreamsConsumerName
		}
		procCfg.WorkerCount = cfg.WorkerCount
		processor := queue.NewProcessor(streams, dlq, importerService, procCfg, logger)
		boot.AddDependency(&runnable{
			name:  "job-processor",
			start: processor.Start,
			stop:  processor.Stop,
		})
	}

	if cfg.KafkaConsumerEnabled {
		consumer := kafka.NewConsumer(cfg, logger, importerService.HandleUploadNotification)
		boot.AddDependency(&runnable{
			name:  "kafka-consumer",
			start: consumer.Start,
			stop:  func(context.Context) error { return consumer.Stop() },
		})
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	checker.SetReady(true)

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop background workers")
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Kafka producer")
	}
	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Redis client")
	}
	if err := db.Close(); err != nil {
		logger.WithError(err).Error("Failed to close database")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down tracing")
	}
	logger.Info("Shutdown complete")
}

// runnable adapts a component with Start/Stop methods to a startup dependency
type runnable struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (r *runnable) GetName() string                 { return r.name }
func (r *runnable) DependsOn() []string             { return r.deps }
func (r *runnable) Start(ctx context.Context) error { return r.start(ctx) }
func (r *runnable) Stop(ctx context.Context) error  { return r.stop(ctx) }

func register[T any](container ectocontainer.DIContainer, logger ectologger.Logger, value T) {
	if err := ectoinject.RegisterInstance[T](container, value); err != nil {
		logger.WithError(err).Errorf("Failed to register dependency %T", value)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (ectologger.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapCfg := zap.NewProductionConfig()
		if level, perr := zapcore.ParseLevel(cfg.LogLevel); perr == nil {
			zapCfg.Level = zap.NewAtomicLevelAt(level)
		}
		zapLogger, err = zapCfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func initTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	if !cfg.OTLPEnabled {
		tracing.SetTracer(otel.Tracer(cfg.AppName))
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}

func runMigrations(cfg config.Config, logger ectologger.Logger, db database.DB) error {
	driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.Migrate(cfg.DatabaseName, driver)
}
