package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/medivault/medivault/internal/config"
	"github.com/medivault/medivault/internal/domain/medicalfile"
	"github.com/medivault/medivault/internal/domain/patient"
	"github.com/medivault/medivault/internal/domain/prescription"
	"github.com/medivault/medivault/internal/platform/auth"
	"github.com/medivault/medivault/internal/platform/blobstore"
	"github.com/medivault/medivault/internal/platform/db"
	"github.com/medivault/medivault/internal/platform/keylock"
	"github.com/medivault/medivault/internal/platform/middleware"
	"github.com/medivault/medivault/internal/platform/ocr"
	"github.com/medivault/medivault/internal/platform/pdfconv"
	"github.com/medivault/medivault/internal/platform/risk"
)

const analysisQueueGroup = "medivault-analysis"

// newLogger builds the process logger. The returned func flushes and closes
// the rotating log file when one is configured.
func newLogger(cfg *config.Config) (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stdout
	if cfg.IsDev() {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	closeFn := func() {}
	out := console
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, file)
		closeFn = func() { _ = file.Close() }
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "medivault").Logger()
	return logger, closeFn
}

// deps holds the long-lived backends shared by the server and the CLI.
type deps struct {
	pool       *pgxpool.Pool
	blobs      blobstore.Store
	locks      keylock.Locker
	extractor  ocr.Extractor
	classifier risk.Classifier
	closers    []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	d.pool = pool
	d.closers = append(d.closers, pool.Close)

	if d.blobs, err = newBlobStore(ctx, cfg); err != nil {
		d.close()
		return nil, err
	}

	locks, closeLocks, err := newLocker(ctx, cfg, logger)
	if err != nil {
		d.close()
		return nil, err
	}
	d.locks = locks
	d.closers = append(d.closers, closeLocks)

	if d.extractor, err = newExtractor(ctx, cfg); err != nil {
		d.close()
		return nil, err
	}
	d.classifier = newClassifier(cfg)
	return d, nil
}

func (d *deps) newPipeline(cfg *config.Config, logger zerolog.Logger) *prescription.Pipeline {
	return prescription.NewPipeline(prescription.NewRepoPG(d.pool), d.blobs,
		d.extractor, d.classifier, cfg.OCRTimeout, logger)
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case "memory":
		return blobstore.NewInMemoryStore(), nil
	case "fs", "":
		store, err := blobstore.NewFileStore(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return store, nil
	case "s3":
		store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newLocker uses Redis when configured so upload ids serialize across
// replicas; a single process falls back to in-memory locks.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (keylock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return keylock.NewMutexLocker(), func() {}, nil
	}
	client, err := keylock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return keylock.NewRedisLocker(client, cfg.LockTTL, logger), func() { _ = client.Close() }, nil
}

func newExtractor(ctx context.Context, cfg *config.Config) (ocr.Extractor, error) {
	switch cfg.OCRProvider {
	case "vision":
		opts := []ocr.VisionOption{ocr.WithHTTPClient(&http.Client{Timeout: cfg.OCRTimeout})}
		if cfg.OCRVisionEndpoint != "" {
			opts = append(opts, ocr.WithEndpoint(cfg.OCRVisionEndpoint))
		}
		client, err := ocr.NewVisionClient(ctx, cfg.OCRVisionAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create vision client: %w", err)
		}
		return client, nil
	case "static", "":
		return ocr.NewStaticExtractor(ocr.DefaultStaticText), nil
	default:
		return nil, fmt.Errorf("unknown OCR provider %q", cfg.OCRProvider)
	}
}

func newClassifier(cfg *config.Config) risk.Classifier {
	if cfg.RiskServiceURL != "" {
		return risk.NewHTTPClient(cfg.RiskServiceURL, cfg.RiskTimeout)
	}
	return risk.NewTable(risk.DefaultInteractions)
}

// startAnalysis wires the dispatcher prescriptions are queued on. With NATS
// configured every replica joins one queue group; otherwise an in-process
// worker pool runs the pipeline. The returned func stops consumption.
func startAnalysis(ctx context.Context, cfg *config.Config, pipeline *prescription.Pipeline,
	logger zerolog.Logger) (prescription.Dispatcher, func(), error) {
	if cfg.NATSURL == "" {
		wp := prescription.NewWorkerPool(pipeline, cfg.AnalysisWorkers, cfg.AnalysisQueueSize, logger)
		wp.Start(ctx)
		return wp, wp.Stop, nil
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("medivault-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	d := prescription.NewNATSDispatcher(nc, cfg.AnalysisSubject, logger)
	if _, err := d.Subscribe(ctx, pipeline, analysisQueueGroup); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", cfg.AnalysisSubject, err)
	}
	stop := func() {
		if err := nc.Drain(); err != nil {
			logger.Warn().Err(err).Msg("nats drain failed")
		}
	}
	return d, stop, nil
}

// newRouter builds the echo instance with the full middleware chain. The
// API group is authenticated; health endpoints are not.
func newRouter(cfg *config.Config, logger zerolog.Logger, authMW echo.MiddlewareFunc,
	files *medicalfile.Handler, prescriptions *prescription.Handler, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID, auth.DevAccountHeader},
	}))
	e.Use(middleware.BodyLimit("1M", cfg.MaxUploadSize))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	uploadLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.UploadRateRPS,
		BurstSize:         cfg.UploadRateBurst,
		IdleTTL:           10 * time.Minute,
	})

	api := e.Group("/api/v1", authMW)
	files.RegisterRoutes(api, uploadLimit)
	prescriptions.RegisterRoutes(api, uploadLimit)
	return e
}

func authMiddleware(cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthJWTSecret == "" && cfg.AuthJWKSURL == "" {
		logger.Warn().Str("header", auth.DevAccountHeader).Msg("development auth enabled, accounts taken from request header")
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthJWTSecret),
	})
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()
	logger.Info().
		Str("storage", cfg.StorageBackend).
		Str("ocr", cfg.OCRProvider).
		Bool("redis_locks", cfg.RedisURL != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("backends ready")

	pipeline := d.newPipeline(cfg, logger)
	dispatcher, stopAnalysis, err := startAnalysis(ctx, cfg, pipeline, logger)
	if err != nil {
		return err
	}

	patients := patient.NewRepoPG(d.pool)
	fileSvc := medicalfile.NewService(medicalfile.NewRepoPG(d.pool), patients, d.blobs,
		pdfconv.NewConverter(), d.locks, logger)
	rxSvc := prescription.NewService(prescription.NewRepoPG(d.pool), patients, d.blobs,
		d.locks, dispatcher, logger)

	e := newRouter(cfg, logger, authMiddleware(cfg, logger),
		medicalfile.NewHandler(fileSvc), prescription.NewHandler(rxSvc),
		db.PoolHealthHandler(d.pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	// Queued analyses finish before the database pool closes.
	stopAnalysis()
	cancel()
	return nil
}
