package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/proctor/internal/adapters/archive"
	"github.com/okian/proctor/internal/adapters/auth"
	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/http/swagger"
	"github.com/okian/proctor/internal/adapters/realtime"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/session"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 15 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	configFile := pflag.StringP("config", "c", "", "YAML config file (overrides $PROCTOR_CONFIG)")
	envFile := pflag.String("env-file", "", "dotenv file (overrides $PROCTOR_ENV_FILE)")
	addr := pflag.String("addr", "", "HTTP listen address (overrides config)")
	pflag.Parse()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> .env -> env)
	cfg, err := config.Load(ctx, config.WithFile(*configFile), config.WithEnvFile(*envFile))
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "proctor exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	hub, hubCloser, err := buildHub(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, hubCloser)

	archiver, archiveCloser, err := buildArchiver(ctx, cfg, log)
	if err != nil {
		return err
	}
	if archiveCloser != nil {
		closers = append(closers, archiveCloser)
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithShardCount(cfg.ShardCount),
		app.WithIdentityInterval(cfg.IdentityCheckInterval),
		app.WithAnalysisTimeout(cfg.AnalysisTimeout()),
		app.WithRetention(cfg.EndedRetention()),
		app.WithDetector(cfg.DetectorURL, cfg.DetectorTimeout()),
		app.WithPublisher(hub),
	}
	if archiver != nil {
		opts = append(opts, app.WithArchiver(archiver))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	if cfg.DetectorURL == "" {
		log.Warn(ctx, "no detector_url configured; frames will be counted without observations")
	}

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, svc)

	apiOpts := []api.Option{
		api.WithLive(hub),
		api.WithProber(svc),
		api.WithMaxFrameBytes(cfg.MaxFrameBytes),
	}
	guard, err := buildGuard(cfg)
	if err != nil {
		return err
	}
	if guard != nil {
		apiOpts = append(apiOpts, api.WithGuard(guard))
	}

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc.Manager(), svc, apiOpts...).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// buildHub creates the live hub, bridged over Redis when redis_addr is set.
func buildHub(ctx context.Context, cfg *config.Config) (*realtime.Hub, io.Closer, error) {
	origins := realtime.WithAllowedOrigins(cfg.AllowedOrigins()...)
	if cfg.RedisAddr == "" {
		hub := realtime.NewHub(origins)
		return hub, closerFunc(func() error { hub.Close(); return nil }), nil
	}
	client, err := realtime.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	hub := realtime.NewHub(origins, realtime.WithBridge(realtime.NewRedisBridge(client)))
	return hub, closerFunc(func() error {
		hub.Close()
		return client.Close()
	}), nil
}

// buildArchiver wires every configured archive target. It returns a nil
// archiver when none is configured.
func buildArchiver(ctx context.Context, cfg *config.Config, log logger.Logger) (session.Archiver, io.Closer, error) {
	var (
		targets []archive.Target
		closer  io.Closer
	)
	if cfg.PostgresDSN != "" {
		pool, err := archive.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		pg := archive.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		closer = closerFunc(func() error { pool.Close(); return nil })
		targets = append(targets, pg)
	}
	if cfg.S3Bucket != "" {
		client, err := archive.NewS3Client(ctx, archive.S3Config{
			Region: cfg.S3Region,
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
		})
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, err
		}
		targets = append(targets, archive.NewS3(client, cfg.S3Bucket, cfg.S3Prefix))
	}
	if len(targets) == 0 {
		return nil, nil, nil
	}

	multi, err := archive.NewMulti(targets...)
	if err != nil {
		return nil, closer, err
	}
	log.Info(ctx, "archiving ended sessions", logger.Any("targets", multi.Targets()))
	return multi, closer, nil
}

// buildGuard returns the bearer-token middleware when jwt_secret is set.
func buildGuard(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	v, err := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	return v.Middleware, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes queue and session gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats refreshes the gauges as a side effect.
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
