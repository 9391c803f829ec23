package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/example/catdog-api/internal/auth"
	"github.com/example/catdog-api/internal/config"
	"github.com/example/catdog-api/internal/handlers"
	"github.com/example/catdog-api/internal/imageprocessor"
	"github.com/example/catdog-api/internal/kserve"
	"github.com/example/catdog-api/internal/logging"
	"github.com/example/catdog-api/internal/prediction"
	"github.com/example/catdog-api/internal/ratelimit"
	"github.com/example/catdog-api/internal/repository"
	"github.com/example/catdog-api/internal/usecase"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	app := cli.NewApp()
	app.Name = "catdog-api"
	app.Usage = "classify uploaded images with a remote cat/dog model"
	app.Flags = config.Flags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pipeline, err := imageprocessor.NewPipeline(cfg.Pipeline())
	if err != nil {
		return fmt.Errorf("image pipeline: %w", err)
	}
	labels, err := prediction.NewLabelMap(cfg.ClassLabels, cfg.TargetLabel)
	if err != nil {
		return fmt.Errorf("class labels: %w", err)
	}
	client, err := kserve.NewClient(kserve.Config{
		Host:  cfg.InferenceHost,
		Port:  cfg.InferencePort,
		Model: cfg.ModelName,
	}, logger)
	if err != nil {
		return fmt.Errorf("inference client: %w", err)
	}

	opts := usecase.Options{
		Timeout: cfg.InferenceTimeout,
		Probes:  []usecase.ReadinessProbe{client},
	}

	if cfg.InferenceGRPCAddr != "" {
		probe, err := kserve.DialHealthProbe(ctx, cfg.InferenceGRPCAddr, "", logger)
		if err != nil {
			return err
		}
		defer probe.Close()
		opts.Probes = append(opts.Probes, probe)
	}

	if cfg.DatabaseDriver != "" {
		db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
		if err != nil {
			return err
		}
		repo := repository.NewInferenceRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		opts.Audit = repo
	}

	uc := usecase.NewInferenceUseCase(pipeline, client, prediction.NewTranslator(labels), opts, logger)

	routeOpts := handlers.Options{
		MaxUploadSize:  cfg.MaxUploadSize,
		MetricsEnabled: opts.Audit != nil,
	}
	if cfg.JWTSecret != "" {
		routeOpts.MetricsAuth = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}
	limiter, err := initLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if limiter != nil {
		routeOpts.InferMiddleware = append(routeOpts.InferMiddleware, ratelimit.Middleware(limiter, logger))
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize
	handlers.RegisterRoutes(r, uc, routeOpts, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newCORS(cfg.FrontendOrigin).Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("catdog API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("infer_url", client.InferURL()),
		zap.Strings("labels", labels.Labels()),
		zap.String("target_label", labels.Target()),
		zap.Duration("inference_timeout", cfg.InferenceTimeout),
		zap.Bool("audit", opts.Audit != nil),
		zap.Bool("rate_limit", limiter != nil))
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger)
}

func newCORS(origin string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
}

// initLimiter prefers a shared Redis window and falls back to process memory.
// A zero rate disables limiting.
func initLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.RateLimitPerMinute == 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute), nil
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(redisCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("rate limiting through redis", zap.String("addr", cfg.RedisAddr))
	return ratelimit.NewRedisLimiter(ratelimit.NewRedisCounter(client), cfg.RateLimitPerMinute), nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
