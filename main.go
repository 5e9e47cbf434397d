package main

import (
	"context"
	"encoding/json"
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
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/example/malaria-detect/internal/classifier"
	"github.com/example/malaria-detect/internal/config"
	"github.com/example/malaria-detect/internal/handlers"
	"github.com/example/malaria-detect/internal/logging"
	"github.com/example/malaria-detect/internal/preprocess"
	"github.com/example/malaria-detect/internal/reducer"
	"github.com/example/malaria-detect/internal/usecase"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "malaria-detect",
		Usage:          "Classify microscope cell images as Parasitized or Uninfected",
		Version:        version,
		Flags:          config.Flags(),
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve predictions over HTTP",
				Action: runServe,
			},
			{
				Name:      "predict",
				Usage:     "Classify a local image file and print the result as JSON",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "model",
						Aliases: []string{"m"},
						Value:   "svm",
						Usage:   "Model to use (svm, logistic)",
					},
				},
				Action: runPredict,
			},
		},
	}
}

func runServe(c *cli.Context) error {
	cfg := config.FromContext(c)

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	pca, models, err := loadPipeline(cfg, logger)
	if err != nil {
		logger.Fatal("failed to load model artifacts", zap.Error(err))
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
		defer cancel()
		cache = usecase.NewRedisCache(initRedis(ctx, cfg.RedisAddr, logger))
	}
	uc := usecase.NewPredictionUseCase(pca, models, cache, cfg.CacheTTL, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.AccessLog(logger))
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, cfg.MaxUploadBytes)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", cfg.Addr))
	}
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	logger.Info("prediction API listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("pca_components", pca.Components()),
		zap.Bool("cache", cache != nil),
	)
	if err := serveUntilSignal(server, listener, signals, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	return nil
}

func runPredict(c *cli.Context) error {
	cfg := config.FromContext(c)
	if c.NArg() != 1 {
		return errors.New("expected exactly one image path")
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}
	pca, models, err := loadPipeline(cfg, logger)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	uc := usecase.NewPredictionUseCase(pca, models, nil, 0, logger)
	result, err := uc.Predict(c.Context, "", c.String("model"), data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// loadPipeline reads the PCA and every classifier artifact named by cfg.
func loadPipeline(cfg config.Config, logger *zap.Logger) (*reducer.PCA, map[string]*classifier.Adapter, error) {
	pca, err := reducer.LoadPCA(cfg.PCAPath())
	if err != nil {
		return nil, nil, err
	}
	if pca.Features() != preprocess.FeatureLen {
		return nil, nil, fmt.Errorf("pca expects %d features, preprocessing yields %d", pca.Features(), preprocess.FeatureLen)
	}
	logger.Info("loaded pca",
		zap.String("path", cfg.PCAPath()),
		zap.Int("features", pca.Features()),
		zap.Int("components", pca.Components()),
	)

	models := make(map[string]*classifier.Adapter)
	for _, spec := range cfg.ModelSpecs() {
		model, err := classifier.LoadModel(spec.Path)
		if err != nil {
			return nil, nil, err
		}
		adapter, err := classifier.NewAdapter(spec.Name, model)
		if err != nil {
			return nil, nil, err
		}
		if adapter.Features() != pca.Components() {
			return nil, nil, fmt.Errorf("model %s expects %d features, pca yields %d", spec.Key, adapter.Features(), pca.Components())
		}
		models[spec.Key] = adapter
		logger.Info("loaded model",
			zap.String("key", spec.Key),
			zap.String("path", spec.Path),
			zap.Stringer("confidence_strategy", adapter.Strategy()),
		)
	}
	return pca, models, nil
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", addr))
	}
	return client
}

// serveUntilSignal serves on listener until it fails or a signal arrives, then
// drains in-flight predictions for at most drainTimeout.
func serveUntilSignal(server *http.Server, listener net.Listener, signals <-chan os.Signal, drainTimeout time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		served <- err
	}()

	select {
	case err := <-served:
		return err
	case sig, ok := <-signals:
		if !ok {
			return <-served
		}
		logger.Info("draining in-flight predictions", zap.Stringer("signal", sig), zap.Duration("timeout", drainTimeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-served
}
