package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"salescast/auth"
	"salescast/cache"
	"salescast/config"
	"salescast/db"
	qhttp "salescast/http"
	"salescast/logging"
	"salescast/ml"
	"salescast/monitoring"
	"salescast/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ../config.yaml)")
	flag.Parse()

	// Look for config in root even if run from cmd/
	path := *configPath
	if path == "" {
		path = config.ResolvePath("config.yaml")
	}

	// 1. Load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Build logger
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("config loaded", zap.String("path", path), zap.String("variant", cfg.ML.Variant))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("salescast stopped", zap.Error(err))
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize database
	store, err := db.InitDB(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("driver", store.Driver()))

	// 4. Fit the encoder on the historical dataset; serving without it is impossible
	variant, err := ml.ParseVariant(cfg.ML.Variant)
	if err != nil {
		return err
	}
	dataset, err := pipeline.LoadHistorical(cfg.ML.Dataset.Path, pipeline.LoadOptions{
		Sheet:         cfg.ML.Dataset.Sheet,
		Variant:       variant,
		ReferenceYear: cfg.ML.ReferenceYear,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	enc, err := ml.Fit(dataset.Rows, ml.FitOptions{Variant: variant, ReferenceYear: cfg.ML.ReferenceYear})
	if err != nil {
		return fmt.Errorf("fit encoder: %w", err)
	}
	logger.Info("encoder fitted",
		zap.String("schema", enc.Schema().Version),
		zap.Int("rows", len(dataset.Rows)),
		zap.Float64("weight_mean", enc.WeightMean()),
		zap.String("fingerprint", enc.Fingerprint()),
	)

	// 5. Prediction cache
	resultCache, closeCache, err := cache.New(ctx, cache.Options{
		Backend:   cfg.Cache.Backend,
		Size:      cfg.Cache.Size,
		RedisAddr: cfg.Cache.RedisAddr,
		Prefix:    cfg.Cache.Prefix,
		TTL:       cfg.Cache.TTL,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer closeCache()

	// 6. Live feed and model
	hub := monitoring.NewHub(cfg.HTTP.AllowedOrigins, logger)
	go hub.Run(ctx)

	predictor := ml.NewPredictor(enc, ml.PredictorOptions{
		ModelPath: cfg.ML.ModelPath,
		Cache:     resultCache,
		Logger:    logger,
		OnReload: func(meta ml.ModelMetadata) {
			err := hub.Publish(monitoring.ModelReloaded, monitoring.ModelEvent{
				ModelType:     string(meta.ModelType),
				SchemaVersion: meta.SchemaVersion,
				TrainedAt:     meta.TrainedAt,
			})
			if err != nil {
				logger.Warn("failed to publish model reload", zap.Error(err))
			}
		},
	})
	if ready, reason := predictor.Ready(); !ready {
		logger.Warn("serving without a model", zap.String("reason", reason))
	}
	if cfg.ML.WatchModel {
		if err := predictor.Watch(ctx); err != nil {
			logger.Warn("model watcher not started", zap.Error(err))
		}
	}

	deps := qhttp.Dependencies{
		Predictor:   predictor,
		Predictions: store,
		AuthEnabled: cfg.Auth.Enabled,
		Hub:         hub,
		Metrics:     monitoring.NewMetricsCollector(),
		Logger:      logger,
	}

	// 7. Accounts
	if cfg.Auth.Enabled {
		sessions, err := auth.NewSessionManager(auth.SessionOptions{
			Secret: cfg.Auth.SessionSecret,
			TTL:    cfg.Auth.SessionTTL,
			Secure: cfg.Auth.SecureCookie,
		})
		if err != nil {
			return fmt.Errorf("session manager: %w", err)
		}
		deps.Sessions = sessions
		deps.Users = auth.NewService(store, auth.NewBcryptHasher(cfg.Auth.BcryptCost), logger)
	}

	// 8. Start HTTP server
	server, err := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, deps)
	if err != nil {
		return err
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 9. Handle graceful shutdown
	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received", zap.String("addr", server.Addr()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		logger.Warn("websocket hub did not stop in time")
	}
	return nil
}
