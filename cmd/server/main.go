// Screenlog server - captures the screen on a timer, keeps the frames that
// changed and extracts their text in the background
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/screenlog/internal/archive"
	"github.com/GriffinCanCode/screenlog/internal/config"
	"github.com/GriffinCanCode/screenlog/internal/ocr"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/dedup"
	"github.com/GriffinCanCode/screenlog/internal/queue"
	"github.com/GriffinCanCode/screenlog/internal/screen"
	"github.com/GriffinCanCode/screenlog/internal/server"
	"github.com/GriffinCanCode/screenlog/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := config.Load()
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	settings, err := loadSettings(cfg)
	if err != nil {
		return err
	}

	algo, err := dedup.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		return err
	}

	grabber, err := screen.New()
	if err != nil {
		return err
	}
	defer func() { _ = grabber.Close() }()

	pipeline := ocr.NewPipeline(ocr.DefaultTable(ctx, ocr.TableConfig{
		Command:            cfg.OCRCommand,
		Shortcuts:          cfg.Shortcuts,
		TesseractLanguages: cfg.TesseractLanguages,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		GeminiModel:        cfg.GeminiModel,
		WorkDir:            filepath.Join(cfg.DataDir, "ocr"),
	})...)

	mgr, err := orchestrator.New(orchestrator.Options{
		Grabber:    grabber,
		Hasher:     dedup.NewHasher(algo),
		Archive:    archive.New(cfg.ScreenshotsDir()),
		Store:      db,
		OCR:        pipeline,
		Settings:   settings,
		Dispatcher: dispatcherFactory(cfg),
		OCRTimeout: cfg.OCRTotalTimeout,
	})
	if err != nil {
		_ = pipeline.Close()
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			slog.Error("manager close error", "error", err)
		}
	}()

	srv := server.New(mgr).WithOrigins(cfg.AllowedOrigins...)
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
		// OCR extraction requests can take a while.
		WriteTimeout: 2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("screenlog server starting",
			"http", cfg.HTTPAddr,
			"grpc", cfg.GRPCAddr,
			"data", cfg.DataDir,
			"ocr", pipeline.Strategies(),
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error { return srv.Broadcast(gctx) })

	g.Go(func() error {
		mgr.RunRetention(gctx)
		return nil
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gs, health := server.NewGRPC(mgr)
		g.Go(func() error { return gs.Serve(lis) })
		g.Go(func() error { return health.Run(gctx, server.HealthRefreshInterval) })
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadSettings(cfg *config.Config) (config.SettingsStore, error) {
	if cfg.SettingsFile == "" {
		return config.NewMemorySettings(cfg.Defaults), nil
	}
	return config.NewFileSettings(cfg.SettingsFile, cfg.Defaults)
}

func dispatcherFactory(cfg *config.Config) orchestrator.DispatcherFactory {
	return func(h queue.Handler) (queue.Dispatcher, error) {
		if cfg.RedisAddr == "" {
			return queue.NewLocal(cfg.OCRConcurrency, h), nil
		}
		slog.Info("ocr jobs via redis", "addr", cfg.RedisAddr)
		return queue.NewAsynq(cfg.RedisAddr, cfg.OCRConcurrency, h)
	}
}
