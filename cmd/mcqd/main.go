package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mcq-autopilot/internal/app"
	"mcq-autopilot/internal/config"
	"mcq-autopilot/internal/handlers"
	"mcq-autopilot/internal/httpserver"
	"mcq-autopilot/internal/metrics"
	"mcq-autopilot/internal/ocr"
	"mcq-autopilot/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("mcqd exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("config_path", os.Getenv(config.PathEnv)),
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_max_age", cfg.Cache.MaxAge),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("llm_stream", cfg.LLM.Stream),
		zap.String("adb_serial", cfg.Device.Serial),
		zap.Bool("use_coordinate_tapping", cfg.Device.UseCoordinateTapping),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Services -----
	services, err := app.New(ctx, cfg, logger,
		app.WithExtractor(ocr.NewTesseractExtractor(ocr.WithLanguages(cfg.Device.OCRLanguages...))),
	)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := services.Close(closeCtx); err != nil {
			logger.Error("services close error", zap.Error(err))
		}
	}()

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger,
		httpserver.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		},
		handlers.NewPipelineHandler(services.Pipeline),
		handlers.NewResolveHandler(services.Resolver),
	)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting mcqd", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
