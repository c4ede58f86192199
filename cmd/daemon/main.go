// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/v2d/internal/api"
	"github.com/ManuGH/v2d/internal/auth"
	"github.com/ManuGH/v2d/internal/config"
	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/extract"
	"github.com/ManuGH/v2d/internal/jobs"
	v2dlog "github.com/ManuGH/v2d/internal/log"
	"github.com/ManuGH/v2d/internal/storage"
	"github.com/ManuGH/v2d/internal/transcribe"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	v2dlog.Configure(v2dlog.Config{
		Level:   "info",
		Service: "v2d",
		Version: version,
	})
	logger := v2dlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("could not load configuration")
	}

	// Reconfigure with the level from config.
	v2dlog.Configure(v2dlog.Config{
		Level:   cfg.LogLevel,
		Service: "v2d",
		Version: version,
	})

	if err := run(ctx, &cfg); err != nil {
		logger.Fatal().Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	logger := v2dlog.WithComponent("daemon")

	blobs, err := storage.NewLocal(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	decisions, err := decision.OpenStore(cfg.DecisionDB())
	if err != nil {
		return fmt.Errorf("init decision store: %w", err)
	}
	defer func() { _ = decisions.Close() }()

	transcriber, err := transcribe.New(transcribe.Config{
		BaseURL: cfg.TranscribeBaseURL,
		APIKey:  cfg.TranscribeAPIKey,
	})
	if err != nil {
		return fmt.Errorf("init transcriber: %w", err)
	}

	extractor, err := extract.New(extract.Config{
		BaseURL: cfg.ExtractBaseURL,
		APIKey:  cfg.ExtractAPIKey,
		Model:   cfg.ExtractModel,
	})
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	var registry jobs.Registry
	var janitor *jobs.Janitor
	switch cfg.RegistryBackend {
	case config.RegistryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = client.Close() }()
		registry = jobs.NewRedisRegistry(client, cfg.JobTTL)
		logger.Info().
			Str("event", "registry.redis").
			Str("addr", cfg.RedisAddr).
			Msg("using redis job registry")
	default:
		mem := jobs.NewMemoryRegistry()
		registry = mem
		janitor = jobs.NewJanitor(mem, cfg.JobTTL, cfg.JanitorInterval)
		logger.Info().
			Str("event", "registry.memory").
			Dur("job_ttl", cfg.JobTTL).
			Msg("using in-memory job registry")
	}

	pipeline, err := jobs.NewPipeline(jobs.PipelineDeps{
		Registry:     registry,
		Transcriber:  transcriber,
		Extractor:    extractor,
		Decisions:    decisions,
		StageTimeout: cfg.StageTimeout,
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	authenticator := auth.NewAuthenticator(cfg.APITokens)
	if !authenticator.Enabled() {
		logger.Warn().
			Str("event", "auth.no_tokens").
			Msg("no API tokens configured; every request will be rejected")
	}

	srv := api.NewServer(api.Deps{
		Registry:        registry,
		Store:           blobs,
		Pipeline:        pipeline,
		Decisions:       decisions,
		Auth:            authenticator,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadRateLimit: cfg.UploadRateLimit,
	})

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("event", "api.listening").
			Str("addr", cfg.ListenAddr).
			Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info().
				Str("event", "metrics.listening").
				Str("addr", cfg.MetricsAddr).
				Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if janitor != nil {
		g.Go(func() error {
			janitor.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "daemon.shutdown").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).
				Str("event", "api.shutdown_failed").
				Msg("API server did not stop cleanly")
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}

		// In-flight jobs get to finish; they are detached from request
		// contexts and bounded by the stage timeout.
		pipeline.Wait()
		return nil
	})

	return g.Wait()
}
