package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/caption-gateway/internal/config"
	"github.com/lexiqai/caption-gateway/internal/httpapi"
	"github.com/lexiqai/caption-gateway/internal/jobs"
	"github.com/lexiqai/caption-gateway/internal/observability"
	"github.com/lexiqai/caption-gateway/internal/relay"
	"github.com/lexiqai/caption-gateway/internal/stt"
	"github.com/lexiqai/caption-gateway/internal/transcript"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	runDir, err := transcript.NewRunDir(cfg.RootDir, cfg.CourseName, time.Now())
	if err != nil {
		return err
	}
	sink, err := transcript.OpenSink(runDir.TranscriptPath())
	if err != nil {
		return err
	}
	defer sink.Close()

	// A nil *AudioStore inside the interface would still be called
	var audioSaver relay.AudioSaver
	var audioStore *transcript.AudioStore
	if cfg.SaveAudio {
		audioStore = transcript.NewAudioStore(runDir.AudioDir, cfg.AudioQueueSize)
		audioSaver = audioStore
	}

	provider := newProvider(cfg)
	registry := relay.NewRegistry()
	rl := relay.New(provider, sink, audioSaver, registry, relay.OptionsFromConfig(cfg))

	var orchestrator *jobs.Orchestrator
	if cfg.SonioxAPIKey != "" {
		orchestrator = jobs.NewOrchestrator(jobs.NewRegistry(), stt.NewAsyncClient(cfg), jobs.OptionsFromConfig(cfg))
	} else {
		logger.Warn().Msg("SONIOX_API_KEY not set, upload transcription disabled")
	}

	checks := readinessChecks(cfg, runDir)

	logger.Info().
		Str("port", cfg.Port).
		Str("provider", provider.Name()).
		Str("run_dir", runDir.Root).
		Str("source_language", cfg.SourceLanguage()).
		Str("target_language", cfg.TranslationTarget()).
		Bool("save_audio", cfg.SaveAudio).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption gateway starting")

	router := httpapi.NewRouter(httpapi.Deps{
		Relay:           rl,
		Jobs:            orchestrator,
		TranscriptPath:  runDir.TranscriptPath(),
		UploadsDir:      runDir.UploadsDir,
		MaxUploadBytes:  cfg.MaxUploadMB << 20,
		ReadinessChecks: checks,
		MetricsEnabled:  cfg.MetricsEnabled,
	})

	// Uploads can be large, so only the header read is bounded
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var grpcHealth *observability.GRPCHealthServer
	if cfg.GRPCHealthPort != "" {
		grpcHealth, err = observability.NewGRPCHealthServer(cfg.GRPCHealthPort, checks)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcHealth.Serve(ctx, 10*time.Second); err != nil {
				logger.Error().Err(err).Msg("gRPC health service failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ingest", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownLog := logger.Info().Int("sessions", registry.Len())
	if orchestrator != nil {
		shutdownLog = shutdownLog.Int("jobs", orchestrator.Registry().Len())
	}
	shutdownLog.Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown. Sessions
	// must be gone before the deferred sink close.
	if err := registry.CloseAll(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Caption sessions did not stop in time")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if orchestrator != nil {
		orchestrator.Shutdown()
	}
	if audioStore != nil {
		audioStore.Close()
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

func newProvider(cfg *config.Config) stt.Provider {
	if cfg.STTProvider == config.ProviderDeepgram {
		return stt.NewDeepgramProvider(cfg)
	}
	return stt.NewSonioxProvider(cfg)
}

// readinessChecks validate configuration and storage without calling the
// provider, which would bill for an idle session
func readinessChecks(cfg *config.Config, runDir *transcript.RunDir) map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"stt": func(ctx context.Context) (bool, error) {
			switch cfg.STTProvider {
			case config.ProviderSoniox:
				if cfg.SonioxAPIKey == "" {
					return false, fmt.Errorf("soniox api key not configured")
				}
			case config.ProviderDeepgram:
				if cfg.DeepgramAPIKey == "" {
					return false, fmt.Errorf("deepgram api key not configured")
				}
			}
			return true, nil
		},
		"storage": func(ctx context.Context) (bool, error) {
			info, err := os.Stat(runDir.Root)
			if err != nil {
				return false, err
			}
			if !info.IsDir() {
				return false, fmt.Errorf("%s is not a directory", runDir.Root)
			}
			return true, nil
		},
	}
}
