package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicekit/voicegate/pkg/config"
	"github.com/voicekit/voicegate/pkg/engine"
	"github.com/voicekit/voicegate/pkg/engine/sherpa"
	"github.com/voicekit/voicegate/pkg/server"
	"github.com/voicekit/voicegate/pkg/speaker"
	"github.com/voicekit/voicegate/pkg/stream"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	cache := engine.NewCache(&sherpa.Factory{}, logger)
	pool := stream.NewPool(cfg.Pool.Workers)

	store, err := newStore(cfg.Registry)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := newRegistry(cfg, cache, store, logger)
	if err != nil {
		return err
	}

	srv := server.New(cfg, cache, registry, pool, logger)
	srv.Warmup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Addr, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newStore(cfg config.RegistryConfig) (speaker.Store, error) {
	switch cfg.Backend {
	case "badger":
		return speaker.NewBadgerStore(speaker.BadgerStoreOptions{
			Dir: filepath.Join(cfg.Dir, "registry"),
		})
	default:
		return speaker.NewFileStore(cfg.Dir), nil
	}
}

// newRegistry sizes the registry to the encoder's embedding dimension.
// A missing speaker model disables the speaker endpoints instead of
// failing startup; recognition and synthesis still serve.
func newRegistry(cfg *config.Config, cache *engine.Cache, store speaker.Store, logger *slog.Logger) (*speaker.Registry, error) {
	enc, err := cache.SpeakerEncoder(engine.ModelConfig{
		ID:         cfg.Models.Speaker,
		Dir:        filepath.Join(cfg.Models.Root, cfg.Models.Speaker),
		SampleRate: cfg.Audio.SampleRate,
	})
	if err != nil {
		logger.Warn("speaker features disabled", "error", err)
		return nil, nil
	}
	return speaker.NewRegistry(cfg.Models.Speaker, enc.Dimension(),
		cfg.Models.Threshold, store, logger)
}
