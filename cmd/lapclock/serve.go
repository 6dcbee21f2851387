package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/lapclock/config"
	httpadapter "github.com/bnema/lapclock/internal/adapter/http"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and render workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.FromContext(cmd.Context())
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.WithComponent("serve")

	a, err := newApp(cfg, appOptions{dataDir: cfg.Server.DataDir, store: cfg.Server.Store, withUploads: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("close stores")
		}
	}()

	n, err := a.orchestrator.Recover()
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		log.Info().Int("jobs", n).Msg("marked interrupted jobs as failed")
	}

	server := httpadapter.NewServer(httpadapter.Config{
		MaxUploadSizeMB: cfg.Server.MaxUploadSizeMB,
		DefaultMode:     cfg.DefaultMode(),
		AllowInputPaths: cfg.Server.AllowInputPaths,
		SubmitLimit:     cfg.Server.SubmitRateLimit,
	}, a.orchestrator, a.uploads, a.events, a.metrics)
	go server.EvictIdleClients(ctx)

	// No write timeout: event streams and large downloads stay open.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Str("store", cfg.Server.Store).
			Int("max_concurrent", cfg.Render.MaxConcurrent).
			Str("version", version).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Jobs first: their event streams end once every job is terminal.
	if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("render workers did not stop in time")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
