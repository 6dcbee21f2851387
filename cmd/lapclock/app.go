package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bnema/lapclock/config"
	"github.com/bnema/lapclock/internal/adapter/ffmpeg"
	"github.com/bnema/lapclock/internal/adapter/renderer"
	"github.com/bnema/lapclock/internal/adapter/storage/jsonfile"
	"github.com/bnema/lapclock/internal/adapter/storage/memory"
	sqlitestore "github.com/bnema/lapclock/internal/adapter/storage/sqlite"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/infrastructure/metrics"
	"github.com/bnema/lapclock/internal/port"
	"github.com/bnema/lapclock/internal/service"
)

// app is the wired render stack shared by the serve and render commands.
type app struct {
	orchestrator *service.Orchestrator
	uploads      *service.UploadService
	events       *service.EventBus
	metrics      *metrics.Metrics
	closers      []func() error
}

type appOptions struct {
	dataDir string
	store   string
	// withUploads backs uploads with the JSON file store under dataDir.
	withUploads bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	if err := os.MkdirAll(opts.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	workDir := cfg.WorkDir()
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	a := &app{events: service.NewEventBus(), metrics: metrics.New()}

	var jobs port.JobStore
	switch opts.store {
	case "memory":
		jobs = memory.NewJobStore()
	case "sqlite", "":
		store, err := sqlitestore.NewStore(opts.dataDir)
		if err != nil {
			return nil, fmt.Errorf("open job store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		log := logger.WithComponent("store")
		log.Debug().Int64("schema_version", store.SchemaVersion()).Msg("job store ready")
		jobs = store.Jobs()
	default:
		return nil, fmt.Errorf("unknown store %q", opts.store)
	}

	var uploadStore port.UploadStore
	if opts.withUploads {
		store, err := jsonfile.NewUploadStore(opts.dataDir)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open upload store: %w", err)
		}
		uploadStore = store
		a.uploads = service.NewUploadService(store, opts.dataDir)
	}

	engine := ffmpeg.NewEngine(ffmpeg.EngineConfig{
		FFmpegPath: cfg.FFmpeg.BinaryPath,
		KillGrace:  cfg.FFmpeg.KillGrace,
	})
	renderers := renderer.NewDefaultSet(renderer.Options{
		Engine: engine,
		Encode: renderer.EncodeSettings{
			CRF:     cfg.FFmpeg.CRF,
			Preset:  cfg.FFmpeg.Preset,
			Threads: cfg.FFmpeg.Threads,
		},
		FontFile: cfg.Render.FontFile,
		WorkDir:  workDir,
	})

	a.orchestrator = service.NewOrchestrator(
		service.OrchestratorConfig{
			MaxConcurrent: cfg.Render.MaxConcurrent,
			JobTimeout:    cfg.Render.JobTimeout,
			DataDir:       opts.dataDir,
		},
		jobs,
		uploadStore,
		ffmpeg.NewProber(cfg.FFmpeg.ProbePath),
		renderers,
		a.events,
		a.metrics,
	)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
