package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/port"
)

const (
	DefaultMaxConcurrent = 2
	DefaultJobTimeout    = 30 * time.Minute
	DefaultProgressStep  = 1.0
)

var ErrShuttingDown = errors.New("orchestrator is shutting down")

// OrchestratorConfig tunes the orchestrator. Zero values take the defaults.
type OrchestratorConfig struct {
	MaxConcurrent int
	// JobTimeout bounds a single render. Zero or negative disables it.
	JobTimeout time.Duration
	DataDir    string
	// ProgressStep is the minimum growth, in percent, before progress is persisted.
	ProgressStep float64
}

// RendererSelector maps a requested mode to the strategy that will run it.
type RendererSelector interface {
	Select(mode domain.RenderMode) port.Renderer
}

// SubmitRequest describes one render. Mode falls back to filter-graph when
// empty or unknown.
type SubmitRequest struct {
	InputPath string
	UploadID  string
	// Filename names the rendered download. Defaults to the input's base name.
	Filename    string
	Laps        []domain.RawLap
	Mode        domain.RenderMode
	StartOffset float64
}

// Orchestrator accepts render jobs, runs at most MaxConcurrent of them at a
// time and tracks their lifecycle.
type Orchestrator struct {
	cfg       OrchestratorConfig
	store     port.JobStore
	uploads   port.UploadStore
	prober    port.Prober
	renderers RendererSelector
	events    EventPublisher
	metrics   port.Metrics
	log       zerolog.Logger
	now       func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	// mu guards everything below and every store mutation.
	mu      sync.Mutex
	queue   []*pendingJob
	active  int
	live    map[string]*domain.RenderJob
	running map[string]*runState
	closed  bool
}

type pendingJob struct {
	job        *domain.RenderJob
	rc         *domain.RenderContext
	renderer   port.Renderer
	outputName string
}

type runState struct {
	cancel    context.CancelCauseFunc
	persisted float64
	started   time.Time
}

// NewOrchestrator wires the job store, optional upload store, prober,
// renderer selection, event publisher and metrics. uploads may be nil when
// jobs only reference server-side paths.
func NewOrchestrator(
	cfg OrchestratorConfig,
	store port.JobStore,
	uploads port.UploadStore,
	prober port.Prober,
	renderers RendererSelector,
	events EventPublisher,
	metrics port.Metrics,
) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = DefaultProgressStep
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		uploads:    uploads,
		prober:     prober,
		renderers:  renderers,
		events:     events,
		metrics:    metrics,
		log:        logger.WithComponent("orchestrator"),
		now:        func() time.Time { return time.Now().UTC() },
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		live:       make(map[string]*domain.RenderJob),
		running:    make(map[string]*runState),
	}
}

func (o *Orchestrator) rendersDir() string {
	return filepath.Join(o.cfg.DataDir, "renders")
}

// Submit validates the request and queues a render. Validation failures are
// returned synchronously and never create a job.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	laps, err := domain.BuildTimeline(req.Laps)
	if err != nil {
		return "", err
	}

	if req.InputPath == "" {
		return "", fmt.Errorf("no input given: %w", domain.ErrInputNotFound)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return "", fmt.Errorf("%s: %w", req.InputPath, domain.ErrInputNotFound)
	}

	info, err := o.prober.Probe(ctx, req.InputPath)
	if err != nil {
		if errors.Is(err, domain.ErrInputNotFound) || errors.Is(err, domain.ErrInvalidVideo) {
			return "", err
		}
		return "", fmt.Errorf("probe %s: %v: %w", req.InputPath, err, domain.ErrInvalidVideo)
	}

	if err := os.MkdirAll(o.rendersDir(), 0755); err != nil {
		return "", fmt.Errorf("create renders directory: %w", err)
	}

	id := uuid.NewString()
	rc, err := domain.NewRenderContext(req.InputPath, filepath.Join(o.rendersDir(), id+".mp4"), info, laps, req.StartOffset)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateWindows(rc.Windows()); err != nil {
		return "", err
	}

	renderer := o.renderers.Select(req.Mode)
	job := domain.NewRenderJob(id, renderer.Mode(), req.InputPath, req.UploadID)

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.InputPath)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return "", ErrShuttingDown
	}
	if err := o.store.Create(job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	o.live[id] = job
	o.queue = append(o.queue, &pendingJob{job: job, rc: rc, renderer: renderer, outputName: OutputName(filename)})
	o.metrics.JobSubmitted(job.Mode)
	o.publishLocked(job, "status", "")

	o.log.Info().
		Str("job_id", id).
		Str("mode", string(job.Mode)).
		Int("laps", len(laps)).
		Str("input", logger.SanitizeForLog(req.InputPath)).
		Msg("job queued")

	o.dispatchLocked()
	return id, nil
}

// SubmitUpload queues a render of a previously uploaded video.
func (o *Orchestrator) SubmitUpload(ctx context.Context, uploadID string, laps []domain.RawLap, mode domain.RenderMode, startOffset float64) (string, error) {
	upload, err := o.uploads.Get(uploadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("upload %s: %w", uploadID, domain.ErrInputNotFound)
		}
		return "", err
	}
	return o.Submit(ctx, SubmitRequest{
		InputPath:   upload.Path,
		UploadID:    upload.ID,
		Filename:    upload.Filename,
		Laps:        laps,
		Mode:        mode,
		StartOffset: startOffset,
	})
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(id string) (domain.RenderJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if job, ok := o.live[id]; ok {
		return *job, nil
	}
	job, err := o.store.Get(id)
	if err != nil {
		return domain.RenderJob{}, err
	}
	return *job, nil
}

// List returns every known job, newest first.
func (o *Orchestrator) List() ([]domain.RenderJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stored, err := o.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RenderJob, len(stored))
	for i, job := range stored {
		if live, ok := o.live[job.ID]; ok {
			out[i] = *live
			continue
		}
		out[i] = *job
	}
	return out, nil
}

// Cancel stops a job. A queued job is finalized without ever running; a
// running job is interrupted and finalized by its own goroutine.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()

	if job, ok := o.live[id]; ok {
		if run, ok := o.running[id]; ok {
			run.cancel(domain.ErrCancelled)
			o.mu.Unlock()
			o.log.Info().Str("job_id", id).Msg("cancel requested")
			return nil
		}

		o.removeQueuedLocked(id)
		o.finishLocked(job, domain.ErrorKindCancelled, domain.ErrCancelled.Error(), 0)
		o.metrics.SetQueueDepth(o.active, len(o.queue))
		o.mu.Unlock()

		o.log.Info().Str("job_id", id).Msg("queued job cancelled")
		o.releaseUpload(job)
		return nil
	}

	job, err := o.store.Get(id)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return domain.ErrTerminal
	}
	// Left behind by a previous process and not yet recovered.
	return domain.ErrNotFound
}

// Recover fails jobs left queued or running by a previous process.
func (o *Orchestrator) Recover() (int, error) {
	o.mu.Lock()
	stale, err := o.store.ListByStatus(domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		o.mu.Unlock()
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	var recovered []*domain.RenderJob
	for _, job := range stale {
		if _, ok := o.live[job.ID]; ok {
			continue
		}
		job.MarkFailed(domain.ErrorKindInternal, "interrupted by restart", o.now())
		if err := o.store.Update(job); err != nil {
			o.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark stale job")
			continue
		}
		recovered = append(recovered, job)
	}
	o.mu.Unlock()

	for _, job := range recovered {
		o.removeOutput(job.ID, filepath.Join(o.rendersDir(), job.ID+".mp4"))
		o.releaseUpload(job)
	}
	if len(recovered) > 0 {
		o.log.Warn().Int("jobs", len(recovered)).Msg("recovered jobs interrupted by restart")
	}
	return len(recovered), nil
}

// Shutdown stops accepting work, cancels queued and running jobs and waits
// for the job goroutines to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	queued := o.queue
	o.queue = nil
	for _, p := range queued {
		o.finishLocked(p.job, domain.ErrorKindCancelled, ErrShuttingDown.Error(), 0)
	}
	o.metrics.SetQueueDepth(o.active, 0)
	o.mu.Unlock()

	for _, p := range queued {
		o.releaseUpload(p.job)
	}
	o.baseCancel(fmt.Errorf("%w: %w", domain.ErrCancelled, ErrShuttingDown))

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked starts queued jobs while a slot is free.
func (o *Orchestrator) dispatchLocked() {
	for o.active < o.cfg.MaxConcurrent && len(o.queue) > 0 && !o.closed {
		p := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]

		ctx, cancel := o.jobContext()
		now := o.now()
		p.job.MarkRunning(now)
		if err := o.store.Update(p.job); err != nil {
			o.log.Error().Err(err).Str("job_id", p.job.ID).Msg("failed to persist running state")
		}

		o.active++
		o.running[p.job.ID] = &runState{cancel: cancel, started: now}
		o.publishLocked(p.job, "status", "")

		o.wg.Add(1)
		go o.run(ctx, p)
	}
	o.metrics.SetQueueDepth(o.active, len(o.queue))
}

func (o *Orchestrator) jobContext() (context.Context, context.CancelCauseFunc) {
	parent := o.baseCtx
	stopTimeout := func() {}
	if o.cfg.JobTimeout > 0 {
		parent, stopTimeout = context.WithTimeoutCause(o.baseCtx, o.cfg.JobTimeout, domain.ErrTimeout)
	}
	ctx, cancel := context.WithCancelCause(parent)
	return ctx, func(cause error) {
		cancel(cause)
		stopTimeout()
	}
}

func (o *Orchestrator) removeQueuedLocked(id string) {
	for i, p := range o.queue {
		if p.job.ID == id {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// finishLocked moves a job to the error state and drops it from the live set.
func (o *Orchestrator) finishLocked(job *domain.RenderJob, kind domain.ErrorKind, message string, elapsed time.Duration) {
	job.MarkFailed(kind, message, o.now())
	if err := o.store.Update(job); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist job failure")
	}
	delete(o.live, job.ID)
	o.metrics.JobFinished(job.Mode, job.Status, job.ErrorKind, elapsed)
	o.publishLocked(job, "status", message)
}

func (o *Orchestrator) publishLocked(job *domain.RenderJob, eventType, message string) {
	if o.events == nil {
		return
	}
	o.events.Publish(job.ID, Event{
		Type:     eventType,
		Status:   string(job.Status),
		Progress: job.Progress,
		Message:  message,
	})
}

func (o *Orchestrator) releaseUpload(job *domain.RenderJob) {
	if job.UploadID == "" || o.uploads == nil {
		return
	}
	if err := o.uploads.Remove(job.UploadID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.log.Warn().Err(err).Str("job_id", job.ID).Str("upload_id", job.UploadID).Msg("failed to release upload")
	}
}

func (o *Orchestrator) removeOutput(jobID, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.log.Warn().Err(err).Str("job_id", jobID).Str("path", path).Msg("failed to remove partial output")
	}
}

// OutputName is the download name for a render of filename.
func OutputName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "render"
	}
	return base + "-lapclock.mp4"
}
