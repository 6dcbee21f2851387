package service

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/bnema/lapclock/internal/domain"
)

// run executes one job on its own goroutine and finalizes it.
func (o *Orchestrator) run(ctx context.Context, p *pendingJob) {
	defer o.wg.Done()

	id := p.job.ID
	log := o.log.With().Str("job_id", id).Str("mode", string(p.job.Mode)).Logger()
	log.Info().Msg("render started")

	output, err := o.render(ctx, p)

	// The context is checked under the lock so a Cancel accepted while the
	// renderer was returning still ends the job cancelled. Cancellation and
	// timeout win over the engine error they caused.
	o.mu.Lock()
	if ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if err != nil {
		o.removeOutput(id, p.rc.OutputPath())
		if output != "" && output != p.rc.OutputPath() {
			o.removeOutput(id, output)
		}
	}

	run := o.running[id]
	delete(o.running, id)
	o.active--
	run.cancel(nil)

	elapsed := o.now().Sub(run.started)
	job := p.job
	if err != nil {
		o.finishLocked(job, domain.KindOf(err), err.Error(), elapsed)
	} else {
		job.MarkComplete(output, p.outputName, o.now())
		if uerr := o.store.Update(job); uerr != nil {
			log.Error().Err(uerr).Msg("failed to persist completion")
		}
		delete(o.live, id)
		o.metrics.JobFinished(job.Mode, job.Status, job.ErrorKind, elapsed)
		o.publishLocked(job, "status", "")
	}
	o.dispatchLocked()
	snapshot := *job
	o.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("kind", string(snapshot.ErrorKind)).Dur("elapsed", elapsed).Msg("render failed")
	} else {
		log.Info().Str("output", snapshot.OutputPath).Dur("elapsed", elapsed).Msg("render complete")
	}
	o.releaseUpload(&snapshot)
}

func (o *Orchestrator) render(ctx context.Context, p *pendingJob) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().
				Str("job_id", p.job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("renderer panicked")
			output, err = "", fmt.Errorf("renderer panic: %v", r)
		}
	}()

	return p.renderer.Render(ctx, p.rc, func(fraction float64) {
		o.reportProgress(p.job.ID, fraction)
	})
}

// reportProgress records a renderer's fraction. Values are capped below
// completion, never move backwards and are persisted in ProgressStep steps.
func (o *Orchestrator) reportProgress(id string, fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 0.99 {
		fraction = 0.99
	}
	pct := fraction * 100

	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.live[id]
	run, running := o.running[id]
	if !ok || !running || job.Status != domain.JobStatusRunning || pct <= job.Progress {
		return
	}

	job.Progress = pct
	if pct-run.persisted < o.cfg.ProgressStep {
		return
	}
	run.persisted = pct
	if err := o.store.Update(job); err != nil {
		o.log.Error().Err(err).Str("job_id", id).Msg("failed to persist progress")
	}
	o.publishLocked(job, "progress", "")
}
