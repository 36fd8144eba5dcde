package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/exacqman/exacqman/internal/logging"
	"github.com/exacqman/exacqman/internal/metrics"
)

// Runner drains the queue one job at a time. Jobs are strictly serial:
// the NVR tolerates one export per session and ffmpeg saturates the host
// on its own.
type Runner struct {
	repo         Repository
	executor     Executor
	metrics      *metrics.Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo Repository, executor Executor, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		executor:     executor,
		metrics:      m,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: 2 * time.Second,
	}
}

// Start blocks until ctx is cancelled, picking up queued jobs as they
// appear.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	queued, err := r.repo.ListQueued(ctx)
	if err != nil {
		r.logger.Error("failed to list queued jobs", "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	job := queued[0]
	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("processing job", "type", job.Type)

	if err := r.repo.UpdateStatus(ctx, job.ID, StatusRunning, ""); err != nil {
		logger.Error("failed to mark job running", "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.JobsInProgress.Inc()
		defer r.metrics.JobsInProgress.Dec()
	}

	started := time.Now()
	artifact, err := r.executor.Execute(ctx, job, func(percent int, message string) {
		if uerr := r.repo.UpdateProgress(ctx, job.ID, percent, message); uerr != nil {
			logger.Warn("failed to record progress", "error", uerr)
		}
	})

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		logger.Error("job failed", "type", job.Type, "error", err)
		if uerr := r.repo.UpdateStatus(ctx, job.ID, StatusFailed, err.Error()); uerr != nil {
			logger.Error("failed to mark job failed", "error", uerr)
		}
	} else {
		if uerr := r.repo.SetArtifact(ctx, job.ID, artifact); uerr != nil {
			logger.Error("failed to record artifact", "error", uerr)
		}
		if uerr := r.repo.UpdateStatus(ctx, job.ID, StatusCompleted, ""); uerr != nil {
			logger.Error("failed to mark job completed", "error", uerr)
		}
		logger.Info("job completed", "type", job.Type, "artifact", artifact, "duration", time.Since(started))
	}

	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(job.Type, status).Inc()
		r.metrics.JobDuration.WithLabelValues(job.Type, status).Observe(time.Since(started).Seconds())
	}
}

// ActiveJobCount reports how many jobs are currently marked running.
func (r *Runner) ActiveJobCount(ctx context.Context) int {
	count, err := r.repo.CountByStatus(ctx, StatusRunning)
	if err != nil {
		return 0
	}
	return count
}
