// Package extract drives a full retrieval run: the export request/poll/
// download/delete lifecycle against the NVR, timestamp resolution over the
// same session, and the transform and compression stages that produce the
// final artifact.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/exacqman/exacqman/internal/logging"
)

// State is one step of the export lifecycle.
type State string

const (
	StateRequested   State = "requested"
	StatePolling     State = "polling"
	StateReady       State = "ready"
	StateDownloading State = "downloading"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateTimedOut    State = "timed_out"
)

// ExportTimedOutError indicates the stall budget was exhausted: too many
// consecutive polls reported the same non-complete progress value.
type ExportTimedOutError struct {
	ExportID string
	Progress int
}

func (e *ExportTimedOutError) Error() string {
	return fmt.Sprintf("export %s stalled at %d%% and timed out", e.ExportID, e.Progress)
}

// ExportSession is the slice of the NVR session the lifecycle controller
// needs. *nvr.Session satisfies it.
type ExportSession interface {
	ExportRequest(ctx context.Context, cameraID int, start, stop time.Time, name string) (string, error)
	ExportStatus(ctx context.Context, exportID string) (int, error)
	ExportDownload(ctx context.Context, exportID, destDir string, progress func(written, total int64)) (string, error)
	ExportDelete(ctx context.Context, exportID string) error
}

// Clock abstracts waiting so the poll/stall policy is testable without
// real delays.
type Clock interface {
	// Sleep waits for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LifecycleConfig tunes the poll/stall policy.
type LifecycleConfig struct {
	// Grace is the initial wait after the export request before the
	// first status poll.
	Grace time.Duration
	// Interval is the wait between status polls.
	Interval time.Duration
	// StallBudget is how many consecutive unchanged-progress polls are
	// tolerated before the export is declared timed out.
	StallBudget int
	// DeleteDelay is the settle time before the cleanup delete call.
	DeleteDelay time.Duration
}

// DefaultLifecycleConfig mirrors the server's observed pacing: a short
// grace, 5s polls, five stalled polls allowed.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Grace:       2 * time.Second,
		Interval:    5 * time.Second,
		StallBudget: 5,
		DeleteDelay: 2 * time.Second,
	}
}

// Lifecycle drives one export through request, poll, download and the
// unconditional delete.
type Lifecycle struct {
	session ExportSession
	clock   Clock
	cfg     LifecycleConfig
	logger  *slog.Logger

	state    State
	exportID string
}

func NewLifecycle(session ExportSession, cfg LifecycleConfig, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		session: session,
		clock:   realClock{},
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "lifecycle"),
	}
}

// SetClock replaces the wait source. Tests use this to run the poll loop
// without real time passing.
func (l *Lifecycle) SetClock(c Clock) {
	l.clock = c
}

// State returns the controller's current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Run executes the full lifecycle and returns the downloaded file's path.
// Whatever the outcome, once an export ID exists the server-side export is
// deleted exactly once; a failed delete is logged and never replaces the
// original error. Cancellation is honored at poll boundaries and the
// cleanup still runs.
func (l *Lifecycle) Run(ctx context.Context, cameraID int, start, stop time.Time, name, destDir string, progress func(written, total int64)) (path string, err error) {
	l.state = StateRequested

	exportID, err := l.session.ExportRequest(ctx, cameraID, start, stop, name)
	if err != nil {
		l.state = StateFailed
		return "", fmt.Errorf("export request (camera %d): %w", cameraID, err)
	}
	l.exportID = exportID
	logger := logging.WithExportID(l.logger, exportID)

	// Cleanup obligation: the delete call runs on every exit path from
	// here on, with its own context so cancellation cannot skip it.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		l.clock.Sleep(cleanupCtx, l.cfg.DeleteDelay)
		if derr := l.session.ExportDelete(cleanupCtx, exportID); derr != nil {
			logger.Error("export cleanup delete failed", "error", derr)
		} else {
			logger.Info("export deleted")
		}
	}()

	if err := l.poll(ctx, logger); err != nil {
		return "", err
	}

	l.state = StateDownloading
	path, err = l.session.ExportDownload(ctx, exportID, destDir, progress)
	if err != nil {
		l.state = StateFailed
		return "", fmt.Errorf("export download (export %s): %w", exportID, err)
	}

	l.state = StateDone
	return path, nil
}

// poll waits until the export reports 100%, tracking stalls. The stall
// counter increments only when a poll repeats the previous progress value
// and resets on any increase.
func (l *Lifecycle) poll(ctx context.Context, logger *slog.Logger) error {
	l.state = StatePolling

	if err := l.clock.Sleep(ctx, l.cfg.Grace); err != nil {
		l.state = StateFailed
		return fmt.Errorf("export cancelled: %w", err)
	}

	last := -1
	stalls := 0
	for {
		p, err := l.session.ExportStatus(ctx, l.exportID)
		if err != nil {
			l.state = StateFailed
			return fmt.Errorf("export status (export %s): %w", l.exportID, err)
		}

		if p >= 100 {
			l.state = StateReady
			logger.Info("export ready")
			return nil
		}

		if p == last {
			stalls++
		} else {
			stalls = 0
		}
		last = p

		logger.Info("export in progress", "progress", p, "stalls", stalls)

		if stalls >= l.cfg.StallBudget {
			l.state = StateTimedOut
			return &ExportTimedOutError{ExportID: l.exportID, Progress: p}
		}

		if err := l.clock.Sleep(ctx, l.cfg.Interval); err != nil {
			l.state = StateFailed
			return fmt.Errorf("export cancelled: %w", err)
		}
	}
}
