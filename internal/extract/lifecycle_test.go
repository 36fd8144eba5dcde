package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

type fakeSession struct {
	script []int

	polls    int
	deletes  int
	lastName string

	requestErr  error
	statusErr   error
	downloadErr error
}

func (f *fakeSession) ExportRequest(ctx context.Context, cameraID int, start, stop time.Time, name string) (string, error) {
	if f.requestErr != nil {
		return "", f.requestErr
	}
	f.lastName = name
	return "exp-1", nil
}

func (f *fakeSession) ExportStatus(ctx context.Context, exportID string) (int, error) {
	if f.statusErr != nil {
		return 0, f.statusErr
	}
	if f.polls >= len(f.script) {
		return f.script[len(f.script)-1], nil
	}
	p := f.script[f.polls]
	f.polls++
	return p, nil
}

func (f *fakeSession) ExportDownload(ctx context.Context, exportID, destDir string, progress func(written, total int64)) (string, error) {
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if progress != nil {
		progress(512, 1024)
	}
	return filepath.Join(destDir, "export.mp4"), nil
}

func (f *fakeSession) ExportDelete(ctx context.Context, exportID string) error {
	f.deletes++
	return nil
}

// fastClock never waits. When cancelAfter is set it cancels the run's
// context on the Nth sleep, which simulates a caller giving up between
// polls.
type fastClock struct {
	sleeps      int
	cancelAfter int
	cancel      context.CancelFunc
}

func (c *fastClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	if c.cancel != nil && c.sleeps >= c.cancelAfter {
		c.cancel()
	}
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLifecycle(session ExportSession) *Lifecycle {
	l := NewLifecycle(session, DefaultLifecycleConfig(), testLogger())
	l.SetClock(&fastClock{})
	return l
}

func runLifecycle(t *testing.T, l *Lifecycle) (string, error) {
	t.Helper()
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	return l.Run(context.Background(), 7, start, start.Add(time.Hour), "", t.TempDir(), nil)
}

func TestLifecycleCompletes(t *testing.T) {
	session := &fakeSession{script: []int{10, 50, 100}}
	l := testLifecycle(session)

	path, err := runLifecycle(t, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filepath.Base(path) != "export.mp4" {
		t.Errorf("path = %q, want export.mp4", path)
	}
	if got := l.State(); got != StateDone {
		t.Errorf("state = %q, want %q", got, StateDone)
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1", session.deletes)
	}
}

func TestLifecycleForwardsDownloadProgress(t *testing.T) {
	session := &fakeSession{script: []int{100}}
	l := testLifecycle(session)

	var written, total int64
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	_, err := l.Run(context.Background(), 7, start, start.Add(time.Hour), "", t.TempDir(), func(w, tot int64) {
		written, total = w, tot
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if written != 512 || total != 1024 {
		t.Errorf("progress = (%d, %d), want (512, 1024)", written, total)
	}
}

func TestLifecycleStallBudget(t *testing.T) {
	// Six consecutive polls at the same value: the first establishes the
	// baseline, the next five exhaust the budget.
	session := &fakeSession{script: []int{10, 10, 10, 10, 10, 10}}
	l := testLifecycle(session)

	_, err := runLifecycle(t, l)
	var timedOut *ExportTimedOutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("err = %v, want ExportTimedOutError", err)
	}
	if timedOut.Progress != 10 {
		t.Errorf("Progress = %d, want 10", timedOut.Progress)
	}
	if got := l.State(); got != StateTimedOut {
		t.Errorf("state = %q, want %q", got, StateTimedOut)
	}
	if session.polls != 6 {
		t.Errorf("polls = %d, want 6", session.polls)
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1", session.deletes)
	}
}

func TestLifecycleStallCounterResets(t *testing.T) {
	// Progress sits at 10 for five polls, then moves. The reset buys a
	// fresh budget and the export completes.
	session := &fakeSession{script: []int{10, 10, 10, 10, 10, 20, 20, 20, 100}}
	l := testLifecycle(session)

	if _, err := runLifecycle(t, l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := l.State(); got != StateDone {
		t.Errorf("state = %q, want %q", got, StateDone)
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1", session.deletes)
	}
}

func TestLifecycleDeleteOnStatusError(t *testing.T) {
	session := &fakeSession{statusErr: errors.New("session expired")}
	l := testLifecycle(session)

	if _, err := runLifecycle(t, l); err == nil {
		t.Fatal("Run succeeded, want status error")
	}
	if got := l.State(); got != StateFailed {
		t.Errorf("state = %q, want %q", got, StateFailed)
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1", session.deletes)
	}
}

func TestLifecycleDeleteOnDownloadError(t *testing.T) {
	session := &fakeSession{script: []int{100}, downloadErr: errors.New("connection reset")}
	l := testLifecycle(session)

	if _, err := runLifecycle(t, l); err == nil {
		t.Fatal("Run succeeded, want download error")
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1", session.deletes)
	}
}

func TestLifecycleNoDeleteBeforeRequest(t *testing.T) {
	session := &fakeSession{requestErr: errors.New("unknown camera")}
	l := testLifecycle(session)

	if _, err := runLifecycle(t, l); err == nil {
		t.Fatal("Run succeeded, want request error")
	}
	if session.deletes != 0 {
		t.Errorf("deletes = %d, want 0: nothing to clean up without an export ID", session.deletes)
	}
}

func TestLifecycleCancelledBetweenPolls(t *testing.T) {
	session := &fakeSession{script: []int{10, 20, 30, 40}}
	l := NewLifecycle(session, DefaultLifecycleConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Sleep 1 is the grace period, sleep 2 the first poll interval.
	l.SetClock(&fastClock{cancelAfter: 2, cancel: cancel})

	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	_, err := l.Run(ctx, 7, start, start.Add(time.Hour), "", t.TempDir(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := l.State(); got != StateFailed {
		t.Errorf("state = %q, want %q", got, StateFailed)
	}
	if session.deletes != 1 {
		t.Errorf("deletes = %d, want 1: cleanup must survive cancellation", session.deletes)
	}
}
