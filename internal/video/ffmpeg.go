package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/exacqman/exacqman/internal/logging"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// Config holds the engine's configuration.
type Config struct {
	FFmpegPath  string        // path to ffmpeg binary; empty = from PATH
	FFprobePath string        // path to ffprobe binary; empty = from PATH
	WorkDir     string        // scratch dir for overlay schedules and previews
	Timeout     time.Duration // per-invocation timeout
	Logger      *slog.Logger
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(workDir string, logger *slog.Logger) Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		WorkDir:     workDir,
		Timeout:     30 * time.Minute,
		Logger:      logger,
	}
}

// Engine runs ffmpeg/ffprobe subprocesses for the transform and compression
// stages.
type Engine struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewEngine resolves the ffmpeg and ffprobe binaries and prepares the
// scratch directory.
func NewEngine(cfg Config) (*Engine, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}

	logger := logging.WithComponent(cfg.Logger, "video")
	logger.Info("video engine initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)

	return &Engine{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe, logger: logger}, nil
}

// WorkDir returns the engine's scratch directory.
func (e *Engine) WorkDir() string {
	return e.cfg.WorkDir
}

// ProbeResult is the stream geometry of a source video.
type ProbeResult struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Duration   float64
}

// Probe reads the first video stream's geometry. An unreadable or
// stream-less input is a SourceUnreadableError.
func (e *Engine) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	var payload struct {
		Streams []struct {
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			NbFrames   string `json:"nb_frames"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &payload); err != nil || len(payload.Streams) == 0 {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("no video stream in probe output")}
	}

	s := payload.Streams[0]
	result := &ProbeResult{Width: s.Width, Height: s.Height}
	result.FPS = parseRate(s.RFrameRate)
	result.Duration, _ = strconv.ParseFloat(payload.Format.Duration, 64)
	result.FrameCount, _ = strconv.Atoi(s.NbFrames)
	if result.FrameCount == 0 && result.Duration > 0 && result.FPS > 0 {
		// Some containers omit nb_frames; estimate from duration.
		result.FrameCount = int(result.Duration * result.FPS)
	}

	if result.Width <= 0 || result.Height <= 0 {
		return nil, &SourceUnreadableError{Path: path, Err: fmt.Errorf("probe reported %dx%d frame size", result.Width, result.Height)}
	}
	return result, nil
}

// run executes ffmpeg with the given args, keeping a bounded stderr tail.
func (e *Engine) run(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	start := time.Now()
	e.logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		tail := truncateTail(stderrBuf.String(), 512)
		e.logger.Warn("ffmpeg failed",
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", tail,
		)
		return fmt.Errorf("ffmpeg: %w: %s", err, tail)
	}

	e.logger.Info("ffmpeg succeeded", "duration_ms", elapsed.Milliseconds())
	return nil
}

// ExtractFrame writes the first frame of path as a still image, used by the
// interactive crop picker to show the operator what they are cropping.
func (e *Engine) ExtractFrame(ctx context.Context, path, outPath string) error {
	return e.run(ctx, []string{
		"-y",
		"-i", path,
		"-vframes", "1",
		outPath,
	})
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" && preferred != name {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func parseRate(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func truncateTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
