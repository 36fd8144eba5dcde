package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/logging"
	"github.com/exacqman/exacqman/internal/metrics"
	"github.com/exacqman/exacqman/internal/nvr"
	"github.com/exacqman/exacqman/internal/video"
)

// Settings is the immutable configuration of one extraction run. It is
// assembled once (config defaults overridden by the request) and passed by
// value; nothing mutates it after the run starts.
type Settings struct {
	CameraAlias string
	CameraID    int
	Start       time.Time
	Stop        time.Time
	OutputName  string

	Multiplier int
	Quality    video.Quality
	Crop       bool
	CropRegion *video.Region
	Caption    string
	FontFile   string

	// Overlay disables the timestamp overlay when false.
	Overlay bool
}

// Validate rejects settings that would fail mid-run, before any network or
// codec work begins.
func (s Settings) Validate() error {
	if s.Multiplier < 1 {
		return fmt.Errorf("multiplier must be a positive integer, got %d", s.Multiplier)
	}
	if _, err := video.ParseQuality(string(s.Quality)); err != nil {
		return err
	}
	if !s.Stop.After(s.Start) {
		return fmt.Errorf("stop %v must be after start %v", s.Stop, s.Start)
	}
	if s.Crop && s.CropRegion != nil && !s.CropRegion.Valid() {
		return &video.InvalidCropError{Region: *s.CropRegion}
	}
	if (s.Overlay || s.Caption != "") && s.FontFile == "" {
		return fmt.Errorf("timestamp overlay and caption require a font file, none configured")
	}
	return nil
}

// Artifact is the outcome of a successful run.
type Artifact struct {
	Path   string
	Width  int
	Height int
	Frames int
}

// ProgressFunc receives coarse progress for a run: a 0-100 percentage and
// a short human-readable message.
type ProgressFunc func(percent int, message string)

// Phase weights for the overall run percentage. Retrieval dominates wall
// time on real servers; the split follows the original job tracker.
const (
	phasePollEnd     = 40
	phaseDownloadEnd = 60
	phaseXformEnd    = 85
)

// Pipeline wires one NVR client to the video engine and the artifact
// store. It owns credentials and logs in once per run; the session is
// single-owner for the run's duration.
type Pipeline struct {
	Client    *nvr.Client
	User      string
	Pass      string
	Engine    *video.Engine
	Regions   video.RegionProvider
	Store     *artifacts.Store
	WorkDir   string
	Lifecycle LifecycleConfig
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Extract runs the full retrieval + transform + compress pipeline and
// returns the final artifact. Intermediate files are cleaned up on every
// path; the NVR session is logged out on every path.
func (p *Pipeline) Extract(ctx context.Context, settings Settings, progress ProgressFunc) (*Artifact, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	logger := logging.WithComponent(p.Logger, "extract").With("camera_id", settings.CameraID)

	progress(0, "logging in")
	session, err := p.Client.Login(ctx, p.User, p.Pass)
	if err != nil {
		return nil, err
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.Logout(logoutCtx); err != nil {
			logger.Warn("logout failed", "error", err)
		}
	}()

	progress(2, "requesting export")
	lifecycle := NewLifecycle(session, p.Lifecycle, p.Logger)
	var lastWritten int64
	downloaded, err := lifecycle.Run(ctx, settings.CameraID, settings.Start, settings.Stop,
		settings.OutputName, p.WorkDir,
		func(written, total int64) {
			if p.Metrics != nil && written > lastWritten {
				p.Metrics.DownloadBytes.Add(float64(written - lastWritten))
				lastWritten = written
			}
			if total > 0 {
				pct := phasePollEnd + int(float64(written)/float64(total)*float64(phaseDownloadEnd-phasePollEnd))
				progress(pct, "downloading export")
			}
		})
	if err != nil {
		if p.Metrics != nil {
			var stalled *ExportTimedOutError
			if errors.As(err, &stalled) {
				p.Metrics.ExportStallTotal.Inc()
			}
		}
		return nil, err
	}
	defer p.Store.CleanupIntermediates(downloaded)

	var timestamps []time.Time
	if settings.Overlay {
		progress(phaseDownloadEnd, "resolving timestamps")
		timestamps, err = session.ResolveTimestamps(ctx, settings.CameraID, settings.Start, settings.Stop)
		if err != nil {
			return nil, err
		}
		if len(timestamps) == 0 {
			logger.Warn("no recorded clips in window, overlay disabled")
		}
	}

	var crop *video.Region
	if settings.Crop {
		provider := p.Regions
		if settings.CropRegion != nil {
			provider = &video.StaticRegionProvider{Region: *settings.CropRegion}
		}
		if provider == nil {
			return nil, errors.New("crop requested but no region provider configured")
		}
		probe, err := p.Engine.Probe(ctx, downloaded)
		if err != nil {
			return nil, err
		}
		region, err := provider.SelectRegion(ctx, downloaded, probe)
		if err != nil {
			return nil, err
		}
		crop = &region
	}

	progress(phaseDownloadEnd+2, "building timelapse")
	transformed, err := p.Engine.Transform(ctx, downloaded, video.TransformOptions{
		Multiplier: settings.Multiplier,
		Crop:       crop,
		Timestamps: timestamps,
		Caption:    settings.Caption,
		FontFile:   settings.FontFile,
	})
	if err != nil {
		return nil, err
	}
	defer p.Store.CleanupIntermediates(transformed.Path)

	progress(phaseXformEnd, "compressing")
	var cropRes *video.Region
	if crop != nil {
		cropRes = &video.Region{Width: transformed.Width, Height: transformed.Height}
	}
	compressed, err := p.Engine.Compress(ctx, transformed.Path, video.CompressOptions{
		Quality:        settings.Quality,
		CropResolution: cropRes,
	})
	if err != nil {
		return nil, err
	}

	name := settings.OutputName
	if name == "" {
		name = fmt.Sprintf("%s_%s_%dx.mp4",
			settings.Start.Format("2006-01-02"), settings.CameraAlias, settings.Multiplier)
	}
	final, err := p.Store.Finalize(compressed.Path, name)
	if err != nil {
		return nil, err
	}

	progress(100, "completed")
	logger.Info("extraction complete", "artifact", final, "frames", transformed.Frames)

	return &Artifact{
		Path:   final,
		Width:  compressed.Width,
		Height: compressed.Height,
		Frames: transformed.Frames,
	}, nil
}
