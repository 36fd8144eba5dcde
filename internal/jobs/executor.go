package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/extract"
	"github.com/exacqman/exacqman/internal/video"
)

// Executor runs one job to completion, reporting progress along the way,
// and returns the path of the artifact it produced.
type Executor interface {
	Execute(ctx context.Context, job *Job, progress func(percent int, message string)) (string, error)
}

// PipelineExecutor dispatches jobs to the extraction pipeline and the
// video engine.
type PipelineExecutor struct {
	Pipeline *extract.Pipeline
	Engine   *video.Engine
	Store    *artifacts.Store
	FontFile string
}

func (e *PipelineExecutor) Execute(ctx context.Context, job *Job, progress func(int, string)) (string, error) {
	switch job.Type {
	case TypeExtract:
		return e.runExtract(ctx, job, progress)
	case TypeCompress:
		return e.runCompress(ctx, job, progress)
	case TypeTimelapse:
		return e.runTimelapse(ctx, job, progress)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (e *PipelineExecutor) runExtract(ctx context.Context, job *Job, progress func(int, string)) (string, error) {
	var params ExtractParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return "", fmt.Errorf("decode extract params: %w", err)
	}

	settings := extract.Settings{
		CameraAlias: params.CameraAlias,
		CameraID:    params.CameraID,
		Start:       params.Start,
		Stop:        params.Stop,
		OutputName:  params.Output,
		Multiplier:  params.Multiplier,
		Quality:     video.Quality(params.Quality),
		Crop:        params.Crop != nil,
		CropRegion:  params.Crop,
		Caption:     params.Caption,
		FontFile:    e.FontFile,
		Overlay:     params.Overlay,
	}

	artifact, err := e.Pipeline.Extract(ctx, settings, progress)
	if err != nil {
		return "", err
	}
	return artifact.Path, nil
}

func (e *PipelineExecutor) runCompress(ctx context.Context, job *Job, progress func(int, string)) (string, error) {
	var params CompressParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return "", fmt.Errorf("decode compress params: %w", err)
	}

	src, err := e.Store.Open(params.Source)
	if err != nil {
		return "", err
	}

	progress(10, "compressing")
	result, err := e.Engine.Compress(ctx, src, video.CompressOptions{
		Quality: video.Quality(params.Quality),
		Output:  e.scratchName(params.Source, params.Quality),
	})
	if err != nil {
		return "", err
	}
	defer e.Store.CleanupIntermediates(result.Path)

	progress(90, "finalizing")
	name := params.Output
	if name == "" {
		name = suffixedName(params.Source, params.Quality)
	}
	final, err := e.Store.Finalize(result.Path, name)
	if err != nil {
		return "", err
	}
	progress(100, "completed")
	return final, nil
}

func (e *PipelineExecutor) runTimelapse(ctx context.Context, job *Job, progress func(int, string)) (string, error) {
	var params TimelapseParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return "", fmt.Errorf("decode timelapse params: %w", err)
	}
	if params.Multiplier < 1 {
		return "", fmt.Errorf("multiplier must be a positive integer, got %d", params.Multiplier)
	}

	src, err := e.Store.Open(params.Source)
	if err != nil {
		return "", err
	}

	progress(5, "building timelapse")
	transformed, err := e.Engine.Transform(ctx, src, video.TransformOptions{
		Multiplier: params.Multiplier,
		Crop:       params.Crop,
		Caption:    params.Caption,
		FontFile:   e.FontFile,
		Output:     e.scratchName(params.Source, fmt.Sprintf("%dx", params.Multiplier)),
	})
	if err != nil {
		return "", err
	}
	defer e.Store.CleanupIntermediates(transformed.Path)

	progress(70, "compressing")
	var cropRes *video.Region
	if params.Crop != nil {
		cropRes = &video.Region{Width: transformed.Width, Height: transformed.Height}
	}
	compressed, err := e.Engine.Compress(ctx, transformed.Path, video.CompressOptions{
		Quality:        video.Quality(params.Quality),
		CropResolution: cropRes,
	})
	if err != nil {
		return "", err
	}
	defer e.Store.CleanupIntermediates(compressed.Path)

	progress(95, "finalizing")
	name := params.Output
	if name == "" {
		name = suffixedName(params.Source, fmt.Sprintf("%dx", params.Multiplier))
	}
	final, err := e.Store.Finalize(compressed.Path, name)
	if err != nil {
		return "", err
	}
	progress(100, "completed")
	return final, nil
}

// scratchName places an intermediate output in the engine's work dir so
// half-written files never appear in the artifact store.
func (e *PipelineExecutor) scratchName(source, suffix string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(e.Engine.WorkDir(), fmt.Sprintf("%s_%s.mp4", name, suffix))
}

// suffixedName derives a final artifact name: dock.mp4 + "10x" ->
// dock_10x.mp4.
func suffixedName(source, suffix string) string {
	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".mp4"
	}
	return strings.TrimSuffix(filepath.Base(source), ext) + "_" + suffix + ext
}
