package video

import (
	"context"
	"fmt"
	"os"
)

// qualityTarget is one row of the fixed quality table.
type qualityTarget struct {
	Bitrate string
	Width   int
	Height  int
}

var qualityTable = map[Quality]qualityTarget{
	QualityLow:    {Bitrate: "250k", Width: 1280, Height: 720},
	QualityMedium: {Bitrate: "500k", Width: 1920, Height: 1080},
	QualityHigh:   {Bitrate: "1M", Width: 1920, Height: 1080},
}

// CompressOptions configures one compression pass.
type CompressOptions struct {
	Quality Quality
	// CropResolution, when non-nil, overrides the quality table's default
	// resolution: cropped footage keeps its cropped dimensions instead of
	// being scaled to the tier's target.
	CropResolution *Region
	// Output is the destination path. Empty derives "<src>_<bitrate>.mp4".
	Output string
}

// Compress re-encodes input at the tier's bitrate and resolution.
func (e *Engine) Compress(ctx context.Context, input string, opts CompressOptions) (*Result, error) {
	target, ok := qualityTable[opts.Quality]
	if !ok {
		return nil, &InvalidQualityError{Value: string(opts.Quality)}
	}

	probe, err := e.Probe(ctx, input)
	if err != nil {
		return nil, err
	}

	outW, outH := target.Width, target.Height
	scale := true
	if opts.CropResolution != nil {
		outW, outH = opts.CropResolution.Width, opts.CropResolution.Height
		// The footage already has its cropped size; re-scaling it away
		// from that is exactly what the override exists to prevent.
		scale = false
	}

	output := opts.Output
	if output == "" {
		output = derivedName(input, target.Bitrate)
	}

	args := []string{
		"-y",
		"-i", input,
	}
	if scale {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", outW, outH))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-b:v", target.Bitrate,
		"-maxrate", target.Bitrate,
		"-bufsize", target.Bitrate,
		"-pix_fmt", "yuv420p",
		output,
	)

	e.logger.Info("compression started",
		"quality", string(opts.Quality),
		"bitrate", target.Bitrate,
		"target_size", fmt.Sprintf("%dx%d", outW, outH),
	)

	if err := e.run(ctx, args); err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("compression pass: %w", err)
	}

	return &Result{Path: output, Width: outW, Height: outH, FPS: probe.FPS}, nil
}

// TargetFor resolves the effective bitrate and resolution for a quality
// tier with an optional crop override. Exposed for validation and tests.
func TargetFor(quality Quality, crop *Region) (bitrate string, width, height int, err error) {
	target, ok := qualityTable[quality]
	if !ok {
		return "", 0, 0, &InvalidQualityError{Value: string(quality)}
	}
	if crop != nil {
		return target.Bitrate, crop.Width, crop.Height, nil
	}
	return target.Bitrate, target.Width, target.Height, nil
}
