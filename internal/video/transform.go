package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Overlay layout constants: the timestamp sits centered with a 10%
	// bottom margin, the caption above it at 85% height with 0.8x the
	// timestamp's font size.
	stampBaseline    = 0.90
	captionBaseline  = 0.85
	captionFontRatio = 0.8

	overlayTimeFormat = "2006-01-02 15:04:05"
)

// Transform runs the single sequential frame pass: subsample by the
// multiplier, apply the (clamped) crop, overlay timestamps and caption,
// and write a new container at the source frame rate.
func (e *Engine) Transform(ctx context.Context, sourcePath string, opts TransformOptions) (*Result, error) {
	if opts.Multiplier < 1 {
		return nil, fmt.Errorf("multiplier must be a positive integer, got %d", opts.Multiplier)
	}

	probe, err := e.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	outW, outH := probe.Width, probe.Height
	var crop *Region
	if opts.Crop != nil {
		clamped, adjusted := opts.Crop.Clamp(probe.Width, probe.Height)
		if !clamped.Valid() {
			return nil, &InvalidCropError{Region: *opts.Crop}
		}
		if adjusted {
			e.logger.Warn("crop region exceeds frame bounds, clamped",
				"requested", fmt.Sprintf("%dx%d+%d+%d", opts.Crop.Width, opts.Crop.Height, opts.Crop.X, opts.Crop.Y),
				"effective", fmt.Sprintf("%dx%d+%d+%d", clamped.Width, clamped.Height, clamped.X, clamped.Y),
				"frame", fmt.Sprintf("%dx%d", probe.Width, probe.Height),
			)
		}
		crop = &clamped
		outW, outH = clamped.Width, clamped.Height
	}

	output := opts.Output
	if output == "" {
		output = derivedName(sourcePath, fmt.Sprintf("%dx", opts.Multiplier))
	}

	var schedulePath string
	if len(opts.Timestamps) > 0 {
		if opts.FontFile == "" {
			return nil, fmt.Errorf("timestamp overlay requires a font file")
		}
		schedulePath = filepath.Join(e.cfg.WorkDir, filepath.Base(output)+".cmd")
		schedule := overlaySchedule(opts.Timestamps, probe.FrameCount, opts.Multiplier, probe.FPS)
		if err := os.WriteFile(schedulePath, []byte(schedule), 0644); err != nil {
			return nil, fmt.Errorf("write overlay schedule: %w", err)
		}
		defer os.Remove(schedulePath)
	}

	filter := buildTransformFilter(opts, crop, outW, schedulePath)

	args := []string{
		"-y",
		"-i", sourcePath,
		"-vf", filter,
		"-an",
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		output,
	}

	e.logger.Info("transform started",
		"source_frames", probe.FrameCount,
		"multiplier", opts.Multiplier,
		"output_frames", ExpectedOutputFrames(probe.FrameCount, opts.Multiplier),
		"output_size", fmt.Sprintf("%dx%d", outW, outH),
		"overlay", len(opts.Timestamps) > 0,
	)

	if err := e.run(ctx, args); err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("transform pass: %w", err)
	}

	return &Result{
		Path:   output,
		Width:  outW,
		Height: outH,
		FPS:    probe.FPS,
		Frames: ExpectedOutputFrames(probe.FrameCount, opts.Multiplier),
	}, nil
}

// buildTransformFilter assembles the ffmpeg filter chain. Order matters:
// subsample first so the overlay schedule addresses output frames, then
// crop so the font scale fits the cropped width, then the text overlays.
func buildTransformFilter(opts TransformOptions, crop *Region, outWidth int, schedulePath string) string {
	var chain []string

	if opts.Multiplier > 1 {
		chain = append(chain,
			fmt.Sprintf(`select='not(mod(n\,%d))'`, opts.Multiplier),
			"setpts=N/FRAME_RATE/TB",
		)
	}

	if crop != nil {
		chain = append(chain, fmt.Sprintf("crop=%d:%d:%d:%d", crop.Width, crop.Height, crop.X, crop.Y))
	}

	if len(opts.Timestamps) > 0 {
		size := FontSizeFor(outWidth)
		chain = append(chain, fmt.Sprintf("sendcmd=f=%s", escapeFilterArg(schedulePath)))
		chain = append(chain, fmt.Sprintf(
			"drawtext@stamp=fontfile=%s:fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h*%.2f-text_h:text=''",
			escapeFilterArg(opts.FontFile), size, stampBaseline,
		))
		if opts.Caption != "" {
			chain = append(chain, fmt.Sprintf(
				"drawtext=fontfile=%s:fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h*%.2f-text_h:text=%s",
				escapeFilterArg(opts.FontFile), int(float64(FontSizeFor(outWidth))*captionFontRatio), captionBaseline,
				escapeFilterArg(opts.Caption),
			))
		}
	}

	if len(chain) == 0 {
		return "null"
	}
	return strings.Join(chain, ",")
}

// overlaySchedule builds the sendcmd file that retargets the timestamp
// drawtext for every output frame. Output frame k shows source frame
// k*multiplier, whose timestamp index is its proportional position in the
// sequence.
func overlaySchedule(timestamps []time.Time, totalFrames, multiplier int, fps float64) string {
	if fps <= 0 {
		fps = 30
	}
	outFrames := ExpectedOutputFrames(totalFrames, multiplier)

	var b strings.Builder
	for k := 0; k < outFrames; k++ {
		srcFrame := k * multiplier
		idx := TimestampIndex(srcFrame, totalFrames, len(timestamps))
		text := timestamps[idx].Format(overlayTimeFormat)
		t := float64(k) / fps
		fmt.Fprintf(&b, "%.4f drawtext@stamp reinit 'text=%s';\n", t, escapeCommandText(text))
	}
	return b.String()
}

// escapeFilterArg escapes characters that terminate or structure ffmpeg
// filter arguments.
func escapeFilterArg(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		":", `\:`,
		"'", `\'`,
		",", `\,`,
		"[", `\[`,
		"]", `\]`,
		";", `\;`,
	)
	return r.Replace(s)
}

// escapeCommandText escapes a drawtext value inside a sendcmd quoted arg.
func escapeCommandText(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		":", `\:`,
		"'", `\'`,
		";", `\;`,
	)
	return r.Replace(s)
}

// derivedName appends a suffix to a path's stem: video.mp4 -> video_10x.mp4.
func derivedName(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}
