// Package video turns a downloaded export into the final artifact: a
// subsampled, optionally cropped and timestamp-annotated timelapse,
// re-encoded at a fixed quality tier. All frame work is delegated to
// ffmpeg/ffprobe subprocesses; the frame math (subsampling cadence,
// crop clamping, timestamp mapping, font scaling) lives here so it can
// be tested without a codec.
package video

import (
	"fmt"
	"time"
)

// Quality selects a fixed bitrate/resolution target for compression.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality validates a quality tier string.
func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case QualityLow, QualityMedium, QualityHigh:
		return Quality(s), nil
	}
	return "", &InvalidQualityError{Value: s}
}

// Region is a rectangular sub-area of each frame, in source pixel space.
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Clamp fits the region inside a frameW x frameH frame, shrinking any
// overshoot. A zero or negative dimension is left as-is so Valid rejects
// it. The second return reports whether anything was adjusted.
func (r Region) Clamp(frameW, frameH int) (Region, bool) {
	c := r
	if c.X < 0 {
		c.X = 0
	}
	if c.Y < 0 {
		c.Y = 0
	}
	if c.X > frameW {
		c.X = frameW
	}
	if c.Y > frameH {
		c.Y = frameH
	}
	if c.Width > 0 && c.X+c.Width > frameW {
		c.Width = frameW - c.X
	}
	if c.Height > 0 && c.Y+c.Height > frameH {
		c.Height = frameH - c.Y
	}
	return c, c != r
}

// Valid reports whether the region has positive area.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.X >= 0 && r.Y >= 0
}

// TransformOptions configures one transform pass over a source video.
type TransformOptions struct {
	// Multiplier keeps every Nth frame. Must be >= 1.
	Multiplier int
	// Crop, when non-nil, is validated against the probed frame size and
	// clamped if it overshoots.
	Crop *Region
	// Timestamps, when non-empty, are overlaid per frame by proportional
	// position mapping.
	Timestamps []time.Time
	// Caption is optional text rendered above the timestamp.
	Caption string
	// FontFile is the TTF used for overlays; required when Timestamps or
	// Caption are set.
	FontFile string
	// Output is the destination path. Empty derives "<src>_<N>x.mp4".
	Output string
}

// Result describes a finished transform or compress pass.
type Result struct {
	Path   string
	Width  int
	Height int
	FPS    float64
	// Frames is the expected output frame count (ceil(source/multiplier)).
	Frames int
}

// SourceUnreadableError indicates the input video cannot be opened or
// probed. Fatal, never retried.
type SourceUnreadableError struct {
	Path string
	Err  error
}

func (e *SourceUnreadableError) Error() string {
	return fmt.Sprintf("cannot read source video %s: %v", e.Path, e.Err)
}

func (e *SourceUnreadableError) Unwrap() error { return e.Err }

// InvalidQualityError indicates a quality value outside the three tiers.
type InvalidQualityError struct {
	Value string
}

func (e *InvalidQualityError) Error() string {
	return fmt.Sprintf("invalid quality %q (want low, medium or high)", e.Value)
}

// InvalidCropError indicates a crop region that cannot be repaired by
// clamping (zero or negative size).
type InvalidCropError struct {
	Region Region
}

func (e *InvalidCropError) Error() string {
	return fmt.Sprintf("invalid crop region %dx%d at (%d,%d)", e.Region.Width, e.Region.Height, e.Region.X, e.Region.Y)
}

// ExpectedOutputFrames is the frame count a subsampled pass produces:
// every frame whose index is a multiple of the multiplier survives.
func ExpectedOutputFrames(totalFrames, multiplier int) int {
	if totalFrames <= 0 || multiplier < 1 {
		return 0
	}
	return (totalFrames + multiplier - 1) / multiplier
}

// TimestampIndex maps a frame's position in the source into the timestamp
// sequence proportionally.
func TimestampIndex(framePos, totalFrames, numTimestamps int) int {
	if totalFrames <= 0 || numTimestamps <= 0 {
		return 0
	}
	idx := int(float64(framePos) / float64(totalFrames) * float64(numTimestamps-1))
	if idx < 0 {
		idx = 0
	}
	if idx > numTimestamps-1 {
		idx = numTimestamps - 1
	}
	return idx
}

// glyphAspect approximates the average width of a digit glyph relative to
// the font size for the overlay font.
const glyphAspect = 0.6

// overlayReference is the widest text the timestamp overlay renders; the
// font size is fitted to it once per run.
const overlayReference = "2006-01-02 15:04:05"

// FontSizeFor returns the font size, in pixels, at which the reference
// timestamp string spans about 80% of the given frame width.
func FontSizeFor(frameWidth int) int {
	size := int(0.8 * float64(frameWidth) / (glyphAspect * float64(len(overlayReference))))
	if size < 8 {
		size = 8
	}
	return size
}
