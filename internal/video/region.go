package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// RegionProvider supplies the crop region for a run. The transform engine
// depends only on this interface, so the human-in-the-loop picker stays
// swappable for a pre-supplied region.
type RegionProvider interface {
	// SelectRegion determines the crop region for sourcePath. It is
	// called once per run, before the frame pass begins.
	SelectRegion(ctx context.Context, sourcePath string, probe *ProbeResult) (Region, error)
}

// StaticRegionProvider returns a pre-supplied region, clamped against the
// probed frame dimensions.
type StaticRegionProvider struct {
	Region Region
}

func (p *StaticRegionProvider) SelectRegion(_ context.Context, _ string, probe *ProbeResult) (Region, error) {
	clamped, _ := p.Region.Clamp(probe.Width, probe.Height)
	if !clamped.Valid() {
		return Region{}, &InvalidCropError{Region: p.Region}
	}
	return clamped, nil
}

// FrameExtractor is the slice of the engine the interactive picker needs:
// a scratch directory and single-frame extraction.
type FrameExtractor interface {
	WorkDir() string
	ExtractFrame(ctx context.Context, path, outPath string) error
}

// PromptRegionProvider extracts the first frame to a preview image and
// reads the region from an interactive prompt. Used by terminal runs;
// API-driven runs always supply a region up front.
type PromptRegionProvider struct {
	Engine FrameExtractor
	In     io.Reader
	Out    io.Writer
}

func (p *PromptRegionProvider) SelectRegion(ctx context.Context, sourcePath string, probe *ProbeResult) (Region, error) {
	preview := filepath.Join(p.Engine.WorkDir(), "crop_preview.png")
	if err := p.Engine.ExtractFrame(ctx, sourcePath, preview); err != nil {
		return Region{}, fmt.Errorf("extract preview frame: %w", err)
	}

	fmt.Fprintf(p.Out, "Preview frame written to %s (%dx%d)\n", preview, probe.Width, probe.Height)
	fmt.Fprint(p.Out, "Enter crop region as: x y width height\n> ")

	scanner := bufio.NewScanner(p.In)
	if !scanner.Scan() {
		return Region{}, fmt.Errorf("no crop region entered: %w", scanner.Err())
	}

	var r Region
	if _, err := fmt.Sscanf(scanner.Text(), "%d %d %d %d", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
		return Region{}, fmt.Errorf("cannot parse crop region %q: %w", scanner.Text(), err)
	}

	clamped, adjusted := r.Clamp(probe.Width, probe.Height)
	if !clamped.Valid() {
		return Region{}, &InvalidCropError{Region: r}
	}
	if adjusted {
		fmt.Fprintf(p.Out, "Region clamped to %dx%d at (%d,%d)\n", clamped.Width, clamped.Height, clamped.X, clamped.Y)
	}
	return clamped, nil
}
