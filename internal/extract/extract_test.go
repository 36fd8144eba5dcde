package extract

import (
	"errors"
	"testing"
	"time"

	"github.com/exacqman/exacqman/internal/video"
)

func TestSettingsValidate(t *testing.T) {
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	base := Settings{
		CameraAlias: "dock",
		CameraID:    7,
		Start:       start,
		Stop:        start.Add(time.Hour),
		Multiplier:  10,
		Quality:     video.QualityMedium,
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(s *Settings) {}, false},
		{"zero multiplier", func(s *Settings) { s.Multiplier = 0 }, true},
		{"negative multiplier", func(s *Settings) { s.Multiplier = -5 }, true},
		{"unknown quality", func(s *Settings) { s.Quality = "ultra" }, true},
		{"stop equals start", func(s *Settings) { s.Stop = s.Start }, true},
		{"stop before start", func(s *Settings) { s.Stop = s.Start.Add(-time.Minute) }, true},
		{"crop without region", func(s *Settings) { s.Crop = true }, false},
		{"valid crop region", func(s *Settings) {
			s.Crop = true
			s.CropRegion = &video.Region{X: 10, Y: 10, Width: 100, Height: 100}
		}, false},
		{"degenerate crop region", func(s *Settings) {
			s.Crop = true
			s.CropRegion = &video.Region{X: 10, Y: 10, Width: 0, Height: 100}
		}, true},
		{"overlay without font", func(s *Settings) { s.Overlay = true }, true},
		{"caption without font", func(s *Settings) { s.Caption = "Dock" }, true},
		{"overlay with font", func(s *Settings) {
			s.Overlay = true
			s.FontFile = "/fonts/mono.ttf"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsValidateCropErrorType(t *testing.T) {
	s := Settings{
		Start:      time.Now(),
		Stop:       time.Now().Add(time.Hour),
		Multiplier: 1,
		Quality:    video.QualityLow,
		Crop:       true,
		CropRegion: &video.Region{Width: -1, Height: 50},
	}
	var cropErr *video.InvalidCropError
	if err := s.Validate(); !errors.As(err, &cropErr) {
		t.Fatalf("Validate() = %v, want InvalidCropError", err)
	}
}
