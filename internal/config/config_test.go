package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/exacqman/exacqman/internal/video"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %s, want %s", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.Processing.Multiplier != DefaultMultiplier {
		t.Errorf("Multiplier = %d, want %d", cfg.Processing.Multiplier, DefaultMultiplier)
	}
	if !cfg.Processing.Overlay {
		t.Error("Overlay default should be true")
	}
	if cfg.Export.StallBudget != 5 {
		t.Errorf("StallBudget = %d, want 5", cfg.Export.StallBudget)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exacqman.yaml")
	content := `
port: 9090
data_dir: /data/exacqman
nvr:
  host: 192.168.1.50
  port: 8080
  username: admin
  password: secret
cameras:
  dock: 7
  gate: 12
processing:
  multiplier: 120
  quality: high
  caption: North Dock
  crop:
    x: 100
    y: 50
    width: 800
    height: 600
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.NVR.BaseURL() != "http://192.168.1.50:8080" {
		t.Errorf("BaseURL = %s", cfg.NVR.BaseURL())
	}
	if cfg.Processing.Multiplier != 120 || cfg.Processing.Quality != "high" {
		t.Errorf("Processing = %+v", cfg.Processing)
	}
	if cfg.Processing.Caption != "North Dock" {
		t.Errorf("Caption = %q, want %q", cfg.Processing.Caption, "North Dock")
	}
	if want := (video.Region{X: 100, Y: 50, Width: 800, Height: 600}); cfg.Processing.Crop == nil || *cfg.Processing.Crop != want {
		t.Errorf("Crop = %+v, want %+v", cfg.Processing.Crop, want)
	}
	if id, ok := cfg.CameraID("dock"); !ok || id != 7 {
		t.Errorf("CameraID(dock) = %d, %v", id, ok)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exacqman.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\nnvr:\n  host: from-file\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPort, "7070")
	t.Setenv(EnvNVRHost, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Port)
	}
	if cfg.NVR.Host != "from-env" {
		t.Errorf("NVR.Host = %s, want from-env", cfg.NVR.Host)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded for a missing explicit config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		content string
	}{
		{"bad port env", map[string]string{EnvPort: "not-a-port"}, ""},
		{"port out of range", map[string]string{EnvPort: "70000"}, ""},
		{"bad multiplier", nil, "processing:\n  multiplier: 0\n"},
		{"bad quality", nil, "processing:\n  quality: ultra\n"},
		{"bad timezone", nil, "timezone: Mars/Olympus\n"},
		{"degenerate crop", nil, "processing:\n  crop:\n    width: 0\n    height: 100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.content != "" {
				path = filepath.Join(t.TempDir(), "exacqman.yaml")
				if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
					t.Fatalf("write config: %v", err)
				}
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestCameraID_NumericFallback(t *testing.T) {
	cfg := &Config{Cameras: map[string]int{"dock": 7}}

	if id, ok := cfg.CameraID("dock"); !ok || id != 7 {
		t.Errorf("CameraID(dock) = %d, %v", id, ok)
	}
	if id, ok := cfg.CameraID("42"); !ok || id != 42 {
		t.Errorf("CameraID(42) = %d, %v", id, ok)
	}
	if _, ok := cfg.CameraID("unknown"); ok {
		t.Error("CameraID(unknown) resolved unexpectedly")
	}
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data/exacqman"}

	if got := cfg.DBPath(); got != filepath.Join("/data/exacqman", DBFilename) {
		t.Errorf("DBPath = %s", got)
	}
	if got := cfg.OutputDir(); got != "/data/exacqman/output" {
		t.Errorf("OutputDir = %s", got)
	}
	if got := cfg.WorkDir(); got != "/data/exacqman/work" {
		t.Errorf("WorkDir = %s", got)
	}
}
