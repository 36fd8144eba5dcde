// Package config provides configuration management for exacqman.
// Defaults are overridden by an optional YAML file, which is in turn
// overridden by environment variables. A .env file in the working
// directory is honored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/exacqman/exacqman/internal/video"
)

const (
	DefaultPort     = 8686
	DefaultLogLevel = "info"
	DefaultDataDir  = ".exacqman"

	EnvConfigFile = "EXACQMAN_CONFIG"
	EnvPort       = "EXACQMAN_PORT"
	EnvLogLevel   = "EXACQMAN_LOG_LEVEL"
	EnvDataDir    = "EXACQMAN_DATA_DIR"
	EnvAuthToken  = "EXACQMAN_AUTH_TOKEN"
	EnvNVRHost    = "EXACQMAN_NVR_HOST"
	EnvNVRPort    = "EXACQMAN_NVR_PORT"
	EnvNVRUser    = "EXACQMAN_NVR_USER"
	EnvNVRPass    = "EXACQMAN_NVR_PASS"
	EnvTimezone   = "EXACQMAN_TIMEZONE"

	DBFilename = "exacqman.db"

	DefaultNVRPort       = 80
	DefaultMultiplier    = 60
	DefaultQuality       = "medium"
	DefaultFFmpegTimeout = 30 // minutes
)

// NVRConfig describes one exacqVision server.
type NVRConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BaseURL returns the server's HTTP root.
func (n NVRConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// ProcessingConfig carries the timelapse defaults applied when a request
// leaves them unset.
type ProcessingConfig struct {
	Multiplier int           `yaml:"multiplier"`
	Quality    string        `yaml:"quality"`
	Overlay    bool          `yaml:"overlay"`
	FontFile   string        `yaml:"font_file"`
	Caption    string        `yaml:"caption"`
	Crop       *video.Region `yaml:"crop"`
}

// FFmpegConfig locates the codec binaries.
type FFmpegConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	FFprobePath    string `yaml:"ffprobe_path"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

// ExportConfig tunes the export poll/stall policy.
type ExportConfig struct {
	GraceSeconds       int `yaml:"grace_seconds"`
	PollSeconds        int `yaml:"poll_seconds"`
	StallBudget        int `yaml:"stall_budget"`
	DeleteDelaySeconds int `yaml:"delete_delay_seconds"`
}

type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	DataDir   string `yaml:"data_dir"`
	AuthToken string `yaml:"auth_token"`
	Timezone  string `yaml:"timezone"`

	NVR        NVRConfig        `yaml:"nvr"`
	Cameras    map[string]int   `yaml:"cameras"`
	Processing ProcessingConfig `yaml:"processing"`
	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	Export     ExportConfig     `yaml:"export"`
}

// Load builds the effective configuration. path names the YAML file; when
// empty, EXACQMAN_CONFIG is consulted and a missing file is not an error.
func Load(path string) (*Config, error) {
	// Side-loaded env vars for local development. A missing .env is fine.
	godotenv.Load()

	cfg := &Config{
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
		DataDir:  defaultDataDir(),
		NVR:      NVRConfig{Port: DefaultNVRPort},
		Cameras:  map[string]int{},
		Processing: ProcessingConfig{
			Multiplier: DefaultMultiplier,
			Quality:    DefaultQuality,
			Overlay:    true,
		},
		FFmpeg: FFmpegConfig{TimeoutMinutes: DefaultFFmpegTimeout},
		Export: ExportConfig{
			GraceSeconds:       2,
			PollSeconds:        5,
			StallBudget:        5,
			DeleteDelaySeconds: 2,
		},
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigFile)
		explicit = path != ""
	}
	if path == "" {
		path = "exacqman.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Running on env vars and defaults alone is supported.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.LogLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.DataDir = dd
	}
	if tok := os.Getenv(EnvAuthToken); tok != "" {
		c.AuthToken = tok
	}
	if tz := os.Getenv(EnvTimezone); tz != "" {
		c.Timezone = tz
	}
	if h := os.Getenv(EnvNVRHost); h != "" {
		c.NVR.Host = h
	}
	if p := os.Getenv(EnvNVRPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvNVRPort, err)
		}
		c.NVR.Port = port
	}
	if u := os.Getenv(EnvNVRUser); u != "" {
		c.NVR.Username = u
	}
	if pw := os.Getenv(EnvNVRPass); pw != "" {
		c.NVR.Password = pw
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.NVR.Port < 1 || c.NVR.Port > 65535 {
		return fmt.Errorf("nvr port must be between 1 and 65535, got %d", c.NVR.Port)
	}
	if c.Processing.Multiplier < 1 {
		return fmt.Errorf("processing multiplier must be a positive integer, got %d", c.Processing.Multiplier)
	}
	switch c.Processing.Quality {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("processing quality must be low, medium or high, got %q", c.Processing.Quality)
	}
	if c.Processing.Crop != nil && !c.Processing.Crop.Valid() {
		return fmt.Errorf("processing crop region %dx%d must have positive size", c.Processing.Crop.Width, c.Processing.Crop.Height)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// DBPath returns the full path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBFilename)
}

// OutputDir returns the directory finished artifacts land in.
func (c *Config) OutputDir() string {
	return filepath.Join(c.DataDir, "output")
}

// WorkDir returns the scratch directory for downloads and intermediates.
func (c *Config) WorkDir() string {
	return filepath.Join(c.DataDir, "work")
}

// FFmpegTimeout returns the per-invocation codec timeout.
func (c *Config) FFmpegTimeout() time.Duration {
	return time.Duration(c.FFmpeg.TimeoutMinutes) * time.Minute
}

// Location resolves the configured timezone, defaulting to the host's.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// CameraID resolves a camera alias. A bare numeric string is accepted as
// a raw camera ID.
func (c *Config) CameraID(alias string) (int, bool) {
	if id, ok := c.Cameras[alias]; ok {
		return id, true
	}
	if id, err := strconv.Atoi(alias); err == nil {
		return id, true
	}
	return 0, false
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
