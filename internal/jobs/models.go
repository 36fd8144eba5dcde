// Package jobs is the durable work queue: extraction, compression and
// timelapse requests are persisted as jobs and executed one at a time by
// the runner.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/exacqman/exacqman/internal/video"
)

const (
	TypeExtract   = "extract"
	TypeCompress  = "compress"
	TypeTimelapse = "timelapse"

	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Params    json.RawMessage `json:"params"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Artifact  string          `json:"artifact,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ExtractParams is the fully resolved input of an extract job: camera
// aliases and clock strings are resolved at enqueue time so the runner
// works with concrete values.
type ExtractParams struct {
	CameraAlias string        `json:"camera_alias"`
	CameraID    int           `json:"camera_id"`
	Start       time.Time     `json:"start"`
	Stop        time.Time     `json:"stop"`
	Multiplier  int           `json:"multiplier"`
	Quality     string        `json:"quality"`
	Crop        *video.Region `json:"crop,omitempty"`
	Caption     string        `json:"caption,omitempty"`
	Output      string        `json:"output,omitempty"`
	Overlay     bool          `json:"overlay"`
}

// CompressParams re-encodes an existing artifact at a quality tier.
type CompressParams struct {
	Source  string `json:"source"`
	Quality string `json:"quality"`
	Output  string `json:"output,omitempty"`
}

// TimelapseParams builds a timelapse from an existing artifact instead of
// fresh NVR footage. No timestamp overlay is possible without the
// recording metadata.
type TimelapseParams struct {
	Source     string        `json:"source"`
	Multiplier int           `json:"multiplier"`
	Quality    string        `json:"quality"`
	Crop       *video.Region `json:"crop,omitempty"`
	Caption    string        `json:"caption,omitempty"`
	Output     string        `json:"output,omitempty"`
}

// New builds a queued job with a fresh ID and the params serialized.
func New(jobType string, params any) (*Job, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode job params: %w", err)
	}
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    StatusQueued,
		Params:    raw,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
