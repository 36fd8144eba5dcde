package api

import (
	"encoding/json"
	"time"

	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/jobs"
	"github.com/exacqman/exacqman/internal/nvr"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	JobsRunning int          `json:"jobs_running"`
	JobsQueued  int          `json:"jobs_queued"`
	ActiveJob   *JobResponse `json:"active_job,omitempty"`
}

// RegionRequest is a crop rectangle in source pixels.
type RegionRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ExtractRequest names a camera and a recording window. Date accepts
// "3/14" or "3/14/2024"; start and stop accept clock phrases like
// "6 PM" or "18:30". Unset processing fields fall back to the
// configured defaults.
type ExtractRequest struct {
	Camera     string         `json:"camera"`
	Date       string         `json:"date"`
	Start      string         `json:"start"`
	Stop       string         `json:"stop"`
	Multiplier int            `json:"multiplier,omitempty"`
	Quality    string         `json:"quality,omitempty"`
	Crop       *RegionRequest `json:"crop,omitempty"`
	Caption    string         `json:"caption,omitempty"`
	Output     string         `json:"output,omitempty"`
	Overlay    *bool          `json:"overlay,omitempty"`
}

type CompressRequest struct {
	Source  string `json:"source"`
	Quality string `json:"quality,omitempty"`
	Output  string `json:"output,omitempty"`
}

type TimelapseRequest struct {
	Source     string         `json:"source"`
	Multiplier int            `json:"multiplier,omitempty"`
	Quality    string         `json:"quality,omitempty"`
	Crop       *RegionRequest `json:"crop,omitempty"`
	Caption    string         `json:"caption,omitempty"`
	Output     string         `json:"output,omitempty"`
}

type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Artifact  string          `json:"artifact,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CameraResponse struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

type CamerasResponse struct {
	Cameras []CameraResponse `json:"cameras"`
}

type FileResponse struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

type FilesResponse struct {
	Files []FileResponse `json:"files"`
}

type RunnerStateResponse struct {
	Paused bool `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Params:    j.Params,
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
		Artifact:  j.Artifact,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func CameraToResponse(c nvr.Camera, alias string) CameraResponse {
	return CameraResponse{ID: c.ID, Name: c.Name, Alias: alias}
}

func FileToResponse(f artifacts.FileInfo) FileResponse {
	return FileResponse{
		Name:       f.Filename,
		Size:       f.Size,
		ModifiedAt: f.ModifiedAt.Format(time.RFC3339),
	}
}
