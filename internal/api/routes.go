package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exacqman/exacqman/internal/config"
	"github.com/exacqman/exacqman/internal/jobs"
	"github.com/exacqman/exacqman/internal/timeutil"
	"github.com/exacqman/exacqman/internal/video"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Route("/api", func(r chi.Router) {
			r.Post("/extract", extractHandler(cfg))
			r.Post("/compress", compressHandler(cfg))
			r.Post("/timelapse", timelapseHandler(cfg))
			r.Get("/jobs", listJobsHandler(cfg))
			r.Get("/jobs/{id}", getJobHandler(cfg))
			r.Get("/cameras", camerasHandler(cfg))
			r.Get("/files", filesHandler(cfg))
			r.Get("/download/{filename}", downloadHandler(cfg))
			r.Post("/runner/pause", pauseHandler(cfg))
			r.Post("/runner/resume", resumeHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		recent, err := cfg.Repository.List(ctx, 10)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		queued, _ := cfg.Repository.CountByStatus(ctx, jobs.StatusQueued)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range recent {
			if j.Status == jobs.StatusRunning {
				state = "processing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == jobs.StatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:       state,
			LastError:   lastError,
			JobsRunning: jobsRunning,
			JobsQueued:  queued,
			ActiveJob:   activeJob,
		})
	}
}

func extractHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExtractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Camera == "" {
			WriteError(w, http.StatusBadRequest, "camera is required", "BAD_REQUEST")
			return
		}
		cameraID, ok := cfg.Config.CameraID(req.Camera)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown camera alias "+req.Camera, "UNKNOWN_CAMERA")
			return
		}
		if req.Start == "" || req.Stop == "" {
			WriteError(w, http.StatusBadRequest, "start and stop are required", "BAD_REQUEST")
			return
		}

		loc := cfg.Config.Location()
		date := time.Now().In(loc)
		if req.Date != "" {
			var err error
			date, err = timeutil.ParseDate(req.Date, time.Now(), loc)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}
		start, stop, err := timeutil.ResolveWindow(date, req.Start, req.Stop, loc)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		params := jobs.ExtractParams{
			CameraAlias: req.Camera,
			CameraID:    cameraID,
			Start:       start,
			Stop:        stop,
			Multiplier:  cfg.Config.Processing.Multiplier,
			Quality:     cfg.Config.Processing.Quality,
			Crop:        cfg.Config.Processing.Crop,
			Caption:     cfg.Config.Processing.Caption,
			Output:      req.Output,
			Overlay:     cfg.Config.Processing.Overlay,
		}
		if req.Multiplier != 0 {
			params.Multiplier = req.Multiplier
		}
		if req.Quality != "" {
			params.Quality = req.Quality
		}
		if req.Overlay != nil {
			params.Overlay = *req.Overlay
		}
		if req.Caption != "" {
			params.Caption = req.Caption
		}
		if req.Crop != nil {
			params.Crop = &video.Region{X: req.Crop.X, Y: req.Crop.Y, Width: req.Crop.Width, Height: req.Crop.Height}
		}

		if !validateProcessing(w, params.Multiplier, params.Quality, params.Crop) {
			return
		}
		if (params.Overlay || params.Caption != "") && cfg.Config.Processing.FontFile == "" {
			WriteError(w, http.StatusBadRequest, "timestamp overlay and caption require processing.font_file to be configured", "BAD_REQUEST")
			return
		}

		enqueue(w, r, cfg, jobs.TypeExtract, params)
	}
}

func compressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Source == "" {
			WriteError(w, http.StatusBadRequest, "source is required", "BAD_REQUEST")
			return
		}
		if _, err := cfg.Store.Open(req.Source); err != nil {
			WriteError(w, http.StatusNotFound, "source file not found", "NOT_FOUND")
			return
		}

		quality := cfg.Config.Processing.Quality
		if req.Quality != "" {
			quality = req.Quality
		}
		if _, err := video.ParseQuality(quality); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		enqueue(w, r, cfg, jobs.TypeCompress, jobs.CompressParams{
			Source:  req.Source,
			Quality: quality,
			Output:  req.Output,
		})
	}
}

func timelapseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TimelapseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Source == "" {
			WriteError(w, http.StatusBadRequest, "source is required", "BAD_REQUEST")
			return
		}
		if _, err := cfg.Store.Open(req.Source); err != nil {
			WriteError(w, http.StatusNotFound, "source file not found", "NOT_FOUND")
			return
		}

		params := jobs.TimelapseParams{
			Source:     req.Source,
			Multiplier: cfg.Config.Processing.Multiplier,
			Quality:    cfg.Config.Processing.Quality,
			Crop:       cfg.Config.Processing.Crop,
			Caption:    cfg.Config.Processing.Caption,
			Output:     req.Output,
		}
		if req.Multiplier != 0 {
			params.Multiplier = req.Multiplier
		}
		if req.Quality != "" {
			params.Quality = req.Quality
		}
		if req.Caption != "" {
			params.Caption = req.Caption
		}
		if req.Crop != nil {
			params.Crop = &video.Region{X: req.Crop.X, Y: req.Crop.Y, Width: req.Crop.Width, Height: req.Crop.Height}
		}

		if !validateProcessing(w, params.Multiplier, params.Quality, params.Crop) {
			return
		}

		enqueue(w, r, cfg, jobs.TypeTimelapse, params)
	}
}

func validateProcessing(w http.ResponseWriter, multiplier int, quality string, crop *video.Region) bool {
	if multiplier < 1 {
		WriteError(w, http.StatusBadRequest, "multiplier must be a positive integer", "BAD_REQUEST")
		return false
	}
	if _, err := video.ParseQuality(quality); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return false
	}
	if crop != nil && !crop.Valid() {
		WriteError(w, http.StatusBadRequest, "invalid crop region", "BAD_REQUEST")
		return false
	}
	return true
}

func enqueue(w http.ResponseWriter, r *http.Request, cfg ServerConfig, jobType string, params any) {
	job, err := jobs.New(jobType, params)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	if err := cfg.Repository.Create(r.Context(), job); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job", "INTERNAL_ERROR")
		return
	}
	WriteJSON(w, http.StatusAccepted, EnqueueResponse{JobID: job.ID})
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := cfg.Repository.List(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(all))}
		for i, j := range all {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.Get(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func camerasHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := cfg.Client.Login(r.Context(), cfg.Config.NVR.Username, cfg.Config.NVR.Password)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "NVR_ERROR")
			return
		}
		defer session.Logout(r.Context())

		cameras, err := session.ListCameras(r.Context())
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "NVR_ERROR")
			return
		}

		aliasByID := make(map[int]string, len(cfg.Config.Cameras))
		for alias, id := range cfg.Config.Cameras {
			aliasByID[id] = alias
		}

		resp := CamerasResponse{Cameras: make([]CameraResponse, len(cameras))}
		for i, c := range cameras {
			resp.Cameras[i] = CameraToResponse(c, aliasByID[c.ID])
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func filesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := cfg.Store.List()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list files", "INTERNAL_ERROR")
			return
		}

		resp := FilesResponse{Files: make([]FileResponse, len(files))}
		for i, f := range files {
			resp.Files[i] = FileToResponse(f)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		path, err := cfg.Store.Open(filename)
		if err != nil {
			WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
			return
		}
		http.ServeFile(w, r, path)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Paused: true})
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Paused: false})
	}
}
