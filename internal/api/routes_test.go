package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/config"
	"github.com/exacqman/exacqman/internal/db"
	"github.com/exacqman/exacqman/internal/jobs"
	"github.com/exacqman/exacqman/internal/video"
)

const testToken = "test-token"

func testServerConfig(t *testing.T) ServerConfig {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := jobs.NewRepository(database.Conn())

	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("seed auth token: %v", err)
	}

	store, err := artifacts.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("artifacts.NewStore: %v", err)
	}

	cfg := &config.Config{
		Port:     8686,
		DataDir:  t.TempDir(),
		Timezone: "UTC",
		Cameras:  map[string]int{"dock": 7},
		Processing: config.ProcessingConfig{
			Multiplier: 60,
			Quality:    "medium",
			Overlay:    true,
			FontFile:   "/fonts/mono.ttf",
		},
	}

	return ServerConfig{
		Port:       cfg.Port,
		Config:     cfg,
		Repository: repo,
		Runner:     jobs.NewRunner(repo, nil, nil, logger),
		Store:      store,
		Logger:     logger,
		StartTime:  time.Now(),
	}
}

func authedRequest(method, path string, body []byte) *http.Request {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealth_NoAuthRequired(t *testing.T) {
	router := NewRouter(testServerConfig(t))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	router := NewRouter(testServerConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rr.Code)
	}
}

func TestExtractHandler_EnqueuesJob(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	body := []byte(`{"camera":"dock","date":"3/1/2024","start":"6 PM","stop":"7 PM","multiplier":10,"quality":"high"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/extract", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	resp := decodeJSONBody(t, rr)
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("job_id missing from response")
	}

	job, err := cfg.Repository.Get(context.Background(), jobID)
	if err != nil || job == nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Type != jobs.TypeExtract || job.Status != jobs.StatusQueued {
		t.Errorf("job type=%q status=%q", job.Type, job.Status)
	}

	var params jobs.ExtractParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.CameraID != 7 {
		t.Errorf("camera resolved to %d, want 7", params.CameraID)
	}
	if params.Multiplier != 10 || params.Quality != "high" {
		t.Errorf("params = %+v", params)
	}
	if params.Start.Hour() != 18 || params.Stop.Hour() != 19 {
		t.Errorf("window = %v .. %v", params.Start, params.Stop)
	}
}

func TestExtractHandler_DefaultsApplied(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Config.Processing.Caption = "North Dock"
	cfg.Config.Processing.Crop = &video.Region{X: 100, Y: 50, Width: 800, Height: 600}
	router := NewRouter(cfg)

	body := []byte(`{"camera":"dock","date":"3/1/2024","start":"18:00","stop":"19:00"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/extract", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeJSONBody(t, rr)

	job, _ := cfg.Repository.Get(context.Background(), resp["job_id"].(string))
	var params jobs.ExtractParams
	json.Unmarshal(job.Params, &params)
	if params.Multiplier != 60 || params.Quality != "medium" || !params.Overlay {
		t.Errorf("defaults not applied: %+v", params)
	}
	if params.Caption != "North Dock" {
		t.Errorf("Caption = %q, want config default", params.Caption)
	}
	if params.Crop == nil || *params.Crop != (video.Region{X: 100, Y: 50, Width: 800, Height: 600}) {
		t.Errorf("Crop = %+v, want config default", params.Crop)
	}
}

func TestExtractHandler_Rejections(t *testing.T) {
	router := NewRouter(testServerConfig(t))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown camera", `{"camera":"rooftop","date":"3/1","start":"6 PM","stop":"7 PM"}`, http.StatusBadRequest},
		{"missing camera", `{"date":"3/1","start":"6 PM","stop":"7 PM"}`, http.StatusBadRequest},
		{"missing window", `{"camera":"dock","date":"3/1"}`, http.StatusBadRequest},
		{"bad clock", `{"camera":"dock","date":"3/1","start":"sixish","stop":"7 PM"}`, http.StatusBadRequest},
		{"bad quality", `{"camera":"dock","date":"3/1","start":"6 PM","stop":"7 PM","quality":"ultra"}`, http.StatusBadRequest},
		{"negative multiplier", `{"camera":"dock","date":"3/1","start":"6 PM","stop":"7 PM","multiplier":-2}`, http.StatusBadRequest},
		{"invalid crop", `{"camera":"dock","date":"3/1","start":"6 PM","stop":"7 PM","crop":{"x":0,"y":0,"width":0,"height":100}}`, http.StatusBadRequest},
		{"malformed body", `{"camera":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/extract", []byte(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("status code = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestExtractHandler_OverlayNeedsFont(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Config.Processing.FontFile = ""
	router := NewRouter(cfg)

	body := []byte(`{"camera":"dock","date":"3/1","start":"6 PM","stop":"7 PM"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/extract", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	body = []byte(`{"camera":"dock","date":"3/1","start":"6 PM","stop":"7 PM","overlay":false}`)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/extract", body))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
}

func TestCompressHandler_SourceMustExist(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/compress", []byte(`{"source":"nope.mp4"}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rr.Code)
	}

	if err := os.WriteFile(filepath.Join(cfg.Store.Dir(), "clip.mp4"), []byte("x"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/compress", []byte(`{"source":"clip.mp4","quality":"low"}`)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202: %s", rr.Code, rr.Body.String())
	}
}

func TestTimelapseHandler_EnqueuesJob(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	if err := os.WriteFile(filepath.Join(cfg.Store.Dir(), "clip.mp4"), []byte("x"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	body := []byte(`{"source":"clip.mp4","multiplier":30,"caption":"Dock March 1"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/timelapse", body))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d: %s", rr.Code, rr.Body.String())
	}

	resp := decodeJSONBody(t, rr)
	job, _ := cfg.Repository.Get(context.Background(), resp["job_id"].(string))
	if job.Type != jobs.TypeTimelapse {
		t.Errorf("type = %q, want %q", job.Type, jobs.TypeTimelapse)
	}
	var params jobs.TimelapseParams
	json.Unmarshal(job.Params, &params)
	if params.Multiplier != 30 || params.Caption != "Dock March 1" {
		t.Errorf("params = %+v", params)
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	router := NewRouter(testServerConfig(t))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/jobs/no-such-id", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rr.Code)
	}
}

func TestJobsHandler_ListsNewestFirst(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	for i := 0; i < 2; i++ {
		job, _ := jobs.New(jobs.TypeCompress, jobs.CompressParams{Source: "a.mp4", Quality: "low"})
		job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Second)
		job.UpdatedAt = job.CreatedAt
		if err := cfg.Repository.Create(context.Background(), job); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/jobs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}

	var resp JobsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(resp.Jobs))
	}
	if resp.Jobs[0].CreatedAt < resp.Jobs[1].CreatedAt {
		t.Error("jobs not sorted newest first")
	}
}

func TestFilesAndDownload(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	if err := os.WriteFile(filepath.Join(cfg.Store.Dir(), "dock_10x.mp4"), []byte("payload"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/files", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("files: status code = %d", rr.Code)
	}
	var files FilesResponse
	if err := json.NewDecoder(rr.Body).Decode(&files); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files.Files) != 1 || files.Files[0].Name != "dock_10x.mp4" {
		t.Fatalf("files = %+v", files.Files)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/download/dock_10x.mp4", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("download: status code = %d", rr.Code)
	}
	if rr.Body.String() != "payload" {
		t.Errorf("download body = %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/download/missing.mp4", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing download: status code = %d, want 404", rr.Code)
	}
}

func TestRunnerPauseResume(t *testing.T) {
	cfg := testServerConfig(t)
	router := NewRouter(cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/runner/pause", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("pause: status code = %d", rr.Code)
	}
	if !cfg.Runner.IsPaused() {
		t.Error("runner not paused")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/status", nil))
	body := decodeJSONBody(t, rr)
	if body["state"] != "paused" {
		t.Errorf("state = %v, want paused", body["state"])
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/runner/resume", nil))
	if cfg.Runner.IsPaused() {
		t.Error("runner still paused after resume")
	}
}
