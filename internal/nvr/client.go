// Package nvr implements the exacqVision web API client: session login,
// camera listing, recording search, and the export request/status/
// download/delete calls used by the extraction pipeline.
package nvr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/exacqman/exacqman/internal/logging"
	"github.com/exacqman/exacqman/internal/timeutil"
)

const maxErrorBody = 4096 // tail of an error response kept for diagnostics

// Camera is a single camera entry from the server's config listing.
type Camera struct {
	ID   int
	Name string
}

// Clip is a contiguous recorded interval returned by a search call,
// converted to the session's local timezone on ingestion.
type Clip struct {
	Start time.Time
	End   time.Time
}

// Client is the transport for one exacqVision server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	loc        *time.Location
}

// Session is an authenticated handle on the server. One session per login;
// the server does not renew tokens, so an expired session surfaces as an
// AuthError and the owner must log in again.
type Session struct {
	client *Client
	token  string
}

func NewClient(baseURL string, loc *time.Location, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.WithComponent(logger, "nvr"),
		loc:    loc,
	}
}

// Location returns the local timezone all session timestamps are carried in.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Login authenticates and returns a session bound to this client.
func (c *Client) Login(ctx context.Context, user, pass string) (*Session, error) {
	form := url.Values{}
	form.Set("u", user)
	form.Set("p", pass)
	form.Set("responseVersion", "2")
	form.Set("s", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/login.web", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Reason: fmt.Sprintf("login rejected with HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Call: "login", Status: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.SessionID == "" {
		return nil, &AuthError{Reason: "no session ID in login response"}
	}

	c.logger.Info("logged in", "token", logging.SanitizeToken(payload.SessionID))
	return &Session{client: c, token: payload.SessionID}, nil
}

// Logout invalidates the session on the server. The token is unusable
// afterwards regardless of the call's outcome.
func (s *Session) Logout(ctx context.Context) error {
	u := fmt.Sprintf("%s/v1/logout.web?s=%s", s.client.baseURL, url.QueryEscape(s.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	s.client.logger.Info("logged out")
	return nil
}

// ListCameras returns the cameras visible to this session.
func (s *Session) ListCameras(ctx context.Context) ([]Camera, error) {
	u := fmt.Sprintf("%s/v1/config.web?s=%s&output=json", s.client.baseURL, url.QueryEscape(s.token))

	body, err := s.get(ctx, "config", u)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Cameras []struct {
			ID   json.Number `json:"id"`
			Name string      `json:"name"`
		} `json:"Cameras"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProtocolError{Call: "config", Status: http.StatusOK, Body: truncateBody(body)}
	}

	cameras := make([]Camera, 0, len(payload.Cameras))
	for _, c := range payload.Cameras {
		id, err := c.ID.Int64()
		if err != nil {
			return nil, &ProtocolError{Call: "config", Status: http.StatusOK, Body: "non-numeric camera id " + c.ID.String()}
		}
		cameras = append(cameras, Camera{ID: int(id), Name: c.Name})
	}
	return cameras, nil
}

// HasCamera reports whether id appears in the server's camera list.
func (s *Session) HasCamera(ctx context.Context, id int) (bool, error) {
	cameras, err := s.ListCameras(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cameras {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// CreateSearch issues a recording search for [start, stop] and returns the
// search ID and the recorded clips, converted to the session's timezone.
// The instants are interpreted in the local timezone and sent as ISO-8601.
func (s *Session) CreateSearch(ctx context.Context, cameraID int, start, stop time.Time) (string, []Clip, error) {
	u := fmt.Sprintf("%s/v1/search.web?s=%s&start=%s&end=%s&camera=%d&output=json",
		s.client.baseURL, url.QueryEscape(s.token),
		url.QueryEscape(timeutil.ISO8601(start)), url.QueryEscape(timeutil.ISO8601(stop)), cameraID)

	body, err := s.get(ctx, "search", u)
	if err != nil {
		return "", nil, err
	}

	var payload struct {
		SearchID  json.Number `json:"search_id"`
		VideoInfo []struct {
			Clips []struct {
				StartTime string `json:"startTime"`
				EndTime   string `json:"endTime"`
			} `json:"clips"`
		} `json:"videoInfo"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.SearchID.String() == "" {
		return "", nil, &ProtocolError{Call: "search", Status: http.StatusOK, Body: truncateBody(body)}
	}

	var clips []Clip
	for _, vi := range payload.VideoInfo {
		for _, raw := range vi.Clips {
			start, err := timeutil.ParseServerTime(raw.StartTime, s.client.loc)
			if err != nil {
				return "", nil, &ProtocolError{Call: "search", Status: http.StatusOK, Body: "bad clip startTime " + raw.StartTime}
			}
			end, err := timeutil.ParseServerTime(raw.EndTime, s.client.loc)
			if err != nil {
				return "", nil, &ProtocolError{Call: "search", Status: http.StatusOK, Body: "bad clip endTime " + raw.EndTime}
			}
			clips = append(clips, Clip{Start: start, End: end})
		}
	}

	return payload.SearchID.String(), clips, nil
}

// ExportRequest asks the server to materialize [start, stop] for cameraID as
// an mp4 and returns the export ID. The camera must exist on the server;
// absence is a CameraNotFoundError, never retried.
func (s *Session) ExportRequest(ctx context.Context, cameraID int, start, stop time.Time, name string) (string, error) {
	ok, err := s.HasCamera(ctx, cameraID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &CameraNotFoundError{CameraID: cameraID}
	}

	u := fmt.Sprintf("%s/v1/export.web?camera=%d&s=%s&start=%s&end=%s&format=mp4",
		s.client.baseURL, cameraID, url.QueryEscape(s.token),
		url.QueryEscape(timeutil.ISO8601(start)), url.QueryEscape(timeutil.ISO8601(stop)))
	if name != "" {
		u += "&name=" + url.QueryEscape(name)
	}

	body, err := s.get(ctx, "export request", u)
	if err != nil {
		return "", err
	}

	var payload struct {
		ExportID json.Number `json:"export_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ExportID.String() == "" {
		return "", &ProtocolError{Call: "export request", Status: http.StatusOK, Body: truncateBody(body)}
	}

	s.client.logger.Info("export requested", "export_id", payload.ExportID.String(), "camera_id", cameraID)
	return payload.ExportID.String(), nil
}

// ExportStatus polls the export's progress percentage (0-100).
func (s *Session) ExportStatus(ctx context.Context, exportID string) (int, error) {
	u := fmt.Sprintf("%s/v1/export.web?export=%s", s.client.baseURL, url.QueryEscape(exportID))

	body, err := s.get(ctx, "export status", u)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Progress *int `json:"progress"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Progress == nil {
		return 0, &ProtocolError{Call: "export status", Status: http.StatusOK, Body: truncateBody(body)}
	}
	return *payload.Progress, nil
}

// ExportDownload streams a finished export into destDir. The filename comes
// from the server's Content-Disposition header, not from the request. The
// optional progress callback receives written and total byte counts (total
// is -1 when the server sends no Content-Length).
func (s *Session) ExportDownload(ctx context.Context, exportID, destDir string, progress func(written, total int64)) (string, error) {
	u := fmt.Sprintf("%s/v1/export.web?export=%s&action=download", s.client.baseURL, url.QueryEscape(exportID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized {
			return "", &AuthError{Reason: "session expired during download"}
		}
		return "", &ProtocolError{Call: "export download", Status: resp.StatusCode, Body: string(body)}
	}

	filename := dispositionFilename(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = "export_" + exportID + ".mp4"
	}
	dest := filepath.Join(destDir, filepath.Base(filename))

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer f.Close()

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				os.Remove(dest)
				return "", fmt.Errorf("write download file: %w", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(dest)
			return "", fmt.Errorf("stream download: %w", rerr)
		}
	}

	s.client.logger.Info("export downloaded", "export_id", exportID, "path", logging.SanitizePath(dest), "bytes", written)
	return dest, nil
}

// ExportDelete removes the export job from the server. Callers treat this
// as a cleanup obligation on every exit path once an export ID exists.
func (s *Session) ExportDelete(ctx context.Context, exportID string) error {
	u := fmt.Sprintf("%s/v1/export.web?export=%s&action=finish", s.client.baseURL, url.QueryEscape(exportID))
	_, err := s.get(ctx, "export delete", u)
	return err
}

// get performs an authenticated GET and returns the body, mapping status
// codes onto the error taxonomy.
func (s *Session) get(ctx context.Context, call, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", call, err)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", call, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", call, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("session rejected during %s", call)}
	case resp.StatusCode != http.StatusOK:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &ProtocolError{Call: call, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	// Some firmware versions send a bare `attachment; filename=foo.mp4`
	// that ParseMediaType rejects.
	if i := strings.LastIndex(header, "filename="); i >= 0 {
		return strings.Trim(header[i+len("filename="):], `" `)
	}
	return ""
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
