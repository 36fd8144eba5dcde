// Package artifacts manages the exports directory: sanitized output names,
// filename collision resolution, intermediate-file cleanup and listings for
// the download endpoints.
package artifacts

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/exacqman/exacqman/internal/logging"
)

const maxNameLen = 120

// FileInfo describes one artifact in the exports directory.
type FileInfo struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store owns one exports directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create exports dir: %w", err)
	}
	return &Store{dir: dir, logger: logging.WithComponent(logger, "artifacts")}, nil
}

// Dir returns the exports directory path.
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeName strips control characters and path-hostile runes from a
// user-supplied output name.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ResolvePath returns a path in the exports dir for name, appending " (n)"
// to the stem until it does not collide with an existing file.
func (s *Store) ResolvePath(name string) string {
	name = SanitizeName(filepath.Base(name), maxNameLen)
	if name == "" {
		name = "export.mp4"
	}

	candidate := filepath.Join(s.dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate = filepath.Join(s.dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Finalize moves a finished artifact into the exports dir under name,
// resolving collisions rather than overwriting.
func (s *Store) Finalize(srcPath, name string) (string, error) {
	if name == "" {
		name = filepath.Base(srcPath)
	}
	dest := s.ResolvePath(name)

	if err := os.Rename(srcPath, dest); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if err := copyFile(srcPath, dest); err != nil {
			return "", fmt.Errorf("move artifact: %w", err)
		}
		os.Remove(srcPath)
	}

	s.logger.Info("artifact finalized", "path", logging.SanitizePath(dest))
	return dest, nil
}

// CleanupIntermediates removes the given intermediate files, logging but
// not failing on individual errors: cleanup must never mask a result.
func (s *Store) CleanupIntermediates(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove intermediate file", "path", logging.SanitizePath(p), "error", err)
			continue
		}
		s.logger.Debug("removed intermediate file", "path", logging.SanitizePath(p))
	}
}

// List returns the artifacts in the exports dir, newest first.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read exports dir: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Filename:   entry.Name(),
			Path:       filepath.Join(s.dir, entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// Open resolves filename inside the exports dir, rejecting traversal.
func (s *Store) Open(filename string) (string, error) {
	if filename != filepath.Base(filename) || filename == "" || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("artifact %s: %w", filename, err)
	}
	return path, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
