// Package playback streams segment media to reviewers.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoots = errors.New("file outside media roots")

// videoTypes covers containers the system mime table often lacks.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

type Server struct {
	logger *slog.Logger
	roots  []string
}

// NewServer serves files under roots only; with no roots any path is allowed.
func NewServer(logger *slog.Logger, roots ...string) *Server {
	var cleaned []string
	for _, r := range roots {
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			cleaned = append(cleaned, abs)
		}
	}
	return &Server{logger: logger, roots: cleaned}
}

// ServeFile writes filePath with Range and conditional request support.
// Missing files and paths outside the roots are answered directly; other
// failures are returned for the caller to report.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	if err := s.allowed(filePath); err != nil {
		s.logger.Warn("refused media request", "path", filePath)
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	contentType := videoTypes[ext]
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}

func (s *Server) allowed(path string) error {
	if len(s.roots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return ErrOutsideRoots
}
