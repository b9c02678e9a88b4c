// Package trash quarantines media files instead of deleting them.
package trash

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/fsx"
)

// Mover moves a file into quarantine and returns where it landed.
type Mover interface {
	MoveToTrash(path string) (string, error)
}

// Manager files trashed media under <root>/<YYYYMMDD>/.
type Manager struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(root string, logger *slog.Logger) *Manager {
	return &Manager{root: root, logger: logger, now: time.Now}
}

// MoveToTrash moves path into today's trash folder. A missing source is not
// an error: it returns "", nil. An existing destination name gets a
// -<unix-nanos> suffix before the extension.
func (m *Manager) MoveToTrash(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if m.logger != nil {
			m.logger.Warn("file to trash is already gone", "path", path)
		}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("refusing to trash directory %s", path)
	}

	now := m.now()
	dir := filepath.Join(m.root, now.Format("20060102"))
	dst := filepath.Join(dir, filepath.Base(path))
	if fsx.Exists(dst) {
		ext := filepath.Ext(dst)
		stem := strings.TrimSuffix(filepath.Base(dst), ext)
		dst = filepath.Join(dir, stem+"-"+strconv.FormatInt(now.UnixNano(), 10)+ext)
	}

	if err := fsx.Move(path, dst); err != nil {
		return "", fmt.Errorf("move %s to trash: %w", path, err)
	}

	if m.logger != nil {
		m.logger.Info("file moved to trash", "path", path, "trash_path", dst)
	}
	return dst, nil
}
