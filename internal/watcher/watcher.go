// Package watcher turns revision sheets dropped into the inbox directory into
// manual import jobs.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/fsx"
)

// ProcessingDir is the inbox subdirectory claimed sheets are moved into.
const ProcessingDir = "processing"

const defaultSettle = 750 * time.Millisecond

type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType string, payload any) (*catalog.Job, error)
}

// Inbox watches a directory for *.csv files. A file is claimed once no write
// event was seen for it during the settle delay: it is moved under
// processing/ and a manual_import job is enqueued for the moved path.
type Inbox struct {
	dir     string
	enqueue Enqueuer
	logger  *slog.Logger
	settle  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	done    chan struct{}
}

func NewInbox(dir string, enq Enqueuer, logger *slog.Logger) *Inbox {
	return &Inbox{
		dir:     dir,
		enqueue: enq,
		logger:  logger,
		settle:  defaultSettle,
		now:     time.Now,
		pending: make(map[string]*time.Timer),
	}
}

func (w *Inbox) Dir() string { return w.dir }

// Start begins watching and claims sheets already waiting in the inbox.
func (w *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, ProcessingDir), 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.fsw = fsw
	w.done = done
	w.mu.Unlock()

	go w.loop(ctx, fsw, done)

	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Warn("inbox sweep failed", "error", err)
	}
	w.logger.Info("inbox watcher started", "dir", w.dir)
	return nil
}

// Stop ends watching and cancels claims that have not fired yet.
func (w *Inbox) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	w.fsw = nil
	done := w.done
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	w.logger.Info("inbox watcher stopped")
	return err
}

func (w *Inbox) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Inbox) schedule(ctx context.Context, path string) {
	if !isSheet(path) || filepath.Dir(path) != filepath.Clean(w.dir) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if _, err := w.Claim(ctx, path); err != nil {
			w.logger.Error("failed to claim sheet", "path", path, "error", err)
		}
	})
}

// Sweep claims every sheet currently in the inbox.
func (w *Inbox) Sweep(ctx context.Context) ([]*catalog.Job, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var jobs []*catalog.Job
	for _, e := range entries {
		if e.IsDir() || !isSheet(e.Name()) {
			continue
		}
		job, err := w.Claim(ctx, filepath.Join(w.dir, e.Name()))
		if err != nil {
			w.logger.Error("failed to claim sheet", "file", e.Name(), "error", err)
			continue
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Claim moves the sheet at path under processing/ and enqueues its import.
// A path that no longer exists yields nil, nil.
func (w *Inbox) Claim(ctx context.Context, path string) (*catalog.Job, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}

	dst := filepath.Join(w.dir, ProcessingDir, w.now().Format("20060102-150405")+"_"+filepath.Base(path))
	if err := fsx.Move(path, dst); err != nil {
		return nil, fmt.Errorf("move to processing: %w", err)
	}

	job, err := w.enqueue.EnqueueJob(ctx, catalog.JobTypeManualImport, catalog.ImportPayload{Path: dst})
	if err != nil {
		return nil, fmt.Errorf("enqueue import of %s: %w", dst, err)
	}
	w.logger.Info("revision sheet queued", "file", filepath.Base(path), "job_id", job.ID)
	return job, nil
}

func isSheet(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".csv") && !strings.HasPrefix(base, ".")
}
