package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo is the availability of one binary.
type ToolInfo struct {
	Path      string `json:"path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports which media tools are usable.
type Capabilities struct {
	FFprobe  ToolInfo  `json:"ffprobe"`
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	ProbedAt time.Time `json:"probed_at"`
}

// CanProbe is true when check jobs can run.
func (c *Capabilities) CanProbe() bool { return c.FFprobe.Available }

// CanCut is true when recut jobs can run; cutting probes durations too.
func (c *Capabilities) CanCut() bool { return c.FFprobe.Available && c.FFmpeg.Available }

// Checker inspects the installed tools.
type Checker interface {
	Check(ctx context.Context) (*Capabilities, error)
}

// VersionChecker runs `<tool> -version` for ffprobe and ffmpeg.
type VersionChecker struct {
	FFprobePath string
	FFmpegPath  string
	Timeout     time.Duration
	Logger      *slog.Logger
}

func (v *VersionChecker) Check(ctx context.Context) (*Capabilities, error) {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caps := &Capabilities{
		FFprobe:  v.version(ctx, logger, v.FFprobePath),
		FFmpeg:   v.version(ctx, logger, v.FFmpegPath),
		ProbedAt: time.Now(),
	}
	logger.Info("media tool check complete",
		"ffprobe", caps.FFprobe.Available,
		"ffmpeg", caps.FFmpeg.Available,
	)
	return caps, nil
}

func (v *VersionChecker) version(ctx context.Context, logger *slog.Logger, bin string) ToolInfo {
	info := ToolInfo{Path: bin}
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	var out bytes.Buffer
	if _, err := runTool(ctx, logger, bin, []string{"-version"}, &out); err != nil {
		info.Error = err.Error()
		return info
	}
	info.Available = true
	info.Version = firstLine(out.Bytes())
	return info
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}

// CachedDoctor caches tool checks for a TTL so every job does not spawn
// version probes.
type CachedDoctor struct {
	checker Checker
	ttl     time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(checker Checker, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{checker: checker, ttl: defaultCacheTTL, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-checks.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new check; on failure a stale cache is returned if any.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.checker.Check(ctx)
	if err != nil {
		d.logger.Warn("media tool check failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// RequireProbe fails unless ffprobe is available.
func (d *CachedDoctor) RequireProbe(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	if !caps.CanProbe() {
		return fmt.Errorf("ffprobe unavailable: %s", caps.FFprobe.Error)
	}
	return nil
}

// RequireCut fails unless both ffprobe and ffmpeg are available.
func (d *CachedDoctor) RequireCut(ctx context.Context) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return err
	}
	if !caps.CanCut() {
		return fmt.Errorf("ffmpeg/ffprobe unavailable: ffprobe=%t ffmpeg=%t", caps.FFprobe.Available, caps.FFmpeg.Available)
	}
	return nil
}
