// Package media wraps the external media tools: ffprobe to read stream
// properties and ffmpeg to cut a file at given offsets.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	TrackVideo = "video"
	TrackAudio = "audio"
)

var (
	// ErrMediaUnreadable means the file exists but its properties could not
	// be read (no duration, corrupt container, unparseable probe output).
	ErrMediaUnreadable = errors.New("media unreadable")
	ErrNoVideoTrack    = errors.New("no video track")
)

type Track struct {
	Type       string  `json:"type"`
	Codec      string  `json:"codec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

type ProbeResult struct {
	Tracks           []Track `json:"tracks"`
	FormatDurationMs int64   `json:"format_duration_ms"`
	FormatBitRate    int64   `json:"format_bit_rate,omitempty"`
}

// VideoTrack returns the first video track.
func (r *ProbeResult) VideoTrack() (*Track, bool) {
	for i := range r.Tracks {
		if r.Tracks[i].Type == TrackVideo {
			return &r.Tracks[i], true
		}
	}
	return nil, false
}

// DurationSeconds prefers the container duration and falls back to the
// first video track.
func (r *ProbeResult) DurationSeconds() float64 {
	if r.FormatDurationMs > 0 {
		return float64(r.FormatDurationMs) / 1000
	}
	if t, ok := r.VideoTrack(); ok {
		return float64(t.DurationMs) / 1000
	}
	return 0
}

type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// Part is one file produced by a cut. Start and End are offsets in seconds
// relative to the input file.
type Part struct {
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Cutter interface {
	Cut(ctx context.Context, input string, points []float64, outDir string) ([]Part, error)
}

// RunResult captures the outcome of one tool invocation.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// ToolError reports a failed external tool run.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Tool, e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + truncate(e.StderrTail, 512)
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}
