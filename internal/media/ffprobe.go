package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// FFprobe implements Prober with the ffprobe binary.
type FFprobe struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFprobe(bin string, timeout time.Duration, logger *slog.Logger) *FFprobe {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFprobe{bin: bin, timeout: timeout, logger: logger}
}

func (p *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	args := []string{"-v", "error", "-print_format", "json", "-show_streams", "-show_format", path}
	if _, err := runTool(ctx, p.logger, p.bin, args, &out); err != nil {
		return nil, err
	}

	res, err := parseProbeOutput(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMediaUnreadable, path, err)
	}
	return res, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		BitRate      string `json:"bit_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ffprobe json: %w", err)
	}

	res := &ProbeResult{
		FormatDurationMs: secondsToMs(raw.Format.Duration),
		FormatBitRate:    parseInt(raw.Format.BitRate),
	}
	for _, s := range raw.Streams {
		t := Track{
			Type:       s.CodecType,
			Codec:      s.CodecName,
			Width:      s.Width,
			Height:     s.Height,
			BitRate:    parseInt(s.BitRate),
			DurationMs: secondsToMs(s.Duration),
		}
		if s.CodecType == TrackVideo {
			t.FrameRate = parseRate(s.AvgFrameRate)
			if t.FrameRate == 0 {
				t.FrameRate = parseRate(s.RFrameRate)
			}
			if t.BitRate == 0 {
				t.BitRate = res.FormatBitRate
			}
			if t.DurationMs == 0 {
				t.DurationMs = res.FormatDurationMs
			}
		}
		res.Tracks = append(res.Tracks, t)
	}
	return res, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return int64(math.Round(f * 1000))
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
