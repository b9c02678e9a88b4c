package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FFmpeg implements Cutter with stream-copy cuts.
type FFmpeg struct {
	bin     string
	prober  Prober
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFmpeg(bin string, prober Prober, timeout time.Duration, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{bin: bin, prober: prober, timeout: timeout, logger: logger}
}

// Cut splits input at points (seconds) into outDir/<stem>_part<N>.mp4.
// Points outside (0, duration) are ignored; the result has one more part
// than the surviving points. Parts already written are removed when a later
// cut fails.
func (f *FFmpeg) Cut(ctx context.Context, input string, points []float64, outDir string) ([]Part, error) {
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("input not found: %w", err)
		}
		return nil, err
	}

	probe, err := f.prober.Probe(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("read duration of %s: %w", input, err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s has no duration", ErrMediaUnreadable, input)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	cuts := append([]float64{0}, FilterPoints(points, duration)...)
	cuts = append(cuts, duration)

	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	parts := make([]Part, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		part := Part{
			Path:  filepath.Join(outDir, fmt.Sprintf("%s_part%d.mp4", stem, i+1)),
			Start: cuts[i],
			End:   cuts[i+1],
		}
		if err := f.cutOne(ctx, input, part); err != nil {
			RemoveParts(append(parts, part))
			return nil, err
		}
		parts = append(parts, part)
	}

	f.logger.Info("media cut complete", "input", input, "parts", len(parts))
	return parts, nil
}

func (f *FFmpeg) cutOne(ctx context.Context, input string, part Part) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	args := []string{
		"-y",
		"-ss", formatSeconds(part.Start),
		"-to", formatSeconds(part.End),
		"-i", input,
		"-c", "copy",
		part.Path,
	}
	_, err := runTool(ctx, f.logger, f.bin, args, nil)
	return err
}

// FilterPoints keeps the points strictly inside (0, duration), sorted and
// without duplicates.
func FilterPoints(points []float64, duration float64) []float64 {
	kept := make([]float64, 0, len(points))
	for _, p := range points {
		if p > 0 && p < duration {
			kept = append(kept, p)
		}
	}
	sort.Float64s(kept)
	out := kept[:0]
	for i, p := range kept {
		if i == 0 || p != kept[i-1] {
			out = append(out, p)
		}
	}
	return out
}

// RemoveParts deletes produced part files, ignoring ones already gone.
func RemoveParts(parts []Part) {
	for _, p := range parts {
		_ = os.Remove(p.Path)
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
