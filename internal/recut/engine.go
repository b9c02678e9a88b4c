package recut

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/logging"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/trash"
)

var (
	ErrNoValidPoints = errors.New("no recut point inside the segment")
	ErrNoOutputPath  = errors.New("segment has no media file")
)

// Result describes a completed recut.
type Result struct {
	ParentID int64              `json:"parent_id"`
	Points   []float64          `json:"points"`
	Children []*catalog.Segment `json:"children"`
}

type Engine struct {
	repo       catalog.Repository
	cutter     media.Cutter
	trash      trash.Mover
	logger     *slog.Logger
	sourceFlow string
	now        func() time.Time
}

func NewEngine(repo catalog.Repository, cutter media.Cutter, mover trash.Mover, logger *slog.Logger) *Engine {
	return &Engine{
		repo:       repo,
		cutter:     cutter,
		trash:      mover,
		logger:     logger,
		sourceFlow: catalog.SourceFlowManualCSV,
		now:        time.Now,
	}
}

// Perform runs Recut in its own transaction.
func (e *Engine) Perform(ctx context.Context, segmentID int64, points []float64) (*Result, error) {
	var res *Result
	err := e.repo.InTx(ctx, func(tx catalog.Tx) error {
		var err error
		res, err = e.Recut(ctx, tx, segmentID, points)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Recut splits a segment at points (seconds relative to its start) inside tx.
//
// Descendants are inserted before the parent row is deleted. The parent's
// file goes to the trash only after tx commits, and the produced part files
// are removed if tx (or the enclosing savepoint) rolls back.
func (e *Engine) Recut(ctx context.Context, tx catalog.Tx, segmentID int64, points []float64) (*Result, error) {
	logger := logging.WithSegmentID(e.logger, segmentID)

	parent, err := tx.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("load segment %d: %w", segmentID, err)
	}
	if parent == nil {
		logger.Warn("segment to recut not found")
		return nil, fmt.Errorf("recut %d: %w", segmentID, catalog.ErrSegmentNotFound)
	}
	if parent.OutputPath == "" {
		return nil, fmt.Errorf("recut %d: %w", segmentID, ErrNoOutputPath)
	}

	normalized := media.FilterPoints(points, parent.SpanDuration())
	if len(normalized) == 0 {
		return nil, fmt.Errorf("recut %d with %v: %w", segmentID, points, ErrNoValidPoints)
	}

	outDir := filepath.Join(filepath.Dir(parent.OutputPath), "recut")
	parts, err := e.cutter.Cut(ctx, parent.OutputPath, normalized, outDir)
	if err != nil {
		logger.Error("cutting segment media failed", "error", err, "tool_failure", media.IsToolError(err))
		return nil, fmt.Errorf("cut segment %d: %w", segmentID, err)
	}
	tx.OnRollback(func() { media.RemoveParts(parts) })

	// The cutter drops points past the probed file length, so report the
	// boundaries of the parts it actually produced.
	cutPoints := make([]float64, 0, len(parts))
	for i := 0; i < len(parts)-1; i++ {
		cutPoints = append(cutPoints, parts[i].End)
	}

	lineage := make([]int64, 0, len(parent.MergedFrom)+1)
	lineage = append(lineage, parent.MergedFrom...)
	lineage = append(lineage, parent.ID)

	now := e.now()
	children := make([]*catalog.Segment, 0, len(parts))
	for i, part := range parts {
		start := parent.Start + part.Start
		end := parent.Start + part.End
		if i == len(parts)-1 {
			end = parent.End
		}
		child := &catalog.Segment{
			VideoID:           parent.VideoID,
			Start:             start,
			End:               end,
			Duration:          catalog.Float64(end - start),
			Resolution:        parent.Resolution,
			FPS:               parent.FPS,
			Codec:             parent.Codec,
			Bitrate:           parent.Bitrate,
			FilenamePredicted: filepath.Base(part.Path),
			OutputPath:        part.Path,
			SourceFlow:        e.sourceFlow,
			MergedFrom:        append([]int64(nil), lineage...),
			Status:            catalog.StatusPendingCheck,
			LastUpdated:       now,
		}
		if _, err := tx.InsertSegment(ctx, child); err != nil {
			return nil, fmt.Errorf("insert descendant %d of segment %d: %w", i+1, segmentID, err)
		}
		logger.Info("descendant segment created",
			"child_id", child.ID, "file", child.FilenamePredicted, "start", start, "end", end)
		children = append(children, child)
	}

	parentFile := parent.OutputPath
	tx.OnCommit(func() {
		if _, err := e.trash.MoveToTrash(parentFile); err != nil {
			logger.Warn("failed to trash recut parent file", "path", parentFile, "error", err)
		}
	})

	if err := tx.DeleteSegment(ctx, parent.ID); err != nil {
		return nil, fmt.Errorf("delete recut parent %d: %w", segmentID, err)
	}

	logger.Info("segment recut", "points", cutPoints, "children", len(children))
	return &Result{ParentID: parent.ID, Points: cutPoints, Children: children}, nil
}
