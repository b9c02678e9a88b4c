package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/category"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/export"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/reconcile"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/trash"
)

// Audit actions.
const (
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionUnchanged = "unchanged"
	ActionSkipped   = "skipped"
	ActionError     = "error"
)

type Summary struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type Report struct {
	RunID      string             `json:"run_id"`
	Source     string             `json:"source,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Summary    Summary            `json:"summary"`
	Rows       []export.AuditRow  `json:"rows"`
	Videos     []int64            `json:"videos,omitempty"`
	Audit      *export.AuditFiles `json:"audit,omitempty"`
}

type Importer struct {
	repo        catalog.Repository
	engine      *recut.Engine
	trash       trash.Mover
	matcher     *category.Matcher
	revalidator reconcile.Revalidator
	auditDir    string
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Importer)

// WithRevalidator re-derives video statuses after each committed batch.
func WithRevalidator(r reconcile.Revalidator) Option {
	return func(im *Importer) { im.revalidator = r }
}

// WithAuditDir makes ImportFile write audit files into dir.
func WithAuditDir(dir string) Option {
	return func(im *Importer) { im.auditDir = dir }
}

func NewImporter(repo catalog.Repository, engine *recut.Engine, mover trash.Mover, matcher *category.Matcher, logger *slog.Logger, opts ...Option) *Importer {
	im := &Importer{
		repo:    repo,
		engine:  engine,
		trash:   mover,
		matcher: matcher,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile imports the sheet at path and writes the audit files.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sheet: %w", err)
	}
	defer f.Close()

	edits, err := ReadEdits(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	report, err := im.Import(ctx, edits)
	if err != nil {
		return nil, err
	}
	report.Source = path

	if im.auditDir != "" {
		files, err := export.WriteAudit(im.auditDir, report.RunID, report.Rows, report.Summary)
		if err != nil {
			im.logger.Error("failed to write import audit", "run_id", report.RunID, "error", err)
		} else {
			report.Audit = files
		}
	}
	return report, nil
}

// outcome is what applying one edit did.
type outcome struct {
	action  string
	diffs   string
	videoID int64
}

// Import applies edits in one transaction, one savepoint per edit. A failing
// edit is rolled back to its savepoint and recorded as an error; the others
// are kept. File moves run only after the commit.
func (im *Importer) Import(ctx context.Context, edits []Edit) (*Report, error) {
	started := im.now()
	report := &Report{
		RunID:     fmt.Sprintf("%s-%s", started.Format("20060102-150405"), catalog.NewID()[:8]),
		StartedAt: started,
		Rows:      make([]export.AuditRow, 0, len(edits)),
	}
	logger := im.logger.With("run_id", report.RunID)
	logger.Info("manual import started", "edits", len(edits))

	var touched []int64
	seen := make(map[int64]bool)

	err := im.repo.InTx(ctx, func(tx catalog.Tx) error {
		for i, e := range edits {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Summary.Checked++

			sp := fmt.Sprintf("edit_%d", i)
			if err := tx.Savepoint(ctx, sp); err != nil {
				return fmt.Errorf("savepoint for line %d: %w", e.Line, err)
			}

			out, err := im.apply(ctx, tx, e)
			if err != nil {
				if rbErr := tx.RollbackTo(ctx, sp); rbErr != nil {
					return fmt.Errorf("roll back line %d: %w", e.Line, rbErr)
				}
				logger.Error("edit failed", "segment_id", e.RawID, "line", e.Line, "error", err)
				out = outcome{action: ActionError, diffs: err.Error()}
			}
			if err := tx.Release(ctx, sp); err != nil {
				return fmt.Errorf("release savepoint for line %d: %w", e.Line, err)
			}

			report.record(e.RawID, out)
			if out.videoID != 0 && !seen[out.videoID] {
				seen[out.videoID] = true
				touched = append(touched, out.videoID)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("manual import aborted", "error", err)
		return nil, fmt.Errorf("manual import: %w", err)
	}

	report.Videos = touched
	report.FinishedAt = im.now()
	s := report.Summary
	logger.Info("manual import finished",
		"checked", s.Checked, "updated", s.Updated, "deleted", s.Deleted,
		"unchanged", s.Unchanged, "skipped", s.Skipped, "errors", s.Errors)

	if im.revalidator != nil && len(touched) > 0 {
		if _, err := im.revalidator.RevalidateVideos(ctx, touched); err != nil {
			logger.Warn("video revalidation failed", "error", err)
		}
	}
	return report, nil
}

func (r *Report) record(rawID string, out outcome) {
	r.Rows = append(r.Rows, export.AuditRow{SegmentID: rawID, Action: out.action, Differences: out.diffs})
	switch {
	case out.action == ActionUpdated || strings.HasPrefix(out.action, "recut"):
		r.Summary.Updated++
	case out.action == ActionDeleted:
		r.Summary.Deleted++
	case out.action == ActionUnchanged:
		r.Summary.Unchanged++
	case out.action == ActionSkipped:
		r.Summary.Skipped++
	case out.action == ActionError:
		r.Summary.Errors++
	}
}

func (im *Importer) apply(ctx context.Context, tx catalog.Tx, e Edit) (outcome, error) {
	if e.Err != nil {
		return outcome{}, e.Err
	}
	fields, err := Normalize(e)
	if err != nil {
		return outcome{}, err
	}

	intent := recut.ParseIntent(fields.Status)
	switch intent.Kind {
	case recut.IntentDelete:
		return im.delete(ctx, tx, e.SegmentID)
	case recut.IntentRecut:
		res, err := im.engine.Recut(ctx, tx, e.SegmentID, intent.Points)
		if errors.Is(err, catalog.ErrSegmentNotFound) {
			return outcome{action: ActionSkipped, diffs: catalog.ErrSegmentNotFound.Error()}, nil
		}
		if err != nil {
			return outcome{}, err
		}
		out := outcome{action: "recut " + recut.FormatPoints(res.Points), diffs: "recut"}
		if len(res.Children) > 0 {
			out.videoID = res.Children[0].VideoID
		}
		return out, nil
	}

	seg, err := tx.GetSegment(ctx, e.SegmentID)
	if err != nil {
		return outcome{}, fmt.Errorf("load segment %d: %w", e.SegmentID, err)
	}
	if seg == nil {
		im.logger.Warn("segment not found", "segment_id", e.SegmentID)
		return outcome{action: ActionSkipped, diffs: catalog.ErrSegmentNotFound.Error()}, nil
	}

	diffs := Diff(StoredFields(seg), fields)
	if len(diffs) == 0 {
		return outcome{action: ActionUnchanged, videoID: seg.VideoID}, nil
	}

	err = tx.UpdateSegmentManual(ctx, catalog.ManualUpdate{
		SegmentID:   seg.ID,
		Description: fields.Description,
		Confidence:  fields.Confidence,
		Status:      fields.Status,
		SourceFlow:  catalog.SourceFlowManualCSV,
		LastUpdated: im.now(),
	})
	if err != nil {
		return outcome{}, fmt.Errorf("update segment %d: %w", seg.ID, err)
	}
	if slices.Contains(diffs, FieldKeywords) {
		if err := tx.ReplaceKeywords(ctx, seg.ID, fields.Keywords, im.matcher.Match(fields.Keywords)); err != nil {
			return outcome{}, fmt.Errorf("replace keywords of segment %d: %w", seg.ID, err)
		}
	}

	im.logger.Info("segment updated", "segment_id", seg.ID, "fields", diffs)
	return outcome{action: ActionUpdated, diffs: strings.Join(diffs, ", "), videoID: seg.VideoID}, nil
}

func (im *Importer) delete(ctx context.Context, tx catalog.Tx, id int64) (outcome, error) {
	seg, err := tx.GetSegment(ctx, id)
	if err != nil {
		return outcome{}, fmt.Errorf("load segment %d: %w", id, err)
	}
	out := outcome{action: ActionDeleted, diffs: "ALL"}
	if seg == nil {
		im.logger.Warn("segment to delete not found", "segment_id", id)
		return out, nil
	}
	out.videoID = seg.VideoID

	if path := seg.OutputPath; path != "" {
		tx.OnCommit(func() {
			if _, err := im.trash.MoveToTrash(path); err != nil {
				im.logger.Warn("failed to trash deleted segment file", "segment_id", id, "path", path, "error", err)
			}
		})
	}
	if err := tx.DeleteSegment(ctx, id); err != nil {
		return outcome{}, fmt.Errorf("delete segment %d: %w", id, err)
	}
	im.logger.Info("segment deleted", "segment_id", id)
	return out, nil
}
