package manual

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/category"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/db"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/reconcile"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
)

type fakeCutter struct {
	duration float64
	err      error
}

func (f *fakeCutter) Cut(ctx context.Context, input string, points []float64, outDir string) ([]media.Part, error) {
	if f.err != nil {
		return nil, f.err
	}
	os.MkdirAll(outDir, 0o755)
	cuts := append([]float64{0}, points...)
	cuts = append(cuts, f.duration)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	var parts []media.Part
	for i := 0; i < len(cuts)-1; i++ {
		p := media.Part{Path: filepath.Join(outDir, fmt.Sprintf("%s_part%d.mp4", stem, i+1)), Start: cuts[i], End: cuts[i+1]}
		os.WriteFile(p.Path, []byte("part"), 0o644)
		parts = append(parts, p)
	}
	return parts, nil
}

type fakeMover struct {
	moved []string
}

func (f *fakeMover) MoveToTrash(path string) (string, error) {
	f.moved = append(f.moved, path)
	return "", nil
}

type fakeRevalidator struct {
	calls [][]int64
}

func (f *fakeRevalidator) RevalidateVideos(ctx context.Context, ids []int64) (*reconcile.Report, error) {
	f.calls = append(f.calls, ids)
	return &reconcile.Report{}, nil
}

type env struct {
	repo     *catalog.SQLRepository
	importer *Importer
	cutter   *fakeCutter
	mover    *fakeMover
	reval    *fakeRevalidator
	video    *catalog.Video
	dir      string
	auditDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cutter := &fakeCutter{duration: 30}
	mover := &fakeMover{}
	reval := &fakeRevalidator{}
	auditDir := filepath.Join(t.TempDir(), "audit")

	engine := recut.NewEngine(repo, cutter, mover, logger)
	im := NewImporter(repo, engine, mover, category.Default(), logger,
		WithRevalidator(reval), WithAuditDir(auditDir))
	im.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	v := &catalog.Video{Name: "holiday", Status: catalog.VideoStatusProcessingRouter}
	if _, err := repo.CreateVideo(context.Background(), v); err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}

	return &env{repo: repo, importer: im, cutter: cutter, mover: mover, reval: reval, video: v, dir: t.TempDir(), auditDir: auditDir}
}

func (e *env) seed(t *testing.T, start float64, withFile bool, keywords ...string) *catalog.Segment {
	t.Helper()
	ctx := context.Background()
	seg := &catalog.Segment{
		VideoID:     e.video.ID,
		Start:       start,
		End:         start + 30,
		Description: "waves",
		Confidence:  catalog.Float64(0.8),
		Status:      catalog.StatusEnhanced,
	}
	if withFile {
		seg.OutputPath = filepath.Join(e.dir, fmt.Sprintf("seg_%v.mp4", start))
		os.WriteFile(seg.OutputPath, []byte("media"), 0o644)
	}
	if _, err := e.repo.InsertSegment(ctx, seg); err != nil {
		t.Fatalf("InsertSegment() error = %v", err)
	}
	if len(keywords) > 0 {
		e.repo.InsertKeywordsStandalone(ctx, seg.ID, keywords)
	}
	return seg
}

func edit(id int64, desc, conf, status, kws string) Edit {
	return Edit{RawID: fmt.Sprint(id), SegmentID: id, Description: desc, Confidence: conf, Status: status, Keywords: kws}
}

func TestImport_UpdateWithKeywords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true, "beach")

	report, err := e.importer.Import(ctx, []Edit{edit(seg.ID, "dog on the sand", "0.8", "validated", "dog, cat, sand")})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Summary.Updated != 1 || report.Summary.Checked != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.Rows[0].Differences != "description, status, keywords" {
		t.Errorf("differences = %q", report.Rows[0].Differences)
	}

	got, _ := e.repo.GetSegment(ctx, seg.ID)
	if got.Description != "dog on the sand" || got.Status != catalog.StatusValidated {
		t.Errorf("segment = %+v", got)
	}
	if got.SourceFlow != catalog.SourceFlowManualCSV {
		t.Errorf("source_flow = %q", got.SourceFlow)
	}
	if !reflect.DeepEqual(got.Keywords, []string{"cat", "dog", "sand"}) {
		t.Errorf("keywords = %v", got.Keywords)
	}
	if got.Category != "animals" {
		t.Errorf("category = %q, want animals", got.Category)
	}

	if len(e.reval.calls) != 1 || !reflect.DeepEqual(e.reval.calls[0], []int64{e.video.ID}) {
		t.Errorf("revalidate calls = %v", e.reval.calls)
	}
}

func TestImport_UnchangedAndAbsentStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true, "beach", "sea")

	report, err := e.importer.Import(ctx, []Edit{edit(seg.ID, " waves ", "0.8", "", "sea|beach")})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Summary.Unchanged != 1 || report.Rows[0].Action != ActionUnchanged {
		t.Errorf("report = %+v", report)
	}
	got, _ := e.repo.GetSegment(ctx, seg.ID)
	if got.Status != catalog.StatusEnhanced || got.SourceFlow != "" {
		t.Errorf("unchanged segment was written: %+v", got)
	}
}

func TestImport_AbsentStatusKeepsStoredStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true)

	if _, err := e.importer.Import(ctx, []Edit{edit(seg.ID, "new text", "0.8", "null", "")}); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	got, _ := e.repo.GetSegment(ctx, seg.ID)
	if got.Description != "new text" || got.Status != catalog.StatusEnhanced {
		t.Errorf("segment = %+v", got)
	}
}

func TestImport_Delete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	withFile := e.seed(t, 0, true)
	noFile := e.seed(t, 30, false)

	report, err := e.importer.Import(ctx, []Edit{
		edit(withFile.ID, "", "", "Delete", ""),
		edit(noFile.ID, "", "", " to_delete ", ""),
		edit(9999, "", "", "delete", ""),
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Summary.Deleted != 3 || report.Summary.Errors != 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
	for _, r := range report.Rows {
		if r.Action != ActionDeleted || r.Differences != "ALL" {
			t.Errorf("row = %+v", r)
		}
	}
	for _, id := range []int64{withFile.ID, noFile.ID} {
		if got, _ := e.repo.GetSegment(ctx, id); got != nil {
			t.Errorf("segment %d still present", id)
		}
	}
	if !reflect.DeepEqual(e.mover.moved, []string{withFile.OutputPath}) {
		t.Errorf("trashed = %v, want only the segment with a file", e.mover.moved)
	}
}

func TestImport_Recut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 100, true)

	report, err := e.importer.Import(ctx, []Edit{edit(seg.ID, "", "", "recut:10,20", "")})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Summary.Updated != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if report.Rows[0].Action != "recut @[10.0, 20.0]" || report.Rows[0].Differences != "recut" {
		t.Errorf("row = %+v", report.Rows[0])
	}

	segs, _ := e.repo.ListSegments(ctx, catalog.SegmentFilter{VideoID: e.video.ID})
	if len(segs) != 3 {
		t.Fatalf("segments after recut = %d, want 3", len(segs))
	}
	if segs[0].Start != 100 || segs[2].End != 130 {
		t.Errorf("coverage = [%v, %v)", segs[0].Start, segs[2].End)
	}
	if !reflect.DeepEqual(e.mover.moved, []string{seg.OutputPath}) {
		t.Errorf("trashed = %v", e.mover.moved)
	}
}

func TestImport_RecutMissingSegmentSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true)

	report, err := e.importer.Import(ctx, []Edit{
		edit(9999, "", "", "recut:10", ""),
		edit(seg.ID, "", "", "recut:10", ""),
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	want := Summary{Checked: 2, Updated: 1, Skipped: 1}
	if report.Summary != want {
		t.Errorf("summary = %+v, want %+v", report.Summary, want)
	}
	if r := report.Rows[0]; r.Action != ActionSkipped || r.Differences != catalog.ErrSegmentNotFound.Error() {
		t.Errorf("missing segment row = %+v", r)
	}
}

func TestImport_ErrorsAreIsolated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.seed(t, 0, true)
	b := e.seed(t, 30, true)
	c := e.seed(t, 60, true)
	e.cutter.err = &media.ToolError{Tool: "ffmpeg", ExitCode: 1}

	report, err := e.importer.Import(ctx, []Edit{
		edit(a.ID, "changed", "0.8", "", ""),
		edit(b.ID, "", "", "recut:5", ""),
		edit(c.ID, "x", "very", "", ""),
		{RawID: "abc", Err: errBadSegmentID},
		edit(424242, "ghost", "", "validated", ""),
	})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	want := Summary{Checked: 5, Updated: 1, Skipped: 1, Errors: 3}
	if report.Summary != want {
		t.Errorf("summary = %+v, want %+v", report.Summary, want)
	}
	actions := make([]string, len(report.Rows))
	for i, r := range report.Rows {
		actions[i] = r.Action
	}
	if !reflect.DeepEqual(actions, []string{ActionUpdated, ActionError, ActionError, ActionError, ActionSkipped}) {
		t.Errorf("actions = %v", actions)
	}

	got, _ := e.repo.GetSegment(ctx, a.ID)
	if got.Description != "changed" {
		t.Errorf("successful edit lost: %+v", got)
	}
	parent, _ := e.repo.GetSegment(ctx, b.ID)
	if parent == nil {
		t.Error("failed recut removed the parent")
	}
	if len(e.mover.moved) != 0 {
		t.Errorf("trashed = %v", e.mover.moved)
	}
}

// failingDeleteRepo hands out transactions whose DeleteSegment fails after
// the trash hook is registered.
type failingDeleteRepo struct {
	*catalog.SQLRepository
}

func (r failingDeleteRepo) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	return r.SQLRepository.InTx(ctx, func(tx catalog.Tx) error {
		return fn(failingDeleteTx{tx})
	})
}

type failingDeleteTx struct {
	catalog.Tx
}

func (failingDeleteTx) DeleteSegment(ctx context.Context, id int64) error {
	return fmt.Errorf("constraint failed")
}

func TestImport_FailedDeleteDropsTrashHook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true)
	e.importer.repo = failingDeleteRepo{e.repo}

	report, err := e.importer.Import(ctx, []Edit{edit(seg.ID, "", "", "delete", "")})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Summary.Errors != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if len(e.mover.moved) != 0 {
		t.Errorf("file trashed for a rolled back delete: %v", e.mover.moved)
	}
	if got, _ := e.repo.GetSegment(ctx, seg.ID); got == nil {
		t.Error("segment removed")
	}
}

func TestImport_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true, "beach")
	edits := []Edit{edit(seg.ID, "surf", "0.9", "validated", "beach, surf")}

	if _, err := e.importer.Import(ctx, edits); err != nil {
		t.Fatal(err)
	}
	report, err := e.importer.Import(ctx, edits)
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary.Unchanged != 1 || report.Summary.Updated != 0 {
		t.Errorf("second import summary = %+v", report.Summary)
	}
}

func TestImportFile_WritesAudit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seg := e.seed(t, 0, true)

	sheet := filepath.Join(t.TempDir(), "edits.csv")
	content := fmt.Sprintf("segment_id,description,confidence,status,keywords\n%d,calm sea,0.8,validated,sea\n", seg.ID)
	os.WriteFile(sheet, []byte(content), 0o644)

	report, err := e.importer.ImportFile(ctx, sheet)
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if report.Audit == nil {
		t.Fatal("audit files not written")
	}
	if !strings.HasPrefix(filepath.Base(report.Audit.AuditCSV), "20240501-100000-") {
		t.Errorf("audit file = %s", report.Audit.AuditCSV)
	}

	data, err := os.ReadFile(report.Audit.SummaryJSON)
	if err != nil {
		t.Fatal(err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	if s.Updated != 1 {
		t.Errorf("summary file = %+v", s)
	}
}

func TestImportFile_MissingSheet(t *testing.T) {
	e := newEnv(t)
	if _, err := e.importer.ImportFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected error for missing sheet")
	}
}
