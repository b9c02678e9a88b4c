package recut

import (
	"context"
	"errors"
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
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/db"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
)

// fakeCutter writes one small file per part, splitting a file of the given
// duration the way ffmpeg would.
type fakeCutter struct {
	duration float64
	err      error
	calls    int
	gotPts   []float64
}

func (f *fakeCutter) Cut(ctx context.Context, input string, points []float64, outDir string) ([]media.Part, error) {
	f.calls++
	f.gotPts = points
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	cuts := append([]float64{0}, media.FilterPoints(points, f.duration)...)
	cuts = append(cuts, f.duration)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	var parts []media.Part
	for i := 0; i < len(cuts)-1; i++ {
		p := media.Part{
			Path:  filepath.Join(outDir, fmt.Sprintf("%s_part%d.mp4", stem, i+1)),
			Start: cuts[i],
			End:   cuts[i+1],
		}
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
	return "/trash/" + filepath.Base(path), nil
}

type testEnv struct {
	repo   *catalog.SQLRepository
	engine *Engine
	cutter *fakeCutter
	mover  *fakeMover
	dir    string
}

func setup(t *testing.T, duration float64) *testEnv {
	t.Helper()
	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	cutter := &fakeCutter{duration: duration}
	mover := &fakeMover{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(repo, cutter, mover, logger)
	engine.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	return &testEnv{repo: repo, engine: engine, cutter: cutter, mover: mover, dir: t.TempDir()}
}

func (e *testEnv) seedParent(t *testing.T, start, end float64) *catalog.Segment {
	t.Helper()
	ctx := context.Background()
	v := &catalog.Video{Name: "source", Status: catalog.VideoStatusEnhanced}
	if _, err := e.repo.CreateVideo(ctx, v); err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}

	path := filepath.Join(e.dir, "seg_0042.mp4")
	os.WriteFile(path, []byte("parent"), 0o644)

	seg := &catalog.Segment{
		VideoID:    v.ID,
		Start:      start,
		End:        end,
		Duration:   catalog.Float64(end - start),
		Resolution: "1920x1080",
		FPS:        catalog.Float64(25),
		Codec:      "h264",
		Bitrate:    catalog.Int64(6000000),
		OutputPath: path,
		MergedFrom: []int64{7},
		Status:     catalog.StatusEnhanced,
	}
	if _, err := e.repo.InsertSegment(ctx, seg); err != nil {
		t.Fatalf("InsertSegment() error = %v", err)
	}
	if err := e.repo.InsertKeywordsStandalone(ctx, seg.ID, []string{"beach"}); err != nil {
		t.Fatalf("InsertKeywordsStandalone() error = %v", err)
	}
	return seg
}

func TestPerform_ReportsPointsActuallyCut(t *testing.T) {
	// The file is shorter than the stored span, so the cutter drops 120.
	env := setup(t, 90)
	parent := env.seedParent(t, 100, 300)

	res, err := env.engine.Perform(context.Background(), parent.ID, []float64{50, 120})
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if !reflect.DeepEqual(env.cutter.gotPts, []float64{50, 120}) {
		t.Errorf("cutter points = %v", env.cutter.gotPts)
	}
	if !reflect.DeepEqual(res.Points, []float64{50}) {
		t.Errorf("Points = %v, want [50]", res.Points)
	}
	if len(res.Children) != len(res.Points)+1 {
		t.Errorf("children = %d, points = %v", len(res.Children), res.Points)
	}
}

func TestPerform_SplitsIntoDescendants(t *testing.T) {
	env := setup(t, 200)
	parent := env.seedParent(t, 100, 300)
	ctx := context.Background()

	res, err := env.engine.Perform(ctx, parent.ID, []float64{120, 50})
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}

	if !reflect.DeepEqual(res.Points, []float64{50, 120}) {
		t.Errorf("Points = %v, want sorted [50 120]", res.Points)
	}
	if !reflect.DeepEqual(env.cutter.gotPts, []float64{50, 120}) {
		t.Errorf("cutter points = %v", env.cutter.gotPts)
	}

	got, _ := env.repo.GetSegment(ctx, parent.ID)
	if got != nil {
		t.Error("parent row still present")
	}

	children, _ := env.repo.ListSegments(ctx, catalog.SegmentFilter{VideoID: parent.VideoID})
	if len(children) != 3 {
		t.Fatalf("len(children) = %d, want 3", len(children))
	}

	wantSpans := [][2]float64{{100, 150}, {150, 220}, {220, 300}}
	for i, c := range children {
		if c.Start != wantSpans[i][0] || c.End != wantSpans[i][1] {
			t.Errorf("child %d span = [%v, %v), want %v", i, c.Start, c.End, wantSpans[i])
		}
		if c.Duration == nil || *c.Duration != c.End-c.Start {
			t.Errorf("child %d duration = %v", i, c.Duration)
		}
		if c.Status != catalog.StatusPendingCheck {
			t.Errorf("child %d status = %q", i, c.Status)
		}
		if c.SourceFlow != catalog.SourceFlowManualCSV {
			t.Errorf("child %d source flow = %q", i, c.SourceFlow)
		}
		if !reflect.DeepEqual(c.MergedFrom, []int64{7, parent.ID}) {
			t.Errorf("child %d merged_from = %v, want [7 %d]", i, c.MergedFrom, parent.ID)
		}
		if c.Codec != "h264" || c.Resolution != "1920x1080" || c.Bitrate == nil || *c.Bitrate != 6000000 {
			t.Errorf("child %d technical fields not copied: %+v", i, c)
		}
		if c.FPS == nil || *c.FPS != 25 {
			t.Errorf("child %d fps = %v", i, c.FPS)
		}
		if len(c.Keywords) != 0 {
			t.Errorf("child %d keywords = %v, keywords must not be copied", i, c.Keywords)
		}
		wantFile := fmt.Sprintf("seg_0042_part%d.mp4", i+1)
		if c.FilenamePredicted != wantFile {
			t.Errorf("child %d filename = %q, want %q", i, c.FilenamePredicted, wantFile)
		}
		if filepath.Dir(c.OutputPath) != filepath.Join(env.dir, "recut") {
			t.Errorf("child %d output dir = %q", i, filepath.Dir(c.OutputPath))
		}
	}

	if len(env.mover.moved) != 1 || env.mover.moved[0] != parent.OutputPath {
		t.Errorf("trashed = %v, want [%s]", env.mover.moved, parent.OutputPath)
	}
}

func TestPerform_CoverageIsContiguous(t *testing.T) {
	env := setup(t, 37.5)
	parent := env.seedParent(t, 12.5, 50)

	res, err := env.engine.Perform(context.Background(), parent.ID, []float64{10, 20, 30})
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if len(res.Children) != 4 {
		t.Fatalf("len(children) = %d, want 4", len(res.Children))
	}
	if res.Children[0].Start != parent.Start {
		t.Errorf("first start = %v, want %v", res.Children[0].Start, parent.Start)
	}
	if res.Children[3].End != parent.End {
		t.Errorf("last end = %v, want %v", res.Children[3].End, parent.End)
	}
	for i := 1; i < len(res.Children); i++ {
		if res.Children[i].Start != res.Children[i-1].End {
			t.Errorf("gap between child %d and %d", i-1, i)
		}
	}
}

func TestPerform_DropsOutOfRangePoints(t *testing.T) {
	env := setup(t, 200)
	parent := env.seedParent(t, 100, 300)

	res, err := env.engine.Perform(context.Background(), parent.ID, []float64{0, 80, 80, 200, 450})
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if !reflect.DeepEqual(res.Points, []float64{80}) {
		t.Errorf("Points = %v, want [80]", res.Points)
	}
	if len(res.Children) != 2 {
		t.Errorf("len(children) = %d, want 2", len(res.Children))
	}
}

func TestPerform_NoValidPoints(t *testing.T) {
	env := setup(t, 200)
	parent := env.seedParent(t, 100, 300)

	_, err := env.engine.Perform(context.Background(), parent.ID, []float64{0, 250})
	if !errors.Is(err, ErrNoValidPoints) {
		t.Fatalf("Perform() error = %v, want ErrNoValidPoints", err)
	}
	if env.cutter.calls != 0 {
		t.Errorf("cutter called %d times", env.cutter.calls)
	}
	got, _ := env.repo.GetSegment(context.Background(), parent.ID)
	if got == nil {
		t.Error("parent row removed")
	}
}

func TestPerform_SegmentNotFound(t *testing.T) {
	env := setup(t, 200)

	_, err := env.engine.Perform(context.Background(), 9999, []float64{10})
	if !errors.Is(err, catalog.ErrSegmentNotFound) {
		t.Fatalf("Perform() error = %v, want ErrSegmentNotFound", err)
	}
}

func TestPerform_CutterFailureLeavesParent(t *testing.T) {
	env := setup(t, 200)
	parent := env.seedParent(t, 100, 300)
	env.cutter.err = &media.ToolError{Tool: "ffmpeg", ExitCode: 1, StderrTail: "moov atom not found"}

	_, err := env.engine.Perform(context.Background(), parent.ID, []float64{50})
	if !media.IsToolError(err) {
		t.Fatalf("Perform() error = %v, want ToolError", err)
	}

	got, _ := env.repo.GetSegment(context.Background(), parent.ID)
	if got == nil || got.Status != catalog.StatusEnhanced {
		t.Errorf("parent after failure = %+v", got)
	}
	if len(env.mover.moved) != 0 {
		t.Errorf("trashed = %v, want nothing", env.mover.moved)
	}
}

// failingInsertTx fails the nth InsertSegment call.
type failingInsertTx struct {
	catalog.Tx
	failAt int
	n      int
}

func (f *failingInsertTx) InsertSegment(ctx context.Context, seg *catalog.Segment) (int64, error) {
	f.n++
	if f.n == f.failAt {
		return 0, errors.New("disk full")
	}
	return f.Tx.InsertSegment(ctx, seg)
}

func TestRecut_InsertFailureKeepsParentAndRemovesParts(t *testing.T) {
	env := setup(t, 200)
	parent := env.seedParent(t, 100, 300)
	ctx := context.Background()

	err := env.repo.InTx(ctx, func(tx catalog.Tx) error {
		_, err := env.engine.Recut(ctx, &failingInsertTx{Tx: tx, failAt: 2}, parent.ID, []float64{50, 120})
		return err
	})
	if err == nil {
		t.Fatal("Recut() should fail when a descendant insert fails")
	}

	got, _ := env.repo.GetSegment(ctx, parent.ID)
	if got == nil {
		t.Fatal("parent row removed despite failed insert")
	}
	segs, _ := env.repo.ListSegments(ctx, catalog.SegmentFilter{VideoID: parent.VideoID})
	if len(segs) != 1 {
		t.Errorf("segments after rollback = %d, want 1", len(segs))
	}
	if len(env.mover.moved) != 0 {
		t.Errorf("parent file trashed: %v", env.mover.moved)
	}
	if _, err := os.Stat(parent.OutputPath); err != nil {
		t.Errorf("parent file missing: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(env.dir, "recut"))
	if len(entries) != 0 {
		t.Errorf("part files left behind: %d", len(entries))
	}
}

func TestRecut_NoOutputPath(t *testing.T) {
	env := setup(t, 200)
	ctx := context.Background()
	v := &catalog.Video{Name: "v", Status: catalog.VideoStatusEnhanced}
	env.repo.CreateVideo(ctx, v)
	seg := &catalog.Segment{VideoID: v.ID, Start: 0, End: 10, Status: catalog.StatusPendingCheck}
	env.repo.InsertSegment(ctx, seg)

	_, err := env.engine.Perform(ctx, seg.ID, []float64{5})
	if !errors.Is(err, ErrNoOutputPath) {
		t.Fatalf("Perform() error = %v, want ErrNoOutputPath", err)
	}
}
