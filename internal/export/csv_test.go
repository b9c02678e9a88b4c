package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

func TestWriteSegmentsCSV(t *testing.T) {
	segs := []*catalog.Segment{
		{
			ID: 42, VideoID: 3, Start: 10, End: 22.5, Description: "waves, at dusk",
			Confidence: catalog.Float64(0.85), Status: catalog.StatusEnhanced,
			Keywords: []string{"beach", "sunset"}, Category: "sea",
			FilenamePredicted: "seg_42.mp4", OutputPath: "/out/seg_42.mp4",
		},
		{ID: 43, VideoID: 3, Start: 22.5, End: 30, Status: catalog.StatusPendingCheck},
	}

	var buf bytes.Buffer
	if err := WriteSegmentsCSV(&buf, segs); err != nil {
		t.Fatalf("WriteSegmentsCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading back csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2", len(records))
	}
	if records[0][0] != "segment_id" || records[0][4] != "keywords" {
		t.Errorf("header = %v", records[0])
	}

	first := records[1]
	if first[0] != "42" || first[1] != "waves, at dusk" || first[2] != "0.85" || first[3] != "enhanced" {
		t.Errorf("first row = %v", first)
	}
	if first[4] != "beach, sunset" {
		t.Errorf("keywords = %q", first[4])
	}
	if first[8] != "12.5" {
		t.Errorf("duration = %q, want 12.5", first[8])
	}

	second := records[2]
	if second[2] != "" || second[4] != "" {
		t.Errorf("absent values should be empty: %v", second)
	}
}

func TestWriteAudit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	rows := []AuditRow{
		{SegmentID: "1", Action: "updated", Differences: "description, status"},
		{SegmentID: "2", Action: "deleted", Differences: "ALL"},
	}
	summary := map[string]int{"checked": 2, "updated": 1, "deleted": 1}

	files, err := WriteAudit(dir, "20240501-100000-ab12", rows, summary)
	if err != nil {
		t.Fatalf("WriteAudit() error = %v", err)
	}
	if filepath.Base(files.AuditCSV) != "20240501-100000-ab12_audit.csv" {
		t.Errorf("audit csv = %s", files.AuditCSV)
	}

	f, err := os.Open(files.AuditCSV)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[1][2] != "description, status" || records[2][1] != "deleted" {
		t.Errorf("audit records = %v", records)
	}

	data, err := os.ReadFile(files.SummaryJSON)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("summary is not json: %v", err)
	}
	if got["deleted"] != 1 {
		t.Errorf("summary = %v", got)
	}
}

func TestWriteAudit_RejectsEmptyRunID(t *testing.T) {
	if _, err := WriteAudit(t.TempDir(), "\n", nil, nil); err == nil {
		t.Fatal("expected error for empty run id")
	}
}
