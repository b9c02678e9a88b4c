package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/fsx"
)

// AuditFiles are the paths WriteAudit produced.
type AuditFiles struct {
	AuditCSV    string `json:"audit_csv"`
	SummaryJSON string `json:"summary_json"`
}

// WriteAudit writes <runID>_audit.csv and <runID>_summary.json into dir.
// Both files are replaced atomically.
func WriteAudit(dir, runID string, rows []AuditRow, summary any) (*AuditFiles, error) {
	base := SanitizeName(runID, 80)
	if base == "" {
		return nil, fmt.Errorf("invalid audit run id %q", runID)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"segment_id", "action", "differences"})
	for _, r := range rows {
		cw.Write([]string{r.SegmentID, r.Action, r.Differences})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("encode audit rows: %w", err)
	}

	summaryData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode audit summary: %w", err)
	}

	files := &AuditFiles{
		AuditCSV:    filepath.Join(dir, base+"_audit.csv"),
		SummaryJSON: filepath.Join(dir, base+"_summary.json"),
	}
	if err := fsx.WriteFileAtomic(dir, filepath.Base(files.AuditCSV), buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write audit csv: %w", err)
	}
	if err := fsx.WriteFileAtomic(dir, filepath.Base(files.SummaryJSON), append(summaryData, '\n')); err != nil {
		return nil, fmt.Errorf("write audit summary: %w", err)
	}
	return files, nil
}
