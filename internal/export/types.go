// Package export writes the files reviewers and operators work with: the
// editable segment sheet, review EDLs and import audit logs.
package export

import (
	"path/filepath"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

// Clip is one event of a review EDL, with source times in seconds.
type Clip struct {
	Name      string
	MediaPath string
	Start     float64
	End       float64
}

// AuditRow records what an import did with one edit.
type AuditRow struct {
	SegmentID   string `json:"segment_id"`
	Action      string `json:"action"`
	Differences string `json:"differences"`
}

// ClipsFromSegments maps segments to EDL clips in segment order. Clip times
// are the segment's span in the source video.
func ClipsFromSegments(segs []*catalog.Segment) []Clip {
	clips := make([]Clip, 0, len(segs))
	for _, s := range segs {
		name := s.FilenamePredicted
		if name == "" && s.OutputPath != "" {
			name = filepath.Base(s.OutputPath)
		}
		if name == "" {
			name = s.UID
		}
		clips = append(clips, Clip{Name: name, MediaPath: s.OutputPath, Start: s.Start, End: s.End})
	}
	return clips
}
