package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

// SheetColumns are the columns of the editable segment sheet. The first five
// are read back by the manual importer; the rest are context for reviewers.
var SheetColumns = []string{
	"segment_id", "description", "confidence", "status", "keywords",
	"video_id", "start", "end", "duration", "category", "filename", "output_path",
}

// WriteSegmentsCSV writes segs as an editable sheet.
func WriteSegmentsCSV(w io.Writer, segs []*catalog.Segment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SheetColumns); err != nil {
		return err
	}
	for _, s := range segs {
		rec := []string{
			strconv.FormatInt(s.ID, 10),
			s.Description,
			formatOptional(s.Confidence),
			s.Status,
			strings.Join(s.Keywords, ", "),
			strconv.FormatInt(s.VideoID, 10),
			formatFloat(s.Start),
			formatFloat(s.End),
			formatFloat(s.SpanDuration()),
			s.Category,
			s.FilenamePredicted,
			s.OutputPath,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
