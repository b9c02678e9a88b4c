// Package manual applies reviewer edits from a CSV sheet to the catalog.
package manual

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Edit is one row of a manual revision sheet, as typed by the reviewer.
type Edit struct {
	Line        int
	RawID       string
	SegmentID   int64
	Description string
	Confidence  string
	Status      string
	Keywords    string
	// Err is set when the row could not be understood at all.
	Err error
}

var errBadSegmentID = errors.New("invalid segment_id")

// ReadEdits parses a sheet. Columns are matched by header name, case
// insensitive; unknown columns are ignored and missing ones read as empty.
// Rows without a segment_id are skipped. When an id repeats, the later row's
// values replace the earlier one's in place.
func ReadEdits(r io.Reader) ([]Edit, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty sheet")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	if _, ok := cols["segment_id"]; !ok {
		return nil, fmt.Errorf("sheet has no segment_id column")
	}

	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var edits []Edit
	index := make(map[string]int)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sheet: %w", err)
		}
		line, _ := cr.FieldPos(0)

		rawID := strings.TrimSpace(get(rec, "segment_id"))
		if rawID == "" {
			continue
		}
		e := Edit{
			Line:        line,
			RawID:       rawID,
			Description: get(rec, "description"),
			Confidence:  get(rec, "confidence"),
			Status:      get(rec, "status"),
			Keywords:    get(rec, "keywords"),
		}
		if id, err := parseSegmentID(rawID); err != nil {
			e.Err = err
		} else {
			e.SegmentID = id
		}

		key := rawID
		if e.Err == nil {
			key = strconv.FormatInt(e.SegmentID, 10)
		}
		if i, seen := index[key]; seen {
			edits[i] = e
			continue
		}
		index[key] = len(edits)
		edits = append(edits, e)
	}
	return edits, nil
}

// parseSegmentID accepts integers, including spreadsheet renderings like "42.0".
func parseSegmentID(s string) (int64, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("%w %q", errBadSegmentID, s)
	}
	return int64(f), nil
}
