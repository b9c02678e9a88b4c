package manual

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

// Fields are the reviewer-editable values of a segment after normalisation.
// Empty strings and nil mean absent.
type Fields struct {
	Description string
	Confidence  *float64
	Status      string
	Keywords    []string
}

// Field names reported by Diff, in comparison order.
const (
	FieldDescription = "description"
	FieldConfidence  = "confidence"
	FieldStatus      = "status"
	FieldKeywords    = "keywords"
)

var nullTokens = map[string]bool{"": true, "none": true, "null": true, "nan": true}

func isNull(s string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(s))]
}

func clean(s string) string {
	if isNull(s) {
		return ""
	}
	return strings.TrimSpace(s)
}

// Normalize turns a raw edit into Fields. Only an unparseable confidence is
// an error.
func Normalize(e Edit) (Fields, error) {
	f := Fields{
		Description: clean(e.Description),
		Status:      clean(e.Status),
		Keywords:    SplitKeywords(e.Keywords),
	}
	if c := clean(e.Confidence); c != "" {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Fields{}, fmt.Errorf("invalid confidence %q", e.Confidence)
		}
		f.Confidence = &v
	}
	return f, nil
}

// SplitKeywords splits on ',', ';' and '|', drops empty and null-like
// entries and keeps the first occurrence of each keyword.
func SplitKeywords(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = clean(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// StoredFields extracts the editable values of a stored segment.
func StoredFields(seg *catalog.Segment) Fields {
	return Fields{
		Description: strings.TrimSpace(seg.Description),
		Confidence:  seg.Confidence,
		Status:      seg.Status,
		Keywords:    append([]string(nil), seg.Keywords...),
	}
}

// Diff lists the fields where incoming differs from stored. An absent
// incoming status means "keep" and never differs.
func Diff(stored, incoming Fields) []string {
	var diffs []string
	if strings.TrimSpace(stored.Description) != strings.TrimSpace(incoming.Description) {
		diffs = append(diffs, FieldDescription)
	}
	if !sameConfidence(stored.Confidence, incoming.Confidence) {
		diffs = append(diffs, FieldConfidence)
	}
	if incoming.Status != "" && incoming.Status != stored.Status {
		diffs = append(diffs, FieldStatus)
	}
	if !sameSet(stored.Keywords, incoming.Keywords) {
		diffs = append(diffs, FieldKeywords)
	}
	return diffs
}

func sameConfidence(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 1e-9
}

func sameSet(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.TrimSpace(s)] = true
	}
	other := make(map[string]bool, len(b))
	for _, s := range b {
		s = strings.TrimSpace(s)
		if !set[s] {
			return false
		}
		other[s] = true
	}
	return len(other) == len(set)
}
