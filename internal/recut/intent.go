// Package recut interprets reviewer status strings and splits a segment into
// descendants at given offsets.
package recut

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

type IntentKind int

const (
	// IntentUpdate keeps the row and applies field edits; Status carries the
	// new status, empty meaning "keep the stored one".
	IntentUpdate IntentKind = iota
	IntentDelete
	IntentRecut
)

func (k IntentKind) String() string {
	switch k {
	case IntentDelete:
		return "delete"
	case IntentRecut:
		return "recut"
	default:
		return "update"
	}
}

// Intent is what a status cell asks for.
type Intent struct {
	Kind   IntentKind
	Status string
	Points []float64
}

var (
	numberRun  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	wholeFloat = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseIntent classifies a status value:
//
//	"delete", "to_delete"   -> IntentDelete
//	"recut:45,120", "85"    -> IntentRecut with the listed offsets
//	anything else           -> IntentUpdate with the trimmed status
//
// Matching ignores case and all whitespace. "recut:" with no number falls
// back to an update.
func ParseIntent(status string) Intent {
	s := strings.ToLower(whitespace.ReplaceAllString(status, ""))

	switch s {
	case catalog.StatusDelete, catalog.StatusToDelete:
		return Intent{Kind: IntentDelete}
	}

	if points := pointsOf(s); len(points) > 0 {
		return Intent{Kind: IntentRecut, Points: points}
	}
	return Intent{Kind: IntentUpdate, Status: strings.TrimSpace(status)}
}

// ParseRecutPoints returns the offsets a status asks to cut at, or an empty
// slice when it is not a recut request.
func ParseRecutPoints(status string) []float64 {
	s := strings.ToLower(whitespace.ReplaceAllString(status, ""))
	if p := pointsOf(s); p != nil {
		return p
	}
	return []float64{}
}

func pointsOf(s string) []float64 {
	if strings.HasPrefix(s, "recut:") {
		var points []float64
		for _, m := range numberRun.FindAllString(s, -1) {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				points = append(points, v)
			}
		}
		return points
	}
	if wholeFloat.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return []float64{v}
		}
	}
	return nil
}

// FormatPoints renders offsets the way audit rows show them:
// "@[45.0, 120.5]". Whole seconds keep one decimal.
func FormatPoints(points []float64) string {
	parts := make([]string, len(points))
	for i, p := range points {
		s := strconv.FormatFloat(p, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		parts[i] = s
	}
	return fmt.Sprintf("@[%s]", strings.Join(parts, ", "))
}
