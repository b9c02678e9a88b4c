package reconcile

import "time"

// Stage names used in reports and logs.
const (
	StageCheckEnhanced = "check_enhanced"
	StageSecureRouter  = "secure_router"
	StageRevalidate    = "revalidate"
)

type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeValidated   Outcome = "validated"
	OutcomeMissingFile Outcome = "missing_file"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// ItemResult is the outcome for one segment, or for a whole video when
// SegmentID is zero.
type ItemResult struct {
	SegmentID  int64   `json:"segment_id,omitempty"`
	SegmentUID string  `json:"segment_uid,omitempty"`
	VideoUID   string  `json:"video_uid"`
	Outcome    Outcome `json:"outcome"`
	Error      string  `json:"error,omitempty"`
}

type Summary struct {
	Videos    int `json:"videos"`
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Report struct {
	Stage      string       `json:"stage"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Items      []ItemResult `json:"items"`
	Summary    Summary      `json:"summary"`
}

func newReport(stage string, now time.Time) *Report {
	return &Report{Stage: stage, StartedAt: now, Items: []ItemResult{}}
}

func (r *Report) add(item ItemResult) {
	r.Items = append(r.Items, item)
	if item.SegmentID != 0 {
		r.Summary.Checked++
	}
	switch item.Outcome {
	case OutcomeUpdated, OutcomeValidated:
		r.Summary.Updated++
	case OutcomeUnchanged:
		r.Summary.Unchanged++
	case OutcomeSkipped, OutcomeMissingFile:
		r.Summary.Skipped++
	case OutcomeFailed:
		r.Summary.Failed++
	}
}

// Count returns how many items ended with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}
