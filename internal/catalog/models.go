package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Segment statuses.
const (
	StatusPendingCheck = "pending_check"
	StatusEnhanced     = "enhanced"
	StatusInRouter     = "in_router"
	StatusValidated    = "validated"
	StatusDelete       = "delete"
	StatusToDelete     = "to_delete"
)

// Video statuses owned by the reconcilers.
const (
	VideoStatusProcessingRouter = "processing_router"
	VideoStatusEnhanced         = "enhanced"
	VideoStatusValidated        = "validated"
	VideoStatusStandard         = "standard"
)

// SourceFlowManualCSV tags rows written by manual revision.
const SourceFlowManualCSV = "manual_csv"

// IsMaterialized reports whether a segment in this status must reference a
// media file on disk.
func IsMaterialized(status string) bool {
	switch status {
	case StatusEnhanced, StatusInRouter, StatusValidated:
		return true
	}
	return false
}

type Video struct {
	ID          int64      `json:"id"`
	UID         string     `json:"uid"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUpdated time.Time  `json:"last_updated"`
	Segments    []*Segment `json:"segments,omitempty"`
}

// Segment is a time span of a Video with its own media file. Optional text
// fields use "" for absent; optional numbers are nil when absent.
type Segment struct {
	ID                int64     `json:"id"`
	UID               string    `json:"uid"`
	VideoID           int64     `json:"video_id"`
	Start             float64   `json:"start"`
	End               float64   `json:"end"`
	Duration          *float64  `json:"duration,omitempty"`
	Resolution        string    `json:"resolution,omitempty"`
	FPS               *float64  `json:"fps,omitempty"`
	Codec             string    `json:"codec,omitempty"`
	Bitrate           *int64    `json:"bitrate,omitempty"`
	FilesizeMB        *float64  `json:"filesize_mb,omitempty"`
	Description       string    `json:"description,omitempty"`
	Keywords          []string  `json:"keywords"`
	Category          string    `json:"category,omitempty"`
	Confidence        *float64  `json:"confidence,omitempty"`
	AIModel           string    `json:"ai_model,omitempty"`
	FilenamePredicted string    `json:"filename_predicted,omitempty"`
	OutputPath        string    `json:"output_path,omitempty"`
	SourceFlow        string    `json:"source_flow,omitempty"`
	MergedFrom        []int64   `json:"merged_from"`
	Status            string    `json:"status"`
	LastUpdated       time.Time `json:"last_updated"`
}

// SpanDuration is the stored duration when known, else end - start.
func (s *Segment) SpanDuration() float64 {
	if s.Duration != nil && *s.Duration > 0 {
		return *s.Duration
	}
	return s.End - s.Start
}

// ManualUpdate carries the reviewer-editable fields of a segment.
// An empty Status keeps the stored one.
type ManualUpdate struct {
	SegmentID   int64
	Description string
	Confidence  *float64
	Status      string
	SourceFlow  string
	LastUpdated time.Time
}

// SegmentFilter narrows ListSegments. Zero values mean "any".
type SegmentFilter struct {
	VideoID int64
	Status  string
	Limit   int
}

const (
	JobTypeCheckEnhanced = "check_enhanced"
	JobTypeSecureRouter  = "secure_router"
	JobTypeManualImport  = "manual_import"
	JobTypeRecut         = "recut"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Payload   string    `json:"payload,omitempty"`
	Result    string    `json:"result,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
