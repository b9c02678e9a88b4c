package api

import (
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	Videos      map[string]int       `json:"videos"`
	Segments    map[string]int       `json:"segments"`
	ActiveJobs  int                  `json:"active_jobs"`
	JobsRunning int                  `json:"jobs_running"`
	ActiveJob   *JobResponse         `json:"active_job,omitempty"`
	RunnerUp    bool                 `json:"runner_running"`
	Media       *MediaStatusResponse `json:"media,omitempty"`
}

type MediaStatusResponse struct {
	FFprobe     bool   `json:"ffprobe"`
	FFmpeg      bool   `json:"ffmpeg"`
	CanProbe    bool   `json:"can_probe"`
	CanCut      bool   `json:"can_cut"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type CheckRequest struct {
	MaxVideos int `json:"max_videos,omitempty"`
}

type ImportRequest struct {
	Path string `json:"path"`
}

// RecutRequest takes explicit points, or a status cell such as
// "recut:45,120" when Points is empty.
type RecutRequest struct {
	Points []float64 `json:"points,omitempty"`
	Status string    `json:"status,omitempty"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Payload   string `json:"payload,omitempty"`
	Result    string `json:"result,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type VideoResponse struct {
	ID          int64              `json:"id"`
	UID         string             `json:"uid"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	CreatedAt   string             `json:"created_at"`
	LastUpdated string             `json:"last_updated"`
	Segments    []*catalog.Segment `json:"segments"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Payload:   j.Payload,
		Result:    j.Result,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	segs := v.Segments
	if segs == nil {
		segs = []*catalog.Segment{}
	}
	return VideoResponse{
		ID:          v.ID,
		UID:         v.UID,
		Name:        v.Name,
		Status:      v.Status,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
		LastUpdated: v.LastUpdated.Format(time.RFC3339),
		Segments:    segs,
	}
}
