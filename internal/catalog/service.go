package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// CheckPayload parameterises a check_enhanced job.
type CheckPayload struct {
	MaxVideos int `json:"max_videos,omitempty"`
}

// ImportPayload parameterises a manual_import job.
type ImportPayload struct {
	Path string `json:"path"`
}

// RecutPayload parameterises a recut job.
type RecutPayload struct {
	SegmentID int64     `json:"segment_id"`
	Points    []float64 `json:"points"`
}

// Overview is the store-wide status snapshot served by the API.
type Overview struct {
	Videos     map[string]int `json:"videos"`
	Segments   map[string]int `json:"segments"`
	ActiveJobs int            `json:"active_jobs"`
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// EnqueueJob stores a pending job carrying payload encoded as JSON.
func (s *Service) EnqueueJob(ctx context.Context, jobType string, payload any) (*Job, error) {
	var encoded string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
		}
		encoded = string(b)
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusPending,
		Payload:   encoded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("job enqueued", "job_id", job.ID, "type", jobType)
	}
	return job, nil
}

// EnqueueUnique enqueues a job unless one of the same type is pending or
// running, in which case it returns ErrJobActive.
func (s *Service) EnqueueUnique(ctx context.Context, jobType string, payload any) (*Job, error) {
	active, err := s.repo.HasActiveJob(ctx, jobType)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrJobActive
	}
	return s.EnqueueJob(ctx, jobType, payload)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) GetVideo(ctx context.Context, uid string) (*Video, error) {
	v, err := s.repo.GetVideoWithSegments(ctx, uid)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVideoNotFound
	}
	return v, nil
}

func (s *Service) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	seg, err := s.repo.GetSegment(ctx, id)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, ErrSegmentNotFound
	}
	return seg, nil
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	videos, err := s.repo.CountVideosByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}
	segments, err := s.repo.CountSegmentsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count segments: %w", err)
	}
	jobs, err := s.repo.ListJobs(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	active := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning || j.Status == JobStatusPending {
			active++
		}
	}
	return &Overview{Videos: videos, Segments: segments, ActiveJobs: active}, nil
}
