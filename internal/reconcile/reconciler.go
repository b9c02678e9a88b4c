// Package reconcile keeps segment metadata and statuses consistent with the
// media files on disk and with the stage each segment has reached.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/category"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
)

// Revalidator re-derives the status of videos whose segments changed.
type Revalidator interface {
	RevalidateVideos(ctx context.Context, videoIDs []int64) (*Report, error)
}

type Reconciler struct {
	store   catalog.Store
	prober  media.Prober
	matcher *category.Matcher
	logger  *slog.Logger
	now     func() time.Time
}

func New(store catalog.Store, prober media.Prober, matcher *category.Matcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		prober:  prober,
		matcher: matcher,
		logger:  logger,
		now:     time.Now,
	}
}

// CheckEnhanced re-probes the files of enhanced segments in up to maxVideos
// enhanced videos and persists any technical field that drifted.
func (r *Reconciler) CheckEnhanced(ctx context.Context, maxVideos int) (*Report, error) {
	report := newReport(StageCheckEnhanced, r.now())
	defer func() { report.FinishedAt = r.now() }()

	videos, err := r.store.GetVideosByStatus(ctx, catalog.VideoStatusEnhanced, maxVideos)
	if err != nil {
		return report, fmt.Errorf("list enhanced videos: %w", err)
	}
	r.logger.Info("checking enhanced videos", "videos", len(videos))

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Summary.Videos++
		vlog := r.logger.With("video_uid", v.UID, "video", v.Name)
		vlog.Debug("checking video")

		for _, seg := range v.Segments {
			if seg.Status != catalog.StatusEnhanced {
				vlog.Debug("segment not enhanced, skipping", "segment_id", seg.ID, "status", seg.Status)
				continue
			}
			report.add(r.checkSegment(ctx, vlog, v, seg))
		}
	}

	r.logger.Info("enhanced check finished",
		"updated", report.Summary.Updated,
		"unchanged", report.Summary.Unchanged,
		"missing", report.Count(OutcomeMissingFile),
		"failed", report.Summary.Failed)
	return report, nil
}

func (r *Reconciler) checkSegment(ctx context.Context, logger *slog.Logger, v *catalog.Video, seg *catalog.Segment) ItemResult {
	item := ItemResult{SegmentID: seg.ID, SegmentUID: seg.UID, VideoUID: v.UID}
	logger = logger.With("segment_id", seg.ID)

	info, err := os.Stat(seg.OutputPath)
	if seg.OutputPath == "" || err != nil || info.IsDir() {
		logger.Warn("segment file missing", "path", seg.OutputPath)
		item.Outcome = OutcomeMissingFile
		return item
	}

	probe, err := r.prober.Probe(ctx, seg.OutputPath)
	if err != nil {
		logger.Error("probe failed", "path", seg.OutputPath, "error", err)
		item.Outcome, item.Error = OutcomeFailed, err.Error()
		return item
	}
	track, ok := probe.VideoTrack()
	if !ok {
		err := fmt.Errorf("%s: %w", seg.OutputPath, media.ErrNoVideoTrack)
		logger.Error("probe failed", "error", err)
		item.Outcome, item.Error = OutcomeFailed, err.Error()
		return item
	}

	observed := observe(track, info.Size())
	if !applyObserved(seg, observed) {
		item.Outcome = OutcomeUnchanged
		return item
	}

	seg.Status = catalog.StatusEnhanced
	seg.Category = r.matcher.Match(seg.Keywords)
	seg.LastUpdated = r.now()
	if err := r.store.UpdateSegmentPostprocess(ctx, seg); err != nil {
		logger.Error("failed to persist probed fields", "error", err)
		item.Outcome, item.Error = OutcomeFailed, err.Error()
		return item
	}
	logger.Info("segment metadata updated", "segment_uid", seg.UID)
	item.Outcome = OutcomeUpdated
	return item
}

// technical holds the probe-derived fields of a segment.
type technical struct {
	resolution string
	codec      string
	bitrate    *int64
	filesizeMB *float64
	duration   *float64
	fps        *float64
}

func observe(t *media.Track, size int64) technical {
	var obs technical
	if t.Width > 0 && t.Height > 0 {
		obs.resolution = fmt.Sprintf("%dx%d", t.Width, t.Height)
	}
	obs.codec = t.Codec
	if t.BitRate > 0 {
		obs.bitrate = catalog.Int64(t.BitRate)
	}
	obs.filesizeMB = catalog.Float64(round(float64(size)/(1024*1024), 2))
	if t.DurationMs > 0 {
		obs.duration = catalog.Float64(round(float64(t.DurationMs)/1000, 3))
	}
	if t.FrameRate > 0 {
		obs.fps = catalog.Float64(t.FrameRate)
	}
	return obs
}

// applyObserved copies obs onto seg and reports whether any field changed.
func applyObserved(seg *catalog.Segment, obs technical) bool {
	changed := false
	if seg.Resolution != obs.resolution {
		seg.Resolution, changed = obs.resolution, true
	}
	if seg.Codec != obs.codec {
		seg.Codec, changed = obs.codec, true
	}
	if !equalInt(seg.Bitrate, obs.bitrate) {
		seg.Bitrate, changed = obs.bitrate, true
	}
	if !equalFloat(seg.FilesizeMB, obs.filesizeMB) {
		seg.FilesizeMB, changed = obs.filesizeMB, true
	}
	if !equalFloat(seg.Duration, obs.duration) {
		seg.Duration, changed = obs.duration, true
	}
	if !equalFloat(seg.FPS, obs.fps) {
		seg.FPS, changed = obs.fps, true
	}
	return changed
}

// SecureInRouter promotes in_router segments of videos in the router stage
// to validated, then marks each of those videos validated.
func (r *Reconciler) SecureInRouter(ctx context.Context) (*Report, error) {
	report := newReport(StageSecureRouter, r.now())
	defer func() { report.FinishedAt = r.now() }()

	videos, err := r.store.GetVideosByStatus(ctx, catalog.VideoStatusProcessingRouter, 0)
	if err != nil {
		return report, fmt.Errorf("list router videos: %w", err)
	}
	r.logger.Info("securing router videos", "videos", len(videos))

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Summary.Videos++
		vlog := r.logger.With("video_uid", v.UID, "video", v.Name)

		for _, seg := range v.Segments {
			if seg.Status != catalog.StatusInRouter {
				vlog.Debug("segment not in router, skipping", "segment_id", seg.ID, "status", seg.Status)
				continue
			}
			item := ItemResult{SegmentID: seg.ID, SegmentUID: seg.UID, VideoUID: v.UID, Outcome: OutcomeValidated}
			seg.Status = catalog.StatusValidated
			seg.LastUpdated = r.now()
			if err := r.store.UpdateSegmentValidation(ctx, seg); err != nil {
				vlog.Error("failed to validate segment", "segment_id", seg.ID, "error", err)
				item.Outcome, item.Error = OutcomeFailed, err.Error()
			} else {
				vlog.Info("segment validated", "segment_id", seg.ID, "segment_uid", seg.UID)
			}
			report.add(item)
		}

		v.Status = catalog.VideoStatusValidated
		v.LastUpdated = r.now()
		if err := r.store.UpdateVideo(ctx, v); err != nil {
			vlog.Error("failed to validate video", "error", err)
			report.add(ItemResult{VideoUID: v.UID, Outcome: OutcomeFailed, Error: err.Error()})
			continue
		}
		vlog.Info("video validated", "segments", len(v.Segments))
	}

	r.logger.Info("router check finished", "validated", report.Summary.Updated, "failed", report.Summary.Failed)
	return report, nil
}

// RevalidateVideos marks a video validated once it has segments and all of
// them are validated. Other videos keep their status.
func (r *Reconciler) RevalidateVideos(ctx context.Context, videoIDs []int64) (*Report, error) {
	report := newReport(StageRevalidate, r.now())
	defer func() { report.FinishedAt = r.now() }()

	seen := make(map[int64]bool, len(videoIDs))
	for _, id := range videoIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return report, err
		}

		item, err := r.revalidate(ctx, id)
		if err != nil {
			r.logger.Error("revalidation failed", "video_id", id, "error", err)
			item.Outcome, item.Error = OutcomeFailed, err.Error()
		}
		report.Summary.Videos++
		report.add(item)
	}
	return report, nil
}

func (r *Reconciler) revalidate(ctx context.Context, videoID int64) (ItemResult, error) {
	v, err := r.store.GetVideoByID(ctx, videoID)
	if err != nil {
		return ItemResult{}, err
	}
	if v == nil {
		return ItemResult{}, fmt.Errorf("video %d: %w", videoID, catalog.ErrVideoNotFound)
	}
	item := ItemResult{VideoUID: v.UID, Outcome: OutcomeSkipped}

	segs, err := r.store.ListSegments(ctx, catalog.SegmentFilter{VideoID: v.ID})
	if err != nil {
		return item, err
	}
	pending := 0
	for _, s := range segs {
		if s.Status != catalog.StatusValidated {
			pending++
		}
	}
	if len(segs) == 0 || pending > 0 {
		r.logger.Info("video not ready for validation",
			"video_uid", v.UID, "segments", len(segs), "in_flight", pending)
		return item, nil
	}
	if v.Status == catalog.VideoStatusValidated {
		item.Outcome = OutcomeUnchanged
		return item, nil
	}

	v.Status = catalog.VideoStatusValidated
	v.LastUpdated = r.now()
	if err := r.store.UpdateVideo(ctx, v); err != nil {
		return item, fmt.Errorf("update video %s: %w", v.UID, err)
	}
	r.logger.Info("video validated", "video_uid", v.UID, "segments", len(segs))
	item.Outcome = OutcomeValidated
	return item, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
