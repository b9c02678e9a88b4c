package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/export"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
)

const defaultVersion = "0.1.0"

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/check-enhanced", checkEnhancedHandler(cfg))
		r.Post("/jobs/secure-router", secureRouterHandler(cfg))
		r.Post("/runner/pause", runnerHandler(cfg, true))
		r.Post("/runner/resume", runnerHandler(cfg, false))
		r.Post("/imports", importHandler(cfg))
		r.Post("/segments/{id}/recut", recutHandler(cfg))
		r.Get("/segments/{id}/media", segmentMediaHandler(cfg))
		r.Get("/videos/{uid}", getVideoHandler(cfg))
		r.Get("/videos/{uid}/edl", videoEDLHandler(cfg))
		r.Get("/videos/{uid}/segments.csv", videoSheetHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		overview, err := cfg.Service.Overview(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read status", "INTERNAL_ERROR")
			return
		}
		jobs, _ := cfg.Service.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		runnerUp := false
		if cfg.Runner != nil {
			runnerUp = cfg.Runner.IsRunning()
			if cfg.Runner.IsPaused() {
				state = "paused"
			}
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				state = "running"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			Videos:      overview.Videos,
			Segments:    overview.Segments,
			ActiveJobs:  overview.ActiveJobs,
			JobsRunning: jobsRunning,
			ActiveJob:   activeJob,
			RunnerUp:    runnerUp,
		}

		// Peek so a status poll never spawns tool probes.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Media = &MediaStatusResponse{
					FFprobe:  caps.FFprobe.Available,
					FFmpeg:   caps.FFmpeg.Available,
					CanProbe: caps.CanProbe(),
					CanCut:   caps.CanCut(),
				}
				if !caps.ProbedAt.IsZero() {
					resp.Media.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Service.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.GetJob(r.Context(), id)
		if errors.Is(err, catalog.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func checkEnhancedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckRequest
		if err := decodeOptional(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.MaxVideos < 0 {
			WriteError(w, http.StatusBadRequest, "max_videos must not be negative", "BAD_REQUEST")
			return
		}
		enqueueUnique(w, r, cfg, catalog.JobTypeCheckEnhanced, catalog.CheckPayload{MaxVideos: req.MaxVideos})
	}
}

func secureRouterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enqueueUnique(w, r, cfg, catalog.JobTypeSecureRouter, nil)
	}
}

func runnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "job runner not available", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerResponse{Running: cfg.Runner.IsRunning(), Paused: cfg.Runner.IsPaused()})
	}
}

func enqueueUnique(w http.ResponseWriter, r *http.Request, cfg ServerConfig, jobType string, payload any) {
	job, err := cfg.Service.EnqueueUnique(r.Context(), jobType, payload)
	if errors.Is(err, catalog.ErrJobActive) {
		WriteError(w, http.StatusConflict, err.Error(), "JOB_ACTIVE")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	WriteJSON(w, http.StatusAccepted, JobToResponse(job))
}

func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		info, err := os.Stat(req.Path)
		if err != nil || info.IsDir() {
			WriteError(w, http.StatusBadRequest, "sheet not found: "+req.Path, "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.EnqueueJob(r.Context(), catalog.JobTypeManualImport, catalog.ImportPayload{Path: req.Path})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func recutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := segmentIDParam(w, r)
		if !ok {
			return
		}

		var req RecutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		points := req.Points
		if len(points) == 0 {
			points = recut.ParseRecutPoints(req.Status)
		}
		if len(points) == 0 {
			WriteError(w, http.StatusBadRequest, "no recut points given", "BAD_REQUEST")
			return
		}

		if _, err := cfg.Service.GetSegment(r.Context(), id); err != nil {
			writeLookupError(w, err)
			return
		}

		job, err := cfg.Service.EnqueueJob(r.Context(), catalog.JobTypeRecut, catalog.RecutPayload{SegmentID: id, Points: points})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(job))
	}
}

func segmentMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := segmentIDParam(w, r)
		if !ok {
			return
		}

		seg, err := cfg.Service.GetSegment(r.Context(), id)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		if seg.OutputPath == "" {
			WriteError(w, http.StatusNotFound, "segment has no media file", "NO_MEDIA")
			return
		}

		if err := cfg.Playback.ServeFile(w, r, seg.OutputPath); err != nil {
			cfg.Logger.Error("playback error", "error", err, "segment_id", id)
			WriteError(w, http.StatusInternalServerError, "failed to serve media", "INTERNAL_ERROR")
		}
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(v))
	}
}

func videoEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			writeLookupError(w, err)
			return
		}

		edl := export.GenerateEDL(export.ClipsFromSegments(v.Segments), v.Name, cfg.EDLFrameRate)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(v, ".edl"))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, edl)
	}
}

func videoSheetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Service.GetVideo(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			writeLookupError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(v, "_segments.csv"))
		w.WriteHeader(http.StatusOK)
		if err := export.WriteSegmentsCSV(w, v.Segments); err != nil {
			cfg.Logger.Error("failed to write segment sheet", "error", err, "video_uid", v.UID)
		}
	}
}

func attachment(v *catalog.Video, suffix string) string {
	name := export.SanitizeName(v.Name, 80)
	if name == "" {
		name = v.UID
	}
	return fmt.Sprintf("attachment; filename=%q", name+suffix)
}

func segmentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid segment id", "BAD_REQUEST")
		return 0, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrSegmentNotFound), errors.Is(err, catalog.ErrVideoNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// decodeOptional decodes a JSON body into v; an empty body leaves v unchanged.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
