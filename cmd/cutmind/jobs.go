package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/manual"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/reconcile"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
)

var errNoSheetPath = errors.New("import job has no sheet path")

// skippedResult is stored for jobs whose target disappeared before they ran.
type skippedResult struct {
	SegmentID int64  `json:"segment_id"`
	Skipped   string `json:"skipped"`
}

// jobHandlers binds the runner's job types to the lifecycle components.
type jobHandlers struct {
	reconciler    *reconcile.Reconciler
	engine        *recut.Engine
	importer      *manual.Importer
	doctor        *media.CachedDoctor
	enhancedBatch int
}

func (h *jobHandlers) register(r *catalog.Runner) {
	r.Handle(catalog.JobTypeCheckEnhanced, h.checkEnhanced)
	r.Handle(catalog.JobTypeSecureRouter, h.secureRouter)
	r.Handle(catalog.JobTypeManualImport, h.manualImport)
	r.Handle(catalog.JobTypeRecut, h.recut)
}

func (h *jobHandlers) checkEnhanced(ctx context.Context, job *catalog.Job) (any, error) {
	var p catalog.CheckPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.MaxVideos <= 0 {
		p.MaxVideos = h.enhancedBatch
	}
	if h.doctor != nil {
		if err := h.doctor.RequireProbe(ctx); err != nil {
			return nil, err
		}
	}
	report, err := h.reconciler.CheckEnhanced(ctx, p.MaxVideos)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *jobHandlers) secureRouter(ctx context.Context, job *catalog.Job) (any, error) {
	report, err := h.reconciler.SecureInRouter(ctx)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *jobHandlers) manualImport(ctx context.Context, job *catalog.Job) (any, error) {
	var p catalog.ImportPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errNoSheetPath
	}
	report, err := h.importer.ImportFile(ctx, p.Path)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *jobHandlers) recut(ctx context.Context, job *catalog.Job) (any, error) {
	var p catalog.RecutPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	if h.doctor != nil {
		if err := h.doctor.RequireCut(ctx); err != nil {
			return nil, err
		}
	}
	res, err := h.engine.Perform(ctx, p.SegmentID, p.Points)
	if errors.Is(err, catalog.ErrSegmentNotFound) {
		return skippedResult{SegmentID: p.SegmentID, Skipped: catalog.ErrSegmentNotFound.Error()}, nil
	}
	if err != nil {
		// A tool that vanished after the last check must not stay cached as available.
		if h.doctor != nil && errors.Is(err, exec.ErrNotFound) {
			h.doctor.Invalidate()
		}
		return nil, err
	}
	return res, nil
}

// decodePayload fills v from the job payload; an empty payload leaves v as is.
func decodePayload(job *catalog.Job, v any) error {
	if job.Payload == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Type, err)
	}
	return nil
}
