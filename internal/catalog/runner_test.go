package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunner_ProcessNext_Completes(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(repo, nil)
	runner := NewRunner(repo, testLogger())

	var seen *Job
	runner.Handle(JobTypeCheckEnhanced, func(ctx context.Context, job *Job) (any, error) {
		seen = job
		return map[string]int{"updated": 2}, nil
	})

	job, _ := svc.EnqueueJob(ctx, JobTypeCheckEnhanced, CheckPayload{MaxVideos: 3})

	if !runner.ProcessNext(ctx) {
		t.Fatal("ProcessNext() = false, want true")
	}
	if seen == nil || seen.ID != job.ID {
		t.Fatalf("handler saw %+v, want job %s", seen, job.ID)
	}
	if seen.Payload != `{"max_videos":3}` {
		t.Errorf("payload = %s", seen.Payload)
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Result != `{"updated":2}` {
		t.Errorf("result = %s", got.Result)
	}

	if runner.ProcessNext(ctx) {
		t.Error("ProcessNext() with empty queue = true")
	}
}

func TestRunner_ProcessNext_HandlerError(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(repo, nil)
	runner := NewRunner(repo, testLogger())
	runner.Handle(JobTypeRecut, func(ctx context.Context, job *Job) (any, error) {
		return nil, errors.New("ffmpeg exited 1")
	})

	job, _ := svc.EnqueueJob(ctx, JobTypeRecut, RecutPayload{SegmentID: 1, Points: []float64{5}})
	runner.ProcessNext(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "ffmpeg exited 1" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestRunner_ProcessNext_UnknownType(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(repo, nil)
	runner := NewRunner(repo, testLogger())

	job, _ := svc.EnqueueJob(ctx, "mystery", nil)
	runner.ProcessNext(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed || got.Error != "unknown job type" {
		t.Errorf("job = %+v", got)
	}
}

func TestRunner_ProcessesOldestFirst(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	runner := NewRunner(repo, testLogger())

	var order []string
	runner.Handle(JobTypeSecureRouter, func(ctx context.Context, job *Job) (any, error) {
		order = append(order, job.ID)
		return nil, nil
	})

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"b-second", "a-first"} {
		repo.CreateJob(ctx, &Job{
			ID:        id,
			Type:      JobTypeSecureRouter,
			Status:    JobStatusPending,
			CreatedAt: base.Add(time.Duration(1-i) * time.Minute),
			UpdatedAt: base,
		})
	}

	runner.ProcessNext(ctx)
	runner.ProcessNext(ctx)
	if len(order) != 2 || order[0] != "a-first" || order[1] != "b-second" {
		t.Errorf("order = %v, want [a-first b-second]", order)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	_, repo := setupTestDB(t)
	runner := NewRunner(repo, testLogger())

	runner.Pause()
	if !runner.IsPaused() {
		t.Error("IsPaused() = false after Pause()")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("IsPaused() = true after Resume()")
	}
}

func TestRunner_WaitCoversJobInFlight(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := NewService(repo, nil)
	runner := NewRunner(repo, testLogger())
	runner.pollInterval = 10 * time.Millisecond

	started := make(chan struct{})
	runner.Handle(JobTypeRecut, func(ctx context.Context, job *Job) (any, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	})
	job, _ := svc.EnqueueJob(context.Background(), JobTypeRecut, RecutPayload{SegmentID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	runner.Go(ctx)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := runner.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if runner.IsRunning() {
		t.Error("IsRunning() = true after Wait()")
	}

	got, _ := repo.GetJob(context.Background(), job.ID)
	if got.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed once the runner stopped", got.Status)
	}
}

func TestRunner_WaitTimesOut(t *testing.T) {
	_, repo := setupTestDB(t)
	runner := NewRunner(repo, testLogger())
	runCtx, stop := context.WithCancel(context.Background())
	runner.Go(runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := runner.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}

	stop()
	if err := runner.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after stop error = %v", err)
	}
}

func TestScheduler_TickSkipsActiveTypes(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	svc := NewService(repo, nil)
	sched := NewScheduler(svc, time.Minute, testLogger(), JobTypeCheckEnhanced, JobTypeSecureRouter)

	sched.Tick(ctx)
	sched.Tick(ctx)

	jobs, _ := repo.ListPendingJobs(ctx)
	if len(jobs) != 2 {
		t.Fatalf("pending jobs = %d, want 2 (one per type)", len(jobs))
	}
	types := map[string]bool{}
	for _, j := range jobs {
		types[j.Type] = true
	}
	if !types[JobTypeCheckEnhanced] || !types[JobTypeSecureRouter] {
		t.Errorf("types = %v", types)
	}
}

func TestScheduler_DisabledWithZeroInterval(t *testing.T) {
	_, repo := setupTestDB(t)
	sched := NewScheduler(NewService(repo, nil), 0, testLogger(), JobTypeCheckEnhanced)

	sched.Start(context.Background())
	sched.Stop()

	jobs, _ := repo.ListPendingJobs(context.Background())
	if len(jobs) != 0 {
		t.Errorf("pending jobs = %d, want 0", len(jobs))
	}
}
