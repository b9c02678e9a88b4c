package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/api"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/config"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/export"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/fsx"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/logging"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/playback"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/watcher"
)

const usage = `usage: cutmind [command] [args]

commands:
  serve                          run the API, job runner, scheduler and inbox watcher (default)
  check-enhanced [max-videos]    reconcile enhanced segments with their media files
  secure-router                  validate in_router segments and their videos
  import <sheet.csv>             apply a manual revision sheet
  recut <segment-id> <points>    split a segment, e.g. "recut 42 45,120" or "recut 42 recut:45"
  export-csv <out.csv> [status]  write the editable segment sheet
  doctor                         report ffprobe/ffmpeg availability
`

var errUsage = errors.New("invalid arguments")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatalf("fatal error: %v", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, closer := logging.NewFileLogger(cfg.LogLevel(), cfg.LogFile())
	defer closer.Close()
	logger.Info("starting cutmind", "version", config.Version, "command", command, "data_dir", cfg.DataDir())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		return serve(ctx, a)
	case "check-enhanced":
		maxVideos := cfg.EnhancedBatch()
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("%w: max-videos must be a positive integer", errUsage)
			}
			maxVideos = n
		}
		if err := a.doctor.RequireProbe(ctx); err != nil {
			return err
		}
		return printResult(a.reconciler.CheckEnhanced(ctx, maxVideos))
	case "secure-router":
		return printResult(a.reconciler.SecureInRouter(ctx))
	case "import":
		if len(args) != 1 {
			return errUsage
		}
		return printResult(a.importer.ImportFile(ctx, args[0]))
	case "recut":
		id, points, err := parseRecutArgs(args)
		if err != nil {
			return err
		}
		if err := a.doctor.RequireCut(ctx); err != nil {
			return err
		}
		return printResult(a.engine.Perform(ctx, id, points))
	case "export-csv":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		status := ""
		if len(args) == 2 {
			status = args[1]
		}
		return exportSheet(ctx, a, args[0], status)
	case "doctor":
		return printResult(a.doctor.Refresh(ctx))
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func serve(ctx context.Context, a *app) error {
	startTime := time.Now()
	logger := a.logger

	authToken, err := ensureAuthToken(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, a.cfg.DoctorTimeout())
	if caps, err := a.doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial media tool check failed", "error", err)
	} else if !caps.CanCut() {
		logger.Warn("media tools incomplete, check and recut jobs will fail",
			"ffprobe", caps.FFprobe.Available, "ffmpeg", caps.FFmpeg.Available)
	}
	initCancel()

	runCtx, stopRunner := context.WithCancel(ctx)
	defer stopRunner()

	runner := catalog.NewRunner(a.repo, logging.WithComponent(logger, "runner"))
	a.jobs.register(runner)
	runner.Go(runCtx)

	scheduler := catalog.NewScheduler(a.service, a.cfg.CheckInterval(), logging.WithComponent(logger, "scheduler"),
		catalog.JobTypeCheckEnhanced, catalog.JobTypeSecureRouter)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	inbox := watcher.NewInbox(a.cfg.InboxDir(), a.service, logging.WithComponent(logger, "inbox"))
	if err := inbox.Start(ctx); err != nil {
		logger.Error("inbox watcher unavailable, drop sheets via POST /imports instead", "error", err)
	} else {
		defer inbox.Stop()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       a.cfg.Port(),
		Service:    a.service,
		Repository: a.repo,
		Runner:     runner,
		Doctor:     a.doctor,
		Playback:   playback.NewServer(logging.WithComponent(logger, "playback")),
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
		Version:    config.Version,
	})

	fmt.Println()
	fmt.Printf("  CutMind %s\n", config.Version)
	fmt.Printf("  API URL:    http://%s\n", apiServer.Addr())
	fmt.Printf("  Auth Token: %s\n", authToken)
	fmt.Printf("  Inbox:      %s\n", a.cfg.InboxDir())
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.DefaultShutdownGrace*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// The database closes after serve returns; let the job in flight record
	// its outcome first.
	stopRunner()
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Error("job runner did not stop in time", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("HTTP server: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// parseRecutArgs reads "<segment-id> <points>" where points is a comma list
// or any status cell the revision sheet accepts.
func parseRecutArgs(args []string) (int64, []float64, error) {
	if len(args) < 2 {
		return 0, nil, errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("%w: invalid segment id %q", errUsage, args[0])
	}

	cell := strings.Join(args[1:], " ")
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(cell)), "recut:") {
		cell = "recut:" + cell
	}
	points := recut.ParseRecutPoints(cell)
	if len(points) == 0 {
		return 0, nil, fmt.Errorf("%w: no recut points in %q", errUsage, strings.Join(args[1:], " "))
	}
	return id, points, nil
}

func exportSheet(ctx context.Context, a *app, out, status string) error {
	out = filepath.Clean(out)
	if err := export.ValidateOutputFile(out); err != nil {
		return err
	}

	segs, err := a.repo.ListSegments(ctx, catalog.SegmentFilter{Status: status})
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}

	var buf strings.Builder
	if err := export.WriteSegmentsCSV(&buf, segs); err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(filepath.Dir(out), filepath.Base(out), []byte(buf.String())); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	a.logger.Info("segment sheet exported", "path", out, "segments", len(segs))
	return nil
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
