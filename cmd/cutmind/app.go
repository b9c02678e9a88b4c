package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/api"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/category"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/config"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/db"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/logging"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/manual"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/reconcile"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/recut"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/trash"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.EnvConfig
	logger     *slog.Logger
	db         *db.DB
	repo       *catalog.SQLRepository
	service    *catalog.Service
	doctor     *media.CachedDoctor
	reconciler *reconcile.Reconciler
	engine     *recut.Engine
	importer   *manual.Importer
	jobs       *jobHandlers
}

func newApp(cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	database, err := db.New(cfg.DBDriver(), cfg.DatabaseURL(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	matcher, err := category.Load(cfg.CategoriesFile())
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}

	logger.Info("database ready", "driver", database.Driver())
	logger.Info("category rules loaded", "categories", len(matcher.Categories()))

	repo := catalog.NewRepository(database.Conn(), catalog.WithCategorizer(matcher))
	mediaLogger := logging.WithComponent(logger, "media")
	prober := media.NewFFprobe(cfg.FFprobePath(), cfg.ProbeTimeout(), mediaLogger)
	cutter := media.NewFFmpeg(cfg.FFmpegPath(), prober, cfg.CutTimeout(), mediaLogger)
	doctor := media.NewCachedDoctor(&media.VersionChecker{
		FFprobePath: cfg.FFprobePath(),
		FFmpegPath:  cfg.FFmpegPath(),
		Timeout:     cfg.DoctorTimeout(),
		Logger:      mediaLogger,
	}, mediaLogger)
	mover := trash.NewManager(cfg.TrashDir(), logging.WithComponent(logger, "trash"))

	reconciler := reconcile.New(repo, prober, matcher, logging.WithComponent(logger, "reconcile"))
	engine := recut.NewEngine(repo, cutter, mover, logging.WithComponent(logger, "recut"))
	importer := manual.NewImporter(repo, engine, mover, matcher, logging.WithComponent(logger, "manual"),
		manual.WithRevalidator(reconciler),
		manual.WithAuditDir(cfg.AuditDir()),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         database,
		repo:       repo,
		service:    catalog.NewService(repo, logger),
		doctor:     doctor,
		reconciler: reconciler,
		engine:     engine,
		importer:   importer,
		jobs: &jobHandlers{
			reconciler:    reconciler,
			engine:        engine,
			importer:      importer,
			doctor:        doctor,
			enhancedBatch: cfg.EnhancedBatch(),
		},
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// ensureAuthToken returns the API token, generating and storing one on first
// start.
func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}
