package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/catalog"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/db"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/media"
	"github.com/u2pitchjami/Comfyui-Video-Router/internal/playback"
)

const testToken = "test-token-0123456789"

type testEnv struct {
	cfg       ServerConfig
	repo      *catalog.SQLRepository
	mediaRoot string
	handler   http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	logger := discardLogger()
	mediaRoot := t.TempDir()
	cfg := ServerConfig{
		Service:    catalog.NewService(repo, logger),
		Repository: repo,
		Runner:     catalog.NewRunner(repo, logger),
		Playback:   playback.NewServer(logger, mediaRoot),
		Logger:     logger,
		StartTime:  time.Now(),
	}
	return &testEnv{cfg: cfg, repo: repo, mediaRoot: mediaRoot, handler: NewRouter(cfg)}
}

func (e *testEnv) withDoctor(d *media.CachedDoctor) {
	e.cfg.Doctor = d
	e.handler = NewRouter(e.cfg)
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) seedVideo(t *testing.T, name string) *catalog.Video {
	t.Helper()
	v := &catalog.Video{Name: name, Status: catalog.VideoStatusEnhanced}
	if _, err := e.repo.CreateVideo(context.Background(), v); err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}
	return v
}

func (e *testEnv) seedSegment(t *testing.T, seg *catalog.Segment) *catalog.Segment {
	t.Helper()
	if _, err := e.repo.InsertSegment(context.Background(), seg); err != nil {
		t.Fatalf("InsertSegment() error = %v", err)
	}
	return seg
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func decodeJob(t *testing.T, rr *httptest.ResponseRecorder) JobResponse {
	t.Helper()
	var job JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("failed to decode job %q: %v", rr.Body.String(), err)
	}
	return job
}

type fakeChecker struct {
	caps *media.Capabilities
}

func (f *fakeChecker) Check(ctx context.Context) (*media.Capabilities, error) {
	c := *f.caps
	return &c, nil
}
