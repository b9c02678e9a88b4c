package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/u2pitchjami/Comfyui-Video-Router/internal/category"
)

// Store is the segment/video persistence contract. Lookups return nil, nil
// when the row does not exist.
type Store interface {
	GetVideosByStatus(ctx context.Context, status string, limit int) ([]*Video, error)
	GetVideoWithSegments(ctx context.Context, uid string) (*Video, error)
	GetVideoByID(ctx context.Context, id int64) (*Video, error)
	CreateVideo(ctx context.Context, v *Video) (int64, error)
	UpdateVideo(ctx context.Context, v *Video) error
	CountVideosByStatus(ctx context.Context) (map[string]int, error)

	GetSegment(ctx context.Context, id int64) (*Segment, error)
	ListSegments(ctx context.Context, filter SegmentFilter) ([]*Segment, error)
	InsertSegment(ctx context.Context, seg *Segment) (int64, error)
	DeleteSegment(ctx context.Context, id int64) error
	UpdateSegmentValidation(ctx context.Context, seg *Segment) error
	UpdateSegmentPostprocess(ctx context.Context, seg *Segment) error
	UpdateSegmentManual(ctx context.Context, u ManualUpdate) error
	InsertKeywordsStandalone(ctx context.Context, segmentID int64, keywords []string) error
	ReplaceKeywords(ctx context.Context, segmentID int64, keywords []string, categoryName string) error
	CountSegmentsByStatus(ctx context.Context) (map[string]int, error)
}

// Tx is a Store bound to one transaction. Commit hooks run after a successful
// commit, rollback hooks after a rollback. Rolling back to a savepoint drops
// the commit hooks and runs the rollback hooks registered since it.
type Tx interface {
	Store
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
	OnCommit(fn func())
	OnRollback(fn func())
}

type Repository interface {
	Store

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	HasActiveJob(ctx context.Context, jobType string) (bool, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	FinishJob(ctx context.Context, id, status, result, errorMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	InTx(ctx context.Context, fn func(tx Tx) error) error
}

const segmentColumns = `id, uid, video_id, start_time, end_time, duration, resolution, fps, codec,
	bitrate, filesize_mb, description, category, confidence, ai_model, filename_predicted,
	output_path, source_flow, merged_from, status, last_updated`

const videoColumns = `id, uid, name, status, created_at, last_updated`

const jobColumns = `id, type, status, payload, result, progress, error, created_at, updated_at`

// Categorizer maps a keyword set to a category name, "" for none.
type Categorizer interface {
	Match(keywords []string) string
}

// store implements Store over either the pool or an open transaction.
type store struct {
	q          sqlx.ExtContext
	categories Categorizer
}

type SQLRepository struct {
	*store
	db *sqlx.DB
}

type RepositoryOption func(*SQLRepository)

// WithCategorizer sets the rules used when keyword links change outside a
// full replacement. The embedded default rules apply otherwise.
func WithCategorizer(c Categorizer) RepositoryOption {
	return func(r *SQLRepository) {
		if c != nil {
			r.categories = c
		}
	}
}

func NewRepository(db *sqlx.DB, opts ...RepositoryOption) *SQLRepository {
	r := &SQLRepository{store: &store{q: db, categories: category.Default()}, db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type videoRow struct {
	ID          int64  `db:"id"`
	UID         string `db:"uid"`
	Name        string `db:"name"`
	Status      string `db:"status"`
	CreatedAt   string `db:"created_at"`
	LastUpdated string `db:"last_updated"`
}

func (r videoRow) toVideo() *Video {
	return &Video{
		ID:          r.ID,
		UID:         r.UID,
		Name:        r.Name,
		Status:      r.Status,
		CreatedAt:   parseTime(r.CreatedAt),
		LastUpdated: parseTime(r.LastUpdated),
	}
}

type segmentRow struct {
	ID                int64           `db:"id"`
	UID               string          `db:"uid"`
	VideoID           int64           `db:"video_id"`
	Start             float64         `db:"start_time"`
	End               float64         `db:"end_time"`
	Duration          sql.NullFloat64 `db:"duration"`
	Resolution        sql.NullString  `db:"resolution"`
	FPS               sql.NullFloat64 `db:"fps"`
	Codec             sql.NullString  `db:"codec"`
	Bitrate           sql.NullInt64   `db:"bitrate"`
	FilesizeMB        sql.NullFloat64 `db:"filesize_mb"`
	Description       sql.NullString  `db:"description"`
	Category          sql.NullString  `db:"category"`
	Confidence        sql.NullFloat64 `db:"confidence"`
	AIModel           sql.NullString  `db:"ai_model"`
	FilenamePredicted sql.NullString  `db:"filename_predicted"`
	OutputPath        sql.NullString  `db:"output_path"`
	SourceFlow        sql.NullString  `db:"source_flow"`
	MergedFrom        sql.NullString  `db:"merged_from"`
	Status            string          `db:"status"`
	LastUpdated       string          `db:"last_updated"`
}

func (r segmentRow) toSegment() *Segment {
	s := &Segment{
		ID:                r.ID,
		UID:               r.UID,
		VideoID:           r.VideoID,
		Start:             r.Start,
		End:               r.End,
		Duration:          floatPtr(r.Duration),
		Resolution:        r.Resolution.String,
		FPS:               floatPtr(r.FPS),
		Codec:             r.Codec.String,
		FilesizeMB:        floatPtr(r.FilesizeMB),
		Description:       r.Description.String,
		Category:          r.Category.String,
		Confidence:        floatPtr(r.Confidence),
		AIModel:           r.AIModel.String,
		FilenamePredicted: r.FilenamePredicted.String,
		OutputPath:        r.OutputPath.String,
		SourceFlow:        r.SourceFlow.String,
		Status:            r.Status,
		LastUpdated:       parseTime(r.LastUpdated),
		Keywords:          []string{},
		MergedFrom:        []int64{},
	}
	if r.Bitrate.Valid {
		s.Bitrate = Int64(r.Bitrate.Int64)
	}
	if r.MergedFrom.Valid && r.MergedFrom.String != "" {
		var ids []int64
		if err := json.Unmarshal([]byte(r.MergedFrom.String), &ids); err == nil {
			s.MergedFrom = ids
		}
	}
	return s
}

func (s *store) GetVideosByStatus(ctx context.Context, status string, limit int) ([]*Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE status = ? ORDER BY id`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []videoRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, err
	}

	videos := make([]*Video, 0, len(rows))
	for _, row := range rows {
		v := row.toVideo()
		segs, err := s.ListSegments(ctx, SegmentFilter{VideoID: v.ID})
		if err != nil {
			return nil, fmt.Errorf("load segments of video %s: %w", v.UID, err)
		}
		v.Segments = segs
		videos = append(videos, v)
	}
	return videos, nil
}

func (s *store) GetVideoWithSegments(ctx context.Context, uid string) (*Video, error) {
	v, err := s.getVideo(ctx, `SELECT `+videoColumns+` FROM videos WHERE uid = ?`, uid)
	if err != nil || v == nil {
		return v, err
	}
	segs, err := s.ListSegments(ctx, SegmentFilter{VideoID: v.ID})
	if err != nil {
		return nil, err
	}
	v.Segments = segs
	return v, nil
}

func (s *store) GetVideoByID(ctx context.Context, id int64) (*Video, error) {
	return s.getVideo(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
}

func (s *store) getVideo(ctx context.Context, query string, arg any) (*Video, error) {
	var row videoRow
	err := sqlx.GetContext(ctx, s.q, &row, s.q.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toVideo(), nil
}

func (s *store) CreateVideo(ctx context.Context, v *Video) (int64, error) {
	if v.UID == "" {
		v.UID = NewID()
	}
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.LastUpdated.IsZero() {
		v.LastUpdated = now
	}

	var id int64
	err := sqlx.GetContext(ctx, s.q, &id, s.q.Rebind(`
		INSERT INTO videos (uid, name, status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), v.UID, v.Name, v.Status, formatTime(v.CreatedAt), formatTime(v.LastUpdated))
	if err != nil {
		return 0, err
	}
	v.ID = id
	return id, nil
}

func (s *store) UpdateVideo(ctx context.Context, v *Video) error {
	if v.LastUpdated.IsZero() {
		v.LastUpdated = time.Now()
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE videos SET name = ?, status = ?, last_updated = ? WHERE id = ?
	`), v.Name, v.Status, formatTime(v.LastUpdated), v.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrVideoNotFound)
}

func (s *store) CountVideosByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, "videos")
}

func (s *store) CountSegmentsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, "segments")
}

func (s *store) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, s.q, &rows, `SELECT status, COUNT(*) AS n FROM `+table+` GROUP BY status`); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *store) GetSegment(ctx context.Context, id int64) (*Segment, error) {
	var row segmentRow
	err := sqlx.GetContext(ctx, s.q, &row, s.q.Rebind(`SELECT `+segmentColumns+` FROM segments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seg := row.toSegment()
	if err := s.loadKeywords(ctx, []*Segment{seg}); err != nil {
		return nil, err
	}
	return seg, nil
}

func (s *store) ListSegments(ctx context.Context, f SegmentFilter) ([]*Segment, error) {
	var (
		where []string
		args  []any
	)
	if f.VideoID > 0 {
		where = append(where, "video_id = ?")
		args = append(args, f.VideoID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + segmentColumns + ` FROM segments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY video_id, start_time, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []segmentRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	segs := make([]*Segment, 0, len(rows))
	for _, r := range rows {
		segs = append(segs, r.toSegment())
	}
	if err := s.loadKeywords(ctx, segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// loadKeywords fills Keywords with each segment's distinct keywords, sorted.
func (s *store) loadKeywords(ctx context.Context, segs []*Segment) error {
	if len(segs) == 0 {
		return nil
	}
	byID := make(map[int64]*Segment, len(segs))
	ids := make([]int64, 0, len(segs))
	for _, seg := range segs {
		byID[seg.ID] = seg
		ids = append(ids, seg.ID)
	}

	query, args, err := sqlx.In(`
		SELECT sk.segment_id, k.keyword
		FROM segment_keywords sk
		JOIN keywords k ON k.id = sk.keyword_id
		WHERE sk.segment_id IN (?)
		ORDER BY sk.segment_id, k.keyword
	`, ids)
	if err != nil {
		return err
	}

	var rows []struct {
		SegmentID int64  `db:"segment_id"`
		Keyword   string `db:"keyword"`
	}
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return err
	}
	for _, r := range rows {
		seg := byID[r.SegmentID]
		if n := len(seg.Keywords); n > 0 && seg.Keywords[n-1] == r.Keyword {
			continue
		}
		seg.Keywords = append(seg.Keywords, r.Keyword)
	}
	return nil
}

func (s *store) InsertSegment(ctx context.Context, seg *Segment) (int64, error) {
	if seg.UID == "" {
		seg.UID = NewID()
	}
	if seg.LastUpdated.IsZero() {
		seg.LastUpdated = time.Now()
	}
	mergedFrom, err := encodeMergedFrom(seg.MergedFrom)
	if err != nil {
		return 0, err
	}

	var id int64
	err = sqlx.GetContext(ctx, s.q, &id, s.q.Rebind(`
		INSERT INTO segments (
			uid, video_id, start_time, end_time, duration, resolution, fps, codec, bitrate,
			filesize_mb, description, category, confidence, ai_model, filename_predicted,
			output_path, source_flow, merged_from, status, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), seg.UID, seg.VideoID, seg.Start, seg.End, nullFloat(seg.Duration), nullString(seg.Resolution),
		nullFloat(seg.FPS), nullString(seg.Codec), nullInt(seg.Bitrate), nullFloat(seg.FilesizeMB),
		nullString(seg.Description), nullString(seg.Category), nullFloat(seg.Confidence),
		nullString(seg.AIModel), nullString(seg.FilenamePredicted), nullString(seg.OutputPath),
		nullString(seg.SourceFlow), mergedFrom, seg.Status, formatTime(seg.LastUpdated))
	if err != nil {
		return 0, err
	}
	seg.ID = id
	return id, nil
}

func (s *store) DeleteSegment(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM segment_keywords WHERE segment_id = ?`), id); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM segments WHERE id = ?`), id)
	return err
}

func (s *store) UpdateSegmentValidation(ctx context.Context, seg *Segment) error {
	if seg.LastUpdated.IsZero() {
		seg.LastUpdated = time.Now()
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE segments SET status = ?, last_updated = ? WHERE id = ?
	`), seg.Status, formatTime(seg.LastUpdated), seg.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSegmentNotFound)
}

func (s *store) UpdateSegmentPostprocess(ctx context.Context, seg *Segment) error {
	if seg.LastUpdated.IsZero() {
		seg.LastUpdated = time.Now()
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE segments SET
			resolution = ?, codec = ?, bitrate = ?, filesize_mb = ?, duration = ?, fps = ?,
			category = ?, status = ?, last_updated = ?
		WHERE id = ?
	`), nullString(seg.Resolution), nullString(seg.Codec), nullInt(seg.Bitrate), nullFloat(seg.FilesizeMB),
		nullFloat(seg.Duration), nullFloat(seg.FPS), nullString(seg.Category), seg.Status,
		formatTime(seg.LastUpdated), seg.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSegmentNotFound)
}

func (s *store) UpdateSegmentManual(ctx context.Context, u ManualUpdate) error {
	if u.LastUpdated.IsZero() {
		u.LastUpdated = time.Now()
	}
	if u.SourceFlow == "" {
		u.SourceFlow = SourceFlowManualCSV
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE segments SET
			description = ?, confidence = ?, status = COALESCE(?, status),
			source_flow = ?, last_updated = ?
		WHERE id = ?
	`), nullString(u.Description), nullFloat(u.Confidence), nullString(u.Status),
		u.SourceFlow, formatTime(u.LastUpdated), u.SegmentID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSegmentNotFound)
}

// InsertKeywordsStandalone adds keyword links to a segment, keeping the
// existing ones, and recomputes the category from the resulting set.
func (s *store) InsertKeywordsStandalone(ctx context.Context, segmentID int64, keywords []string) error {
	if err := s.linkKeywords(ctx, segmentID, keywords); err != nil {
		return err
	}

	var current []string
	if err := sqlx.SelectContext(ctx, s.q, &current, s.q.Rebind(`
		SELECT k.keyword FROM segment_keywords sk
		JOIN keywords k ON k.id = sk.keyword_id
		WHERE sk.segment_id = ?
		ORDER BY k.keyword
	`), segmentID); err != nil {
		return fmt.Errorf("load keywords of segment %d: %w", segmentID, err)
	}

	res, err := s.q.ExecContext(ctx, s.q.Rebind(`UPDATE segments SET category = ? WHERE id = ?`),
		nullString(s.categories.Match(current)), segmentID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSegmentNotFound)
}

// InsertKeywordsStandalone runs the link and the category update in one
// transaction.
func (r *SQLRepository) InsertKeywordsStandalone(ctx context.Context, segmentID int64, keywords []string) error {
	return r.InTx(ctx, func(tx Tx) error {
		return tx.InsertKeywordsStandalone(ctx, segmentID, keywords)
	})
}

// ReplaceKeywords swaps the segment's keyword set and stores the category
// computed for it in the same write.
func (s *store) ReplaceKeywords(ctx context.Context, segmentID int64, keywords []string, categoryName string) error {
	if _, err := s.q.ExecContext(ctx, s.q.Rebind(`DELETE FROM segment_keywords WHERE segment_id = ?`), segmentID); err != nil {
		return err
	}
	if err := s.linkKeywords(ctx, segmentID, keywords); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, s.q.Rebind(`UPDATE segments SET category = ? WHERE id = ?`),
		nullString(categoryName), segmentID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrSegmentNotFound)
}

func (s *store) linkKeywords(ctx context.Context, segmentID int64, keywords []string) error {
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if err := s.linkKeyword(ctx, segmentID, kw); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) linkKeyword(ctx context.Context, segmentID int64, kw string) error {
	if _, err := s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO keywords (keyword) VALUES (?) ON CONFLICT (keyword) DO NOTHING`), kw); err != nil {
		return fmt.Errorf("insert keyword %q: %w", kw, err)
	}
	var kwID int64
	if err := sqlx.GetContext(ctx, s.q, &kwID, s.q.Rebind(`SELECT id FROM keywords WHERE keyword = ?`), kw); err != nil {
		return fmt.Errorf("lookup keyword %q: %w", kw, err)
	}
	if _, err := s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO segment_keywords (segment_id, keyword_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		segmentID, kwID); err != nil {
		return fmt.Errorf("link keyword %q: %w", kw, err)
	}
	return nil
}

type jobRow struct {
	ID        string         `db:"id"`
	Type      string         `db:"type"`
	Status    string         `db:"status"`
	Payload   sql.NullString `db:"payload"`
	Result    sql.NullString `db:"result"`
	Progress  int            `db:"progress"`
	Error     sql.NullString `db:"error"`
	CreatedAt string         `db:"created_at"`
	UpdatedAt string         `db:"updated_at"`
}

func (r jobRow) toJob() *Job {
	return &Job{
		ID:        r.ID,
		Type:      r.Type,
		Status:    r.Status,
		Payload:   r.Payload.String,
		Result:    r.Result.String,
		Progress:  r.Progress,
		Error:     r.Error.String,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

func (r *SQLRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO jobs (id, type, status, payload, result, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), j.ID, j.Type, j.Status, nullString(j.Payload), nullString(j.Result), j.Progress,
		nullString(j.Error), formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toJob(), nil
}

func (r *SQLRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.selectJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
}

func (r *SQLRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	return r.selectJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, id`, JobStatusPending)
}

func (r *SQLRepository) selectJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toJob())
	}
	return jobs, nil
}

func (r *SQLRepository) HasActiveJob(ctx context.Context, jobType string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM jobs WHERE type = ? AND status IN (?, ?)
	`), jobType, JobStatusPending, JobStatusRunning)
	return n > 0, err
}

func (r *SQLRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`), status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`), progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLRepository) FinishJob(ctx context.Context, id, status, result, errorMsg string) error {
	query := `UPDATE jobs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`
	if status == JobStatusCompleted {
		query = `UPDATE jobs SET status = ?, result = ?, error = ?, progress = 100, updated_at = ? WHERE id = ?`
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		status, nullString(result), nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, r.db.Rebind("SELECT value FROM config WHERE key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func encodeMergedFrom(ids []int64) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode merged_from: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return Float64(n.Float64)
}
