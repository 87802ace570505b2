package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/rednvr/internal/core"
	"go.uber.org/zap"
)

// 카탈로그 항목 종류
const (
	KindVideo    = "video"
	KindSnapshot = "snapshot"
)

// Recording은 녹화 파일 또는 스냅샷 한 건입니다
type Recording struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Frames     uint64    `json:"frames"`
	SizeBytes  int64     `json:"size_bytes"`
}

// ListOptions는 조회 조건
type ListOptions struct {
	CameraID string
	Kind     string
	Limit    int
}

// RecordingRepository는 녹화 카탈로그 데이터 액세스 레이어입니다
type RecordingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRecordingRepository는 새로운 RecordingRepository를 생성합니다
func NewRecordingRepository(db *DB, logger *zap.Logger) *RecordingRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingRepository{
		db:     db,
		logger: logger,
	}
}

const recordingColumns = `id, camera_id, camera_name, kind, path, started_at, ended_at, frames, size_bytes`

// Create는 카탈로그 항목을 추가합니다. ID가 비어 있으면 생성합니다.
func (r *RecordingRepository) Create(rec *Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Kind == "" {
		rec.Kind = KindVideo
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = rec.StartedAt
	}

	query := `INSERT INTO recordings (` + recordingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Conn().Exec(
		query,
		rec.ID,
		rec.CameraID,
		rec.CameraName,
		rec.Kind,
		rec.Path,
		rec.StartedAt.UTC(),
		rec.EndedAt.UTC(),
		int64(rec.Frames),
		rec.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	r.logger.Info("Recording cataloged",
		zap.String("id", rec.ID),
		zap.String("camera_id", rec.CameraID),
		zap.String("kind", rec.Kind),
		zap.String("path", rec.Path),
	)
	return nil
}

// Get은 ID로 항목을 조회합니다
func (r *RecordingRepository) Get(id string) (*Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = ?`

	rec, err := scanRecording(r.db.Conn().QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRecordingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return rec, nil
}

// List는 최신순으로 항목을 조회합니다
func (r *RecordingRepository) List(opts ListOptions) ([]*Recording, error) {
	var where []string
	var args []any
	if opts.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, opts.CameraID)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}

	query := `SELECT ` + recordingColumns + ` FROM recordings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	recordings := []*Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recordings: %w", err)
	}

	return recordings, nil
}

// Delete는 항목을 삭제하고 파일도 지웁니다. 파일이 이미 없으면 무시합니다.
func (r *RecordingRepository) Delete(id string) (*Recording, error) {
	rec, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	result, err := r.db.Conn().Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete recording: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrRecordingNotFound, id)
	}

	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("Failed to remove recording file",
			zap.String("path", rec.Path),
			zap.Error(err),
		)
	}

	r.logger.Info("Recording deleted",
		zap.String("id", id),
		zap.String("path", rec.Path),
	)
	return rec, nil
}

// Count는 항목 개수를 반환합니다
func (r *RecordingRepository) Count() (int, error) {
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM recordings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recordings: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	rec := &Recording{}
	var frames int64
	err := row.Scan(
		&rec.ID,
		&rec.CameraID,
		&rec.CameraName,
		&rec.Kind,
		&rec.Path,
		&rec.StartedAt,
		&rec.EndedAt,
		&frames,
		&rec.SizeBytes,
	)
	if err != nil {
		return nil, err
	}
	rec.Frames = uint64(frames)
	return rec, nil
}
