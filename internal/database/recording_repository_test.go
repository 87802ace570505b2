package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rednvr/internal/core"
)

func newTestRepository(t *testing.T) *RecordingRepository {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecordingRepository(db, nil)
}

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestRecordingRepositoryCreateGet(t *testing.T) {
	repo := newTestRepository(t)

	rec := &Recording{
		CameraID:   "cam00001",
		CameraName: "Front Door",
		Path:       "/recordings/Front Door_20250314_090000.mp4",
		StartedAt:  base,
		EndedAt:    base.Add(90 * time.Second),
		Frames:     2700,
		SizeBytes:  12345678,
	}
	require.NoError(t, repo.Create(rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, KindVideo, rec.Kind)

	got, err := repo.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.CameraID, got.CameraID)
	assert.Equal(t, rec.CameraName, got.CameraName)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, uint64(2700), got.Frames)
	assert.Equal(t, int64(12345678), got.SizeBytes)
	assert.True(t, base.Equal(got.StartedAt))
	assert.True(t, base.Add(90*time.Second).Equal(got.EndedAt))
}

func TestRecordingRepositoryGetMissing(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.Get("missing")
	assert.True(t, errors.Is(err, core.ErrRecordingNotFound))
}

func TestRecordingRepositoryList(t *testing.T) {
	repo := newTestRepository(t)

	entries := []*Recording{
		{CameraID: "a", CameraName: "A", Path: "a1.mp4", StartedAt: base},
		{CameraID: "a", CameraName: "A", Path: "a2.mp4", StartedAt: base.Add(time.Minute)},
		{CameraID: "b", CameraName: "B", Path: "b1.mp4", StartedAt: base.Add(2 * time.Minute)},
		{CameraID: "a", CameraName: "A", Kind: KindSnapshot, Path: "a.jpg", StartedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(e))
	}

	all, err := repo.List(ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a.jpg", all[0].Path)
	assert.Equal(t, "a1.mp4", all[3].Path)

	camA, err := repo.List(ListOptions{CameraID: "a", Kind: KindVideo})
	require.NoError(t, err)
	require.Len(t, camA, 2)
	assert.Equal(t, "a2.mp4", camA[0].Path)

	limited, err := repo.List(ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.List(ListOptions{CameraID: "zzz"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestRecordingRepositoryDeleteRemovesFile(t *testing.T) {
	repo := newTestRepository(t)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	rec := &Recording{CameraID: "a", CameraName: "A", Path: path, StartedAt: base}
	require.NoError(t, repo.Create(rec))

	deleted, err := repo.Delete(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, path, deleted.Path)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = repo.Delete(rec.ID)
	assert.True(t, errors.Is(err, core.ErrRecordingNotFound))
}

func TestRecordingRepositoryDeleteMissingFile(t *testing.T) {
	repo := newTestRepository(t)

	rec := &Recording{CameraID: "a", CameraName: "A", Path: filepath.Join(t.TempDir(), "gone.mp4"), StartedAt: base}
	require.NoError(t, repo.Create(rec))

	_, err := repo.Delete(rec.ID)
	assert.NoError(t, err)

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
