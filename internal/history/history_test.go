package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateFinishAndGet(t *testing.T) {
	// given
	ctx := context.Background()
	repo := NewMemoryRepository()
	record := &Record{ID: "u1", ClientID: "c1", ChunksID: "abc", Name: "foo.obj", Type: "obj", Size: 10, Status: StatusPending, CreatedAt: 100}
	require.NoError(t, repo.Create(ctx, record))

	// when
	err := repo.Finish(ctx, "u1", Outcome{
		Status:      StatusDone,
		Checksum:    "abcd",
		ArchivePath: "uploads/2026/10/abc.obj",
		ModelIDs:    []string{"m1", "m2"},
		FinishedAt:  200,
	})

	// then
	require.NoError(t, err)
	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, []string{"m1", "m2"}, got.ModelIDs)
	assert.Equal(t, "abcd", got.Checksum)
	assert.Equal(t, int64(200), got.FinishedAt)
	assert.Equal(t, uint64(10), got.Size)
}

func TestMemoryRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &Record{ID: "u1"}))

	assert.Error(t, repo.Create(ctx, &Record{ID: "u1"}))
	assert.ErrorIs(t, repo.Finish(ctx, "missing", Outcome{Status: StatusDone}), ErrRecordNotFound)
	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryRepository_ListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &Record{ID: fmt.Sprintf("u%d", i), CreatedAt: int64(i)}))
	}

	records, err := repo.List(ctx, 3)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "u4", records[0].ID)
	assert.Equal(t, "u2", records[2].ID)
}

func TestMemoryRepository_DeleteFinishedBefore_KeepsPending(t *testing.T) {
	// given
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &Record{ID: "old-done", Status: StatusPending}))
	require.NoError(t, repo.Finish(ctx, "old-done", Outcome{Status: StatusDone, FinishedAt: 10}))
	require.NoError(t, repo.Create(ctx, &Record{ID: "old-failed", Status: StatusPending}))
	require.NoError(t, repo.Finish(ctx, "old-failed", Outcome{Status: StatusFailed, FinishedAt: 20}))
	require.NoError(t, repo.Create(ctx, &Record{ID: "recent", Status: StatusPending}))
	require.NoError(t, repo.Finish(ctx, "recent", Outcome{Status: StatusCancelled, FinishedAt: 1000}))
	require.NoError(t, repo.Create(ctx, &Record{ID: "pending", Status: StatusPending}))

	// when
	deleted, err := repo.DeleteFinishedBefore(ctx, 500)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	records, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCleanupScheduler_RunNow(t *testing.T) {
	// given
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &Record{ID: "expired"}))
	require.NoError(t, repo.Finish(ctx, "expired", Outcome{Status: StatusDone, FinishedAt: now.AddDate(0, 0, -8).Unix()}))
	require.NoError(t, repo.Create(ctx, &Record{ID: "kept"}))
	require.NoError(t, repo.Finish(ctx, "kept", Outcome{Status: StatusDone, FinishedAt: now.AddDate(0, 0, -6).Unix()}))

	scheduler := NewCleanupScheduler(repo, 7)
	scheduler.now = func() time.Time { return now }

	// when
	deleted := scheduler.RunNow()

	// then
	assert.Equal(t, int64(1), deleted)
	_, err := repo.GetByID(ctx, "kept")
	assert.NoError(t, err)
}

func TestCleanupScheduler_StartStop(t *testing.T) {
	scheduler := NewCleanupScheduler(NewMemoryRepository(), 0)

	scheduler.Start()

	assert.NotPanics(t, func() {
		scheduler.Stop()
		scheduler.Stop()
	})
	assert.Equal(t, 7, scheduler.retentionDays)
}

func TestNextDailyRun(t *testing.T) {
	before := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	after := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC), nextDailyRun(before))
	assert.Equal(t, time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC), nextDailyRun(after))
}
