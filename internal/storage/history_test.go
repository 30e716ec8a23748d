package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/tileboard/internal/model"
)

func newTestHistory(t *testing.T) *SQLiteRefreshHistory {
	t.Helper()
	h, err := NewSQLiteRefreshHistory(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRefreshHistory_StoreAndList(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []model.RefreshRecord{
		{TaskID: "t1", Tile: "weather@0", Kind: "weather", Status: model.TaskStatusCompleted, Trigger: model.TriggerImmediate, Generation: 1},
		{TaskID: "t1", Tile: "weather@0", Kind: "weather", Status: model.TaskStatusFailed, Trigger: model.TriggerTick, Error: "timeout", Generation: 1},
		{TaskID: "t2", Tile: "finance@3", Kind: "finance", Status: model.TaskStatusCompleted, Trigger: model.TriggerTick, Generation: 2},
	}
	for i, r := range records {
		r.StartedAt = base.Add(time.Duration(i) * time.Minute)
		r.CompletedAt = r.StartedAt.Add(300 * time.Millisecond)
		r.Duration = 300 * time.Millisecond
		h.ObserveRun(r)
	}

	all, err := h.List(ctx, HistoryFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "finance@3", all[0].Tile, "newest first")
	assert.Equal(t, uint64(2), all[0].Generation)
	assert.Equal(t, 300*time.Millisecond, all[0].Duration)
	assert.True(t, all[0].StartedAt.Equal(base.Add(2*time.Minute)))
	assert.NotEmpty(t, all[0].ID)

	failed, err := h.List(ctx, HistoryFilter{Status: model.TaskStatusFailed}, 0, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "timeout", failed[0].Error)
	assert.Equal(t, model.TriggerTick, failed[0].Trigger)

	count, err := h.Count(ctx, HistoryFilter{Tile: "weather@0"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	page, err := h.List(ctx, HistoryFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.TaskStatusFailed, page[0].Status)
}

func TestRefreshHistory_DeleteBefore(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		require.NoError(t, h.Store(ctx, &RefreshHistory{
			TaskID:      "t",
			Tile:        "news@1",
			Kind:        "news",
			Status:      model.TaskStatusCompleted,
			Trigger:     model.TriggerTick,
			StartedAt:   now.Add(-age),
			CompletedAt: now.Add(-age),
		}))
	}

	deleted, err := h.DeleteBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := h.Count(ctx, HistoryFilter{Kind: "news"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRefreshHistory_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	logger := zaptest.NewLogger(t)

	h, err := NewSQLiteRefreshHistory(logger, path)
	require.NoError(t, err)
	require.NoError(t, h.Store(context.Background(), &RefreshHistory{
		TaskID: "t", Tile: "quote@2", Kind: "quote", Status: model.TaskStatusCompleted,
		Trigger: model.TriggerTick, StartedAt: time.Now(), CompletedAt: time.Now(),
	}))
	require.NoError(t, h.Close())

	h, err = NewSQLiteRefreshHistory(logger, path)
	require.NoError(t, err)
	defer h.Close()

	count, err := h.Count(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
