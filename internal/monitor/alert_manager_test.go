package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/provider"
	"github.com/t77yq/tileboard/internal/testutil"
)

type fakeStatus struct {
	mu    sync.Mutex
	tasks []model.ScheduleTask
}

func (f *fakeStatus) AllStatus() []model.ScheduleTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ScheduleTask, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func (f *fakeStatus) set(tasks ...model.ScheduleTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = tasks
}

func failed(tile string) model.RefreshRecord {
	return model.RefreshRecord{Tile: tile, Status: model.TaskStatusFailed, Error: "connection refused"}
}

func completed(tile string, value any) model.RefreshRecord {
	return model.RefreshRecord{Tile: tile, Status: model.TaskStatusCompleted, Value: value}
}

func TestAlertManager_Rules(t *testing.T) {
	manager := NewAlertManager(zaptest.NewLogger(t), nil, nil)

	rule := &model.AlertRule{
		Name:      "High CPU usage",
		Type:      model.AlertTypeResourceUsage,
		Threshold: 80.0,
		Severity:  model.AlertSeverityWarning,
	}
	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)
	require.False(t, rule.CreatedAt.IsZero())
	require.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	other := &model.AlertRule{Name: "Tile failing", Type: model.AlertTypeTileFailure}
	require.NoError(t, manager.AddRule(other))
	require.NotEqual(t, rule.ID, other.ID)

	rule.Threshold = 90.0
	rule.Severity = model.AlertSeverityCritical
	require.NoError(t, manager.UpdateRule(rule))

	updated, err := manager.GetRule(rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, updated.Threshold)
	assert.Equal(t, model.AlertSeverityCritical, updated.Severity)

	require.NoError(t, manager.DeleteRule(rule.ID))
	_, err = manager.GetRule(rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	assert.ErrorIs(t, manager.UpdateRule(&model.AlertRule{ID: "missing"}), ErrRuleNotFound)
	assert.ErrorIs(t, manager.DeleteRule("missing"), ErrRuleNotFound)
}

func TestAlertManager_TileFailure(t *testing.T) {
	manager := NewAlertManager(zaptest.NewLogger(t), nil, nil)
	rule := &model.AlertRule{
		Name:      "Tile failing",
		Type:      model.AlertTypeTileFailure,
		Threshold: 3,
		Severity:  model.AlertSeverityWarning,
	}
	require.NoError(t, manager.AddRule(rule))

	manager.ObserveRun(failed("finance@3"))
	manager.ObserveRun(failed("finance@3"))
	assert.Empty(t, manager.ActiveAlerts())

	manager.ObserveRun(failed("finance@3"))
	manager.ObserveRun(failed("finance@3"))
	alerts := manager.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "finance@3", alerts[0].Tile)
	assert.Equal(t, rule.ID, alerts[0].RuleID)
	assert.Equal(t, model.AlertTypeTileFailure, alerts[0].Type)
	assert.Equal(t, "connection refused", alerts[0].Data["error"])

	// Discarded runs say nothing about the tile
	manager.ObserveRun(model.RefreshRecord{Tile: "finance@3", Status: model.TaskStatusDiscarded})
	assert.Len(t, manager.ActiveAlerts(), 1)

	manager.ObserveRun(completed("finance@3", "SPY $500.00"))
	assert.Empty(t, manager.ActiveAlerts())

	// The counter starts over after a success
	manager.ObserveRun(failed("finance@3"))
	assert.Empty(t, manager.ActiveAlerts())
}

func TestAlertManager_SilencedRule(t *testing.T) {
	manager := NewAlertManager(zaptest.NewLogger(t), nil, nil)
	require.NoError(t, manager.AddRule(&model.AlertRule{
		Type:     model.AlertTypeTileFailure,
		Silenced: true,
	}))

	manager.ObserveRun(failed("news@2"))
	assert.Empty(t, manager.ActiveAlerts())
}

func TestAlertManager_ResourceUsage(t *testing.T) {
	manager := NewAlertManager(zaptest.NewLogger(t), nil, nil)
	for _, rule := range DefaultRules(3, time.Minute, 90, 80) {
		require.NoError(t, manager.AddRule(rule))
	}

	manager.ObserveRun(completed("system_monitor@1", provider.SystemMetrics{CPUPercent: 95, MemoryPercent: 50}))
	alerts := manager.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertTypeResourceUsage, alerts[0].Type)
	assert.Equal(t, 95.0, alerts[0].Data["cpu_usage"])
	assert.NotContains(t, alerts[0].Data, "memory_usage")

	manager.ObserveRun(completed("system_monitor@1", provider.SystemMetrics{CPUPercent: 97, MemoryPercent: 85}))
	assert.Len(t, manager.ActiveAlerts(), 2)

	manager.ObserveRun(completed("system_monitor@1", provider.SystemMetrics{CPUPercent: 10, MemoryPercent: 10}))
	assert.Empty(t, manager.ActiveAlerts())

	// Other values never trip resource rules
	manager.ObserveRun(completed("quote@2", "Stay hungry, stay foolish."))
	assert.Empty(t, manager.ActiveAlerts())
}

func TestAlertManager_HungRefresh(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	status := &fakeStatus{}
	manager := NewAlertManager(zaptest.NewLogger(t), nil, status,
		WithAlertClock(func() time.Time { return now }))
	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:     "Tile refresh hung",
		Type:     model.AlertTypeTimeout,
		Duration: 2 * time.Minute,
		Severity: model.AlertSeverityError,
	}))

	started := now.Add(-time.Minute)
	status.set(
		model.ScheduleTask{ID: "a", Tile: "weather@0", Running: true, RunningSince: &started},
		model.ScheduleTask{ID: "b", Tile: "news@1"},
	)
	manager.evaluateTimeouts()
	assert.Empty(t, manager.ActiveAlerts())

	now = now.Add(5 * time.Minute)
	manager.evaluateTimeouts()
	manager.evaluateTimeouts()
	alerts := manager.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "weather@0", alerts[0].Tile)
	assert.Equal(t, "a", alerts[0].Data["task_id"])

	status.set(model.ScheduleTask{ID: "a", Tile: "weather@0"})
	manager.evaluateTimeouts()
	assert.Empty(t, manager.ActiveAlerts())
}

func TestAlertManager_EvaluationLoop(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	status := &fakeStatus{}
	status.set(model.ScheduleTask{ID: "a", Tile: "calendar@2", Running: true, RunningSince: &started})

	manager := NewAlertManager(zaptest.NewLogger(t), nil, status, WithCheckInterval(10*time.Millisecond))
	for _, rule := range DefaultRules(3, time.Minute, 90, 90) {
		require.NoError(t, manager.AddRule(rule))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	require.Eventually(t, func() bool {
		return len(manager.ActiveAlerts()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAlertManager_PublishesOnJetStream(t *testing.T) {
	nc, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	manager := NewAlertManager(zaptest.NewLogger(t), js, &fakeStatus{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()
	require.NoError(t, testutil.WaitForStream(t, js, "ALERTS", 5*time.Second))

	// Starting again finds the existing stream
	again := NewAlertManager(zaptest.NewLogger(t), js, nil)
	require.NoError(t, again.Start(ctx))
	again.Stop()

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:      "Tile failing",
		Type:      model.AlertTypeTileFailure,
		Threshold: 1,
		Severity:  model.AlertSeverityError,
	}))

	msgs := testutil.Subscribe(t, nc, "alert.*")

	manager.ObserveRun(failed("weather@0"))
	manager.ObserveRun(completed("weather@0", "72°F"))

	var raised, resolved model.Alert
	select {
	case msg := <-msgs:
		assert.Equal(t, "alert.tile_failure", msg.Subject)
		require.NoError(t, json.Unmarshal(msg.Data, &raised))
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not published")
	}
	select {
	case msg := <-msgs:
		require.NoError(t, json.Unmarshal(msg.Data, &resolved))
	case <-time.After(5 * time.Second):
		t.Fatal("resolution was not published")
	}

	assert.Equal(t, "weather@0", raised.Tile)
	assert.Nil(t, raised.ResolvedAt)
	assert.Equal(t, raised.ID, resolved.ID)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestAlertManager_WithoutJetStream(t *testing.T) {
	nc, cleanup := testutil.StartCore(t)
	defer cleanup()
	js, err := nc.JetStream(nats.MaxWait(2 * time.Second))
	require.NoError(t, err)

	manager := NewAlertManager(zaptest.NewLogger(t), js, &fakeStatus{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:      "Tile failing",
		Type:      model.AlertTypeTileFailure,
		Threshold: 1,
		Severity:  model.AlertSeverityError,
	}))

	manager.ObserveRun(failed("news@4"))
	alerts := manager.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "news@4", alerts[0].Tile)

	manager.ObserveRun(completed("news@4", "Headline"))
	assert.Empty(t, manager.ActiveAlerts())
}
