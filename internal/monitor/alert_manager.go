package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/provider"
)

const (
	alertStream          = "ALERTS"
	defaultCheckInterval = 10 * time.Second
)

// ErrRuleNotFound is returned for operations on an unknown rule ID
var ErrRuleNotFound = errors.New("rule not found")

// StatusSource exposes the live state of every refresh task
type StatusSource interface {
	AllStatus() []model.ScheduleTask
}

// AlertOption configures an AlertManager
type AlertOption func(*AlertManager)

// WithCheckInterval sets how often hung refreshes are looked for
func WithCheckInterval(d time.Duration) AlertOption {
	return func(m *AlertManager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithAlertClock replaces the wall clock
func WithAlertClock(now func() time.Time) AlertOption {
	return func(m *AlertManager) {
		if now != nil {
			m.now = now
		}
	}
}

type alertKey struct {
	rule string
	tile string
}

// AlertManager raises and resolves alerts about tile refreshes. It learns
// about runs through the scheduler observer hook and polls the scheduler for
// refreshes that never return.
type AlertManager struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	status   StatusSource
	interval time.Duration
	now      func() time.Time
	rules    sync.Map // rule ID -> *model.AlertRule

	// set when the alert stream could not be set up
	localOnly atomic.Bool

	mu       sync.Mutex
	open     map[alertKey]*model.Alert
	failures map[string]int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAlertManager creates an alert manager. js may be nil, in which case
// alerts are only logged.
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext, status StatusSource, opts ...AlertOption) *AlertManager {
	m := &AlertManager{
		logger:   logger.Named("alerts"),
		js:       js,
		status:   status,
		interval: defaultCheckInterval,
		now:      time.Now,
		open:     make(map[alertKey]*model.Alert),
		failures: make(map[string]int),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultRules builds the rule set used by the server
func DefaultRules(failureThreshold int, hungAfter time.Duration, cpuThreshold, memoryThreshold float64) []*model.AlertRule {
	return []*model.AlertRule{
		{
			Name:      "Tile failing",
			Type:      model.AlertTypeTileFailure,
			Threshold: float64(failureThreshold),
			Severity:  model.AlertSeverityWarning,
		},
		{
			Name:     "Tile refresh hung",
			Type:     model.AlertTypeTimeout,
			Duration: hungAfter,
			Severity: model.AlertSeverityError,
		},
		{
			Name:      "High CPU usage",
			Type:      model.AlertTypeResourceUsage,
			Metric:    "cpu",
			Threshold: cpuThreshold,
			Severity:  model.AlertSeverityWarning,
		},
		{
			Name:      "High memory usage",
			Type:      model.AlertTypeResourceUsage,
			Metric:    "memory",
			Threshold: memoryThreshold,
			Severity:  model.AlertSeverityWarning,
		},
	}
}

// Start creates the alert stream when connected and starts the hung refresh check
func (m *AlertManager) Start(ctx context.Context) error {
	if m.js != nil {
		if err := m.ensureStream(); err != nil {
			m.logger.Warn("Alert stream unavailable, alerts are only logged", zap.Error(err))
			m.localOnly.Store(true)
		}
	}

	m.wg.Add(1)
	go m.evaluationLoop(ctx)

	m.logger.Info("Alert manager started", zap.Duration("check_interval", m.interval))
	return nil
}

func (m *AlertManager) ensureStream() error {
	stream, err := m.js.StreamInfo(alertStream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream != nil {
		return nil
	}
	_, err = m.js.AddStream(&nats.StreamConfig{
		Name:     alertStream,
		Subjects: []string{"alert.*"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Stop stops the evaluation loop
func (m *AlertManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return value.(*model.AlertRule), nil
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = m.now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.UpdatedAt = m.now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule and drops its open alerts
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	m.rules.Delete(id)

	m.mu.Lock()
	for key := range m.open {
		if key.rule == id {
			delete(m.open, key)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *AlertManager) rulesOf(typ model.AlertType) []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(_, value interface{}) bool {
		rule := value.(*model.AlertRule)
		if rule.Type == typ && !rule.Silenced {
			rules = append(rules, rule)
		}
		return true
	})
	return rules
}

// ActiveAlerts returns every unresolved alert, oldest first
func (m *AlertManager) ActiveAlerts() []model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]model.Alert, 0, len(m.open))
	for _, a := range m.open {
		alerts = append(alerts, *a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].Tile < alerts[j].Tile
		}
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
	return alerts
}

// ObserveRun receives every finished refresh from the scheduler
func (m *AlertManager) ObserveRun(record model.RefreshRecord) {
	switch record.Status {
	case model.TaskStatusFailed:
		m.handleFailure(record)
	case model.TaskStatusCompleted:
		m.handleSuccess(record)
	}
}

func (m *AlertManager) handleFailure(record model.RefreshRecord) {
	m.mu.Lock()
	m.failures[record.Tile]++
	failures := m.failures[record.Tile]
	m.mu.Unlock()

	for _, rule := range m.rulesOf(model.AlertTypeTileFailure) {
		threshold := int(rule.Threshold)
		if threshold < 1 {
			threshold = 1
		}
		if failures < threshold {
			continue
		}
		m.raise(rule, record.Tile,
			fmt.Sprintf("%s failed %d times in a row", record.Tile, failures),
			map[string]interface{}{
				"error":                record.Error,
				"consecutive_failures": failures,
			})
	}
}

func (m *AlertManager) handleSuccess(record model.RefreshRecord) {
	m.mu.Lock()
	delete(m.failures, record.Tile)
	m.mu.Unlock()

	for _, rule := range m.rulesOf(model.AlertTypeTileFailure) {
		m.resolve(rule, record.Tile)
	}
	for _, rule := range m.rulesOf(model.AlertTypeTimeout) {
		m.resolve(rule, record.Tile)
	}

	metrics, ok := record.Value.(provider.SystemMetrics)
	if !ok {
		return
	}
	for _, rule := range m.rulesOf(model.AlertTypeResourceUsage) {
		m.checkResource(rule, record.Tile, metrics)
	}
}

func (m *AlertManager) checkResource(rule *model.AlertRule, tile string, metrics provider.SystemMetrics) {
	usage := map[string]float64{
		"cpu":    metrics.CPUPercent,
		"memory": metrics.MemoryPercent,
	}
	over := make(map[string]interface{})
	for metric, value := range usage {
		if rule.Metric != "" && rule.Metric != metric {
			continue
		}
		if value > rule.Threshold {
			over[metric+"_usage"] = value
		}
	}

	if len(over) == 0 {
		m.resolve(rule, tile)
		return
	}
	over["threshold"] = rule.Threshold
	m.raise(rule, tile, fmt.Sprintf("Resource usage above %.0f%%", rule.Threshold), over)
}

// evaluationLoop periodically looks for refreshes that are running too long
func (m *AlertManager) evaluationLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.evaluateTimeouts()
		}
	}
}

// evaluateTimeouts raises an alert for every refresh running longer than a
// timeout rule allows and resolves the ones that have since returned
func (m *AlertManager) evaluateTimeouts() {
	if m.status == nil {
		return
	}
	rules := m.rulesOf(model.AlertTypeTimeout)
	if len(rules) == 0 {
		return
	}

	now := m.now()
	for _, task := range m.status.AllStatus() {
		for _, rule := range rules {
			if rule.Duration <= 0 {
				continue
			}
			if !task.Running || task.RunningSince == nil {
				m.resolve(rule, task.Tile)
				continue
			}
			elapsed := now.Sub(*task.RunningSince)
			if elapsed <= rule.Duration {
				continue
			}
			m.raise(rule, task.Tile,
				fmt.Sprintf("%s refresh running for %s", task.Tile, elapsed.Round(time.Second)),
				map[string]interface{}{
					"task_id":      task.ID,
					"elapsed_time": elapsed.String(),
				})
		}
	}
}

// raise opens an alert for (rule, tile) unless one is already open
func (m *AlertManager) raise(rule *model.AlertRule, tile, message string, data map[string]interface{}) {
	key := alertKey{rule: rule.ID, tile: tile}

	m.mu.Lock()
	if _, exists := m.open[key]; exists {
		m.mu.Unlock()
		return
	}
	alert := &model.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		Tile:      tile,
		Message:   message,
		Data:      data,
		CreatedAt: m.now(),
	}
	m.open[key] = alert
	published := *alert
	m.mu.Unlock()

	m.logger.Warn("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule", rule.Name),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("tile", tile),
		zap.String("message", message))

	m.publish(&published)
}

// resolve closes the open alert for (rule, tile), if any
func (m *AlertManager) resolve(rule *model.AlertRule, tile string) {
	key := alertKey{rule: rule.ID, tile: tile}

	m.mu.Lock()
	alert, exists := m.open[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.open, key)
	resolvedAt := m.now()
	alert.ResolvedAt = &resolvedAt
	published := *alert
	m.mu.Unlock()

	m.logger.Info("Alert resolved",
		zap.String("id", alert.ID),
		zap.String("rule", rule.Name),
		zap.String("tile", tile),
		zap.Duration("open_for", resolvedAt.Sub(alert.CreatedAt)))

	m.publish(&published)
}

func (m *AlertManager) publish(alert *model.Alert) {
	if m.js == nil || m.localOnly.Load() {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}
	if _, err := m.js.Publish("alert."+string(alert.Type), data); err != nil {
		m.logger.Error("Failed to publish alert",
			zap.String("id", alert.ID),
			zap.Error(err))
	}
}
