// Package service exposes the running dashboard over NATS request/reply.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/model"
)

// Control subjects
const (
	SubjectConfigApply = "dashboard.config.apply"
	SubjectConfigGet   = "dashboard.config.get"
	SubjectTileRefresh = "dashboard.tile.refresh"
	SubjectStatus      = "dashboard.status"
)

// ConfigStore persists the dashboard document
type ConfigStore interface {
	Save(cfg *model.DashboardConfig) error
	Snapshot() *model.DashboardConfig
}

// Layout rebuilds the live tiles and reports what the last build resolved
type Layout interface {
	Rebuild(cfg *model.DashboardConfig) error
	WarningMessages() []string
}

// Scheduler refreshes tiles on demand and reports task state
type Scheduler interface {
	TriggerImmediate(identity model.TileID) error
	AllStatus() []model.ScheduleTask
}

// Reply is the answer to every control request
type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Status is the payload of a status reply
type Status struct {
	Tasks    []model.ScheduleTask `json:"tasks"`
	Warnings []string             `json:"warnings,omitempty"`
}

// ControlService handles dashboard control requests
type ControlService struct {
	nc        *nats.Conn
	store     ConfigStore
	layout    Layout
	scheduler Scheduler
	logger    *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewControlService creates a control service
func NewControlService(nc *nats.Conn, store ConfigStore, layout Layout, scheduler Scheduler, logger *zap.Logger) *ControlService {
	return &ControlService{
		nc:        nc,
		store:     store,
		layout:    layout,
		scheduler: scheduler,
		logger:    logger.Named("control"),
	}
}

// Start subscribes to the control subjects until ctx is done or Stop is called
func (s *ControlService) Start(ctx context.Context) error {
	handlers := map[string]func([]byte) (any, error){
		SubjectConfigApply: s.applyConfig,
		SubjectConfigGet:   s.getConfig,
		SubjectTileRefresh: s.refreshTile,
		SubjectStatus:      s.status,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, handler := range handlers {
		sub, err := s.nc.Subscribe(subject, s.wrap(subject, handler))
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		s.unsubscribeLocked()
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("Control service started")
	return nil
}

// Stop removes every subscription
func (s *ControlService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
}

func (s *ControlService) unsubscribeLocked() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.logger.Warn("Failed to unsubscribe",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}
	}
	s.subs = nil
}

func (s *ControlService) wrap(subject string, handler func([]byte) (any, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		reply := Reply{OK: true}
		data, err := handler(msg.Data)
		if err != nil {
			reply = Reply{Error: err.Error()}
			s.logger.Warn("Control request failed",
				zap.String("subject", subject),
				zap.Error(err))
		} else if data != nil {
			raw, err := json.Marshal(data)
			if err != nil {
				reply = Reply{Error: fmt.Sprintf("failed to marshal reply: %v", err)}
			} else {
				reply.Data = raw
			}
		}

		if msg.Reply == "" {
			return
		}
		out, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("Failed to marshal reply", zap.Error(err))
			return
		}
		if err := msg.Respond(out); err != nil {
			s.logger.Error("Failed to send reply",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
}

// applyConfig replaces the whole document, persists it and rebuilds the layout
func (s *ControlService) applyConfig(data []byte) (any, error) {
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(cfg); err != nil {
		return nil, err
	}
	if err := s.layout.Rebuild(cfg); err != nil {
		return nil, fmt.Errorf("failed to rebuild layout: %w", err)
	}

	s.logger.Info("Applied dashboard configuration",
		zap.String("theme", cfg.Theme),
		zap.Int("widgets", len(cfg.Widgets)))
	return Status{Warnings: s.layout.WarningMessages()}, nil
}

func (s *ControlService) getConfig([]byte) (any, error) {
	return s.store.Snapshot(), nil
}

func (s *ControlService) refreshTile(data []byte) (any, error) {
	id, err := model.ParseTileID(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if err := s.scheduler.TriggerImmediate(id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *ControlService) status([]byte) (any, error) {
	return Status{
		Tasks:    s.scheduler.AllStatus(),
		Warnings: s.layout.WarningMessages(),
	}, nil
}
