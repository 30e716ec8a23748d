package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/model"
)

// ErrRemote wraps errors reported by the control service
var ErrRemote = errors.New("dashboard refused request")

// Client talks to a running ControlService
type Client struct {
	nc *nats.Conn
}

// NewClient creates a control client on nc
func NewClient(nc *nats.Conn) *Client {
	return &Client{nc: nc}
}

func (c *Client) request(ctx context.Context, subject string, data []byte) (json.RawMessage, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", subject, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("invalid reply on %s: %w", subject, err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
	return reply.Data, nil
}

// Apply replaces the running document and returns the resulting status
func (c *Client) Apply(ctx context.Context, cfg *model.DashboardConfig) (*Status, error) {
	doc, err := config.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	data, err := c.request(ctx, SubjectConfigApply, doc)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("invalid status: %w", err)
	}
	return &status, nil
}

// Config returns the running document
func (c *Client) Config(ctx context.Context) (*model.DashboardConfig, error) {
	data, err := c.request(ctx, SubjectConfigGet, nil)
	if err != nil {
		return nil, err
	}
	return config.Parse(data)
}

// Refresh asks for an immediate refresh of one tile
func (c *Client) Refresh(ctx context.Context, id model.TileID) error {
	_, err := c.request(ctx, SubjectTileRefresh, []byte(id.String()))
	return err
}

// Status returns the refresh tasks and layout warnings of the running dashboard
func (c *Client) Status(ctx context.Context) (*Status, error) {
	data, err := c.request(ctx, SubjectStatus, nil)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("invalid status: %w", err)
	}
	return &status, nil
}
