package provider

import (
	"context"
	"time"
)

// ClockLayout is the 12-hour format the clock tile shows
const ClockLayout = "03:04:05 PM"

func newClock(deps Deps) (Provider, error) {
	return NewClock(deps.Now), nil
}

// NewClock formats the current local time. Param "layout" selects another Go time layout.
func NewClock(now func() time.Time) Provider {
	if now == nil {
		now = time.Now
	}
	return ProviderFunc(func(ctx context.Context, params map[string]string) (any, error) {
		return now().Format(param(params, "layout", ClockLayout)), nil
	})
}
