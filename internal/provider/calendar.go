package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/t77yq/tileboard/internal/model"
)

const (
	agendaDays     = 7
	maxAgendaItems = 5
)

// EventSource lists calendar events whose date falls in [from, from+days]
type EventSource interface {
	Upcoming(ctx context.Context, from time.Time, days int) ([]model.CalendarEvent, error)
}

// AgendaItem is one upcoming event with its relative day label
type AgendaItem struct {
	Title       string `json:"title"`
	Day         string `json:"day"`
	DaysUntil   int    `json:"days_until"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// Agenda is the calendar tile value
type Agenda struct {
	Date  time.Time    `json:"date"`
	Items []AgendaItem `json:"items"`
}

func (a Agenda) String() string {
	var b strings.Builder
	b.WriteString("Calendar - ")
	b.WriteString(a.Date.Format("Jan 02, 2006"))
	if len(a.Items) == 0 {
		b.WriteString("\nNo upcoming events")
		return b.String()
	}
	for _, item := range a.Items {
		fmt.Fprintf(&b, "\n%s - %s\n%s - %s", item.Title, item.Day, item.Time, item.Description)
	}
	return b.String()
}

// DayLabel names the distance to an event day
func DayLabel(daysUntil int) string {
	switch daysUntil {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return fmt.Sprintf("In %d days", daysUntil)
	}
}

type calendarProvider struct {
	events EventSource
	now    func() time.Time
}

func newCalendar(deps Deps) (Provider, error) {
	if deps.Events == nil {
		return nil, fmt.Errorf("%w: calendar store", ErrUnavailable)
	}
	return NewCalendar(deps.Events, deps.Now), nil
}

// NewCalendar lists the next week of events, nearest first, at most five
func NewCalendar(events EventSource, now func() time.Time) Provider {
	if now == nil {
		now = time.Now
	}
	return &calendarProvider{events: events, now: now}
}

func (p *calendarProvider) Fetch(ctx context.Context, params map[string]string) (any, error) {
	now := p.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	events, err := p.events.Upcoming(ctx, today, agendaDays)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	agenda := Agenda{Date: today}
	for _, e := range events {
		day, err := e.Day(now.Location())
		if err != nil {
			continue
		}
		// Whole days between calendar dates, stable across DST changes
		days := int(day.Sub(today).Round(24*time.Hour) / (24 * time.Hour))
		if days < 0 || days > agendaDays {
			continue
		}
		agenda.Items = append(agenda.Items, AgendaItem{
			Title:       e.Title,
			Day:         DayLabel(days),
			DaysUntil:   days,
			Time:        e.Time,
			Description: e.Description,
		})
	}

	sort.SliceStable(agenda.Items, func(i, j int) bool {
		return agenda.Items[i].DaysUntil < agenda.Items[j].DaysUntil
	})
	if len(agenda.Items) > maxAgendaItems {
		agenda.Items = agenda.Items[:maxAgendaItems]
	}
	return agenda, nil
}
