package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// SQLiteCalendar stores calendar events for the calendar tile
type SQLiteCalendar struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteCalendar opens or creates the calendar database at dbPath. A new
// database is seeded with a few sample events relative to now.
func NewSQLiteCalendar(logger *zap.Logger, dbPath string, now time.Time) (*SQLiteCalendar, error) {
	_, statErr := os.Stat(dbPath)
	fresh := os.IsNotExist(statErr)

	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	c := &SQLiteCalendar{
		logger: logger.Named("calendar"),
		db:     db,
	}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if fresh {
		if err := c.seed(now); err != nil {
			db.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *SQLiteCalendar) initialize() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS calendar_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_calendar_events_date ON calendar_events(date);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func (c *SQLiteCalendar) seed(now time.Time) error {
	day := func(offset int) string {
		return now.AddDate(0, 0, offset).Format(model.CalendarDateLayout)
	}
	samples := []model.CalendarEvent{
		{Title: "Team Meeting", Date: day(1), Time: "10:00 AM", Description: "Weekly team sync"},
		{Title: "Dentist Appointment", Date: day(3), Time: "2:30 PM", Description: "Regular checkup"},
		{Title: "Birthday Party", Date: day(7), Time: "6:00 PM", Description: "Friend's birthday celebration"},
	}
	for _, e := range samples {
		if _, err := c.Add(context.Background(), e); err != nil {
			return fmt.Errorf("failed to seed calendar: %w", err)
		}
	}
	c.logger.Info("Seeded calendar with sample events", zap.Int("count", len(samples)))
	return nil
}

// Add stores a new event and returns it with its assigned ID
func (c *SQLiteCalendar) Add(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	event.Title = strings.TrimSpace(event.Title)
	if event.Title == "" {
		return model.CalendarEvent{}, fmt.Errorf("%w: empty title", ErrInvalidEvent)
	}
	if _, err := time.Parse(model.CalendarDateLayout, event.Date); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidEvent, event.Date)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, title, date, time, description)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Title, event.Date, event.Time, event.Description)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("failed to add calendar event: %w", err)
	}

	c.logger.Info("Added calendar event",
		zap.String("id", event.ID),
		zap.String("title", event.Title),
		zap.String("date", event.Date))
	return event, nil
}

// Remove deletes the event with the given ID
func (c *SQLiteCalendar) Remove(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM calendar_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove calendar event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// List returns every event ordered by date
func (c *SQLiteCalendar) List(ctx context.Context) ([]model.CalendarEvent, error) {
	return c.query(ctx, "SELECT id, title, date, time, description FROM calendar_events ORDER BY date, created_at")
}

// Upcoming returns events dated from the day of from through days later
func (c *SQLiteCalendar) Upcoming(ctx context.Context, from time.Time, days int) ([]model.CalendarEvent, error) {
	start := from.Format(model.CalendarDateLayout)
	end := from.AddDate(0, 0, days).Format(model.CalendarDateLayout)
	return c.query(ctx, `
		SELECT id, title, date, time, description FROM calendar_events
		WHERE date >= ? AND date <= ?
		ORDER BY date, created_at`, start, end)
}

func (c *SQLiteCalendar) query(ctx context.Context, query string, args ...interface{}) ([]model.CalendarEvent, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		if err := rows.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// Close closes the database connection
func (c *SQLiteCalendar) Close() error {
	return c.db.Close()
}
