package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

const observeTimeout = 5 * time.Second

// RefreshHistory represents one recorded refresh execution
type RefreshHistory struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	Tile        string           `json:"tile"`
	Kind        string           `json:"kind"`
	Status      model.TaskStatus `json:"status"`
	Trigger     model.RunTrigger `json:"trigger"`
	Error       string           `json:"error,omitempty"`
	Generation  uint64           `json:"generation"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Duration    time.Duration    `json:"duration"`
}

// HistoryFilter narrows List and Count. Empty fields match everything.
type HistoryFilter struct {
	Tile   string
	Kind   string
	Status model.TaskStatus
}

func (f HistoryFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.Tile != "" {
		clauses = append(clauses, "tile = ?")
		args = append(args, f.Tile)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// RefreshHistoryStorage defines the interface for refresh history storage
type RefreshHistoryStorage interface {
	// Store stores a refresh execution record
	Store(ctx context.Context, history *RefreshHistory) error

	// List retrieves records, newest first, with pagination and filters
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*RefreshHistory, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes records started before the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRefreshHistory implements RefreshHistoryStorage using SQLite
type SQLiteRefreshHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

var _ RefreshHistoryStorage = (*SQLiteRefreshHistory)(nil)

// NewSQLiteRefreshHistory opens or creates the history database at dbPath
func NewSQLiteRefreshHistory(logger *zap.Logger, dbPath string) (*SQLiteRefreshHistory, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	storage := &SQLiteRefreshHistory{
		logger: logger.Named("history"),
		db:     db,
	}
	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Refreshes record from many goroutines; one connection serialises writers
	db.SetMaxOpenConns(1)
	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteRefreshHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_history (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			tile TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			error TEXT,
			generation INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			duration INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_refresh_history_tile ON refresh_history(tile);
		CREATE INDEX IF NOT EXISTS idx_refresh_history_status ON refresh_history(status);
		CREATE INDEX IF NOT EXISTS idx_refresh_history_started_at ON refresh_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements RefreshHistoryStorage.Store
func (s *SQLiteRefreshHistory) Store(ctx context.Context, history *RefreshHistory) error {
	if history.ID == "" {
		history.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_history (
			id, task_id, tile, kind, status, trigger_type, error,
			generation, started_at, completed_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		history.ID,
		history.TaskID,
		history.Tile,
		history.Kind,
		string(history.Status),
		string(history.Trigger),
		sql.NullString{String: history.Error, Valid: history.Error != ""},
		int64(history.Generation),
		history.StartedAt.UTC(),
		history.CompletedAt.UTC(),
		int64(history.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to store refresh history: %w", err)
	}
	return nil
}

// ObserveRun records a completed refresh. It satisfies the scheduler's run observer.
func (s *SQLiteRefreshHistory) ObserveRun(record model.RefreshRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()

	err := s.Store(ctx, &RefreshHistory{
		TaskID:      record.TaskID,
		Tile:        record.Tile,
		Kind:        record.Kind,
		Status:      record.Status,
		Trigger:     record.Trigger,
		Error:       record.Error,
		Generation:  record.Generation,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		Duration:    record.Duration,
	})
	if err != nil {
		s.logger.Error("Failed to record refresh",
			zap.String("tile", record.Tile),
			zap.Error(err))
	}
}

// List implements RefreshHistoryStorage.List
func (s *SQLiteRefreshHistory) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*RefreshHistory, error) {
	where, args := filter.where()
	query := `SELECT id, task_id, tile, kind, status, trigger_type, error,
		generation, started_at, completed_at, duration FROM refresh_history` + where +
		" ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh history: %w", err)
	}
	defer rows.Close()

	var histories []*RefreshHistory
	for rows.Next() {
		history := &RefreshHistory{}
		var status, trigger string
		var errorStr sql.NullString
		var generation, durationNanos int64

		err := rows.Scan(
			&history.ID,
			&history.TaskID,
			&history.Tile,
			&history.Kind,
			&status,
			&trigger,
			&errorStr,
			&generation,
			&history.StartedAt,
			&history.CompletedAt,
			&durationNanos,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh history: %w", err)
		}

		history.Status = model.TaskStatus(status)
		history.Trigger = model.RunTrigger(trigger)
		if errorStr.Valid {
			history.Error = errorStr.String
		}
		history.Generation = uint64(generation)
		history.Duration = time.Duration(durationNanos)
		histories = append(histories, history)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return histories, nil
}

// Count implements RefreshHistoryStorage.Count
func (s *SQLiteRefreshHistory) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM refresh_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count refresh history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements RefreshHistoryStorage.DeleteBefore
func (s *SQLiteRefreshHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_history WHERE started_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old refresh history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return affected, nil
}

// Close closes the database connection
func (s *SQLiteRefreshHistory) Close() error {
	return s.db.Close()
}
