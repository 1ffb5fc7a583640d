// Package cache provides SQLite-backed local caching of timer data, so the
// TUI and the status command can show the last known state before the first
// fetch completes (or while offline). The backend stays authoritative; the
// cache is overwritten wholesale on every commit.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/tempo/internal/models"
	_ "modernc.org/sqlite"
)

// Cache provides access to the local SQLite cache.
type Cache struct {
	db *sql.DB
}

// New creates a new Cache and runs migrations.
func New(dbPath string) (*Cache, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return c, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// migrate runs idempotent schema migrations.
func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timers (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		project TEXT,
		client TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		is_paused INTEGER NOT NULL DEFAULT 0,
		paused_at TEXT,
		total_paused_time INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		duration INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		cached_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timers_active ON timers(is_active);
	CREATE INDEX IF NOT EXISTS idx_timers_position ON timers(position);
	`

	_, err := c.db.Exec(schema)
	return err
}

// SaveSnapshot replaces the cached state with the given active timer and
// history page, in one transaction.
func (c *Cache) SaveSnapshot(active *models.Timer, history []models.Timer) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM timers`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	now := time.Now().UTC()
	if active != nil {
		if err := insertTimer(tx, active, true, 0, now); err != nil {
			return err
		}
	}
	for i := range history {
		// The active timer should not also appear in history, but guard
		// against backends that return it anyway.
		if active != nil && history[i].ID == active.ID {
			continue
		}
		if err := insertTimer(tx, &history[i], false, i+1, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertTimer(tx *sql.Tx, t *models.Timer, isActive bool, position int, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO timers (id, task, project, client, start_time, end_time,
			is_paused, paused_at, total_paused_time, note, duration,
			is_active, position, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Task, t.Project, t.Client, t.StartTime, t.EndTime,
		boolToInt(t.IsPaused), t.PausedAt, t.TotalPausedTime, t.Note, t.Duration,
		boolToInt(isActive), position, now,
	)
	if err != nil {
		return fmt.Errorf("insert timer %s: %w", t.ID, err)
	}
	return nil
}

// LoadSnapshot returns the cached active timer (nil when none) and history,
// in cached order.
func (c *Cache) LoadSnapshot() (*models.Timer, []models.Timer, error) {
	rows, err := c.db.Query(`
		SELECT id, task, project, client, start_time, end_time,
			is_paused, paused_at, total_paused_time, note, duration, is_active
		FROM timers ORDER BY is_active DESC, position ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()

	var active *models.Timer
	var history []models.Timer
	for rows.Next() {
		var t models.Timer
		var project, client, endTime, pausedAt, note sql.NullString
		var isPaused, isActive int
		if err := rows.Scan(&t.ID, &t.Task, &project, &client, &t.StartTime, &endTime,
			&isPaused, &pausedAt, &t.TotalPausedTime, &note, &t.Duration, &isActive); err != nil {
			return nil, nil, fmt.Errorf("scan timer: %w", err)
		}
		t.Project = project.String
		t.Client = client.String
		t.EndTime = endTime.String
		t.PausedAt = pausedAt.String
		t.Note = note.String
		t.IsPaused = isPaused != 0

		if isActive != 0 {
			copied := t
			active = &copied
		} else {
			history = append(history, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return active, history, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
