// Package archive persists summaries of finished sessions so they remain
// queryable after in-memory state is cleaned up.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no archived session matches the ID.
var ErrNotFound = errors.New("archived session not found")

// Record is one archived session summary row.
type Record struct {
	SessionID      string    `db:"session_id" json:"session_id"`
	Phase          string    `db:"phase" json:"phase"`
	Goal           string    `db:"goal" json:"goal"`
	TasksCompleted int       `db:"tasks_completed" json:"tasks_completed"`
	TasksFailed    int       `db:"tasks_failed" json:"tasks_failed"`
	TokensUsed     int       `db:"tokens_used" json:"tokens_used"`
	CostUSD        float64   `db:"cost_usd" json:"cost_usd"`
	HealthScore    float64   `db:"health_score" json:"health_score"`
	HealthGrade    string    `db:"health_grade" json:"health_grade"`
	CompletedAt    time.Time `db:"completed_at" json:"completed_at"`
}

// Store reads and writes archived session records.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session_archive (
	session_id      TEXT PRIMARY KEY,
	phase           TEXT NOT NULL,
	goal            TEXT NOT NULL,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed    INTEGER NOT NULL DEFAULT 0,
	tokens_used     INTEGER NOT NULL DEFAULT 0,
	cost_usd        REAL NOT NULL DEFAULT 0,
	health_score    REAL NOT NULL DEFAULT 0,
	health_grade    TEXT NOT NULL DEFAULT '',
	completed_at    TIMESTAMP NOT NULL
)`

// OpenSQLite opens (and migrates) a SQLite-backed store. The parent
// directory is created as needed.
func OpenSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare archive path: %w", err)
		}
	}
	// Single writer connection with WAL keeps concurrent reads cheap and
	// avoids SQLITE_BUSY on the write path.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return migrate(db)
}

// OpenPostgres opens (and migrates) a Postgres-backed store via pgx.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}
	return migrate(db)
}

func migrate(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a session record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	query := s.db.Rebind(`
		INSERT INTO session_archive
			(session_id, phase, goal, tasks_completed, tasks_failed,
			 tokens_used, cost_usd, health_score, health_grade, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			phase = excluded.phase,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			tokens_used = excluded.tokens_used,
			cost_usd = excluded.cost_usd,
			health_score = excluded.health_score,
			health_grade = excluded.health_grade,
			completed_at = excluded.completed_at`)
	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.Phase, rec.Goal, rec.TasksCompleted, rec.TasksFailed,
		rec.TokensUsed, rec.CostUSD, rec.HealthScore, rec.HealthGrade, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Get fetches one archived session.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	var rec Record
	query := s.db.Rebind(`SELECT * FROM session_archive WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &rec, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load archived session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// List returns archived sessions newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	query := s.db.Rebind(`SELECT * FROM session_archive ORDER BY completed_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	return recs, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
