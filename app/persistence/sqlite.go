// Package persistence provides local storage for the harness. The SQLite store keeps the flag
// key-value entry and the history of vitals snapshots, the memory store is a map-backed key-value
// backend for tests and storage-less runs.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// ErrNotFound returned when a key is not stored
var ErrNotFound = errors.New("not found")

// Snapshot is a persisted vitals snapshot with the flags active at the time and host load
type Snapshot struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source"`      // probe, ingest or manual
	Flags      []string  `json:"flags"`       // active flags
	Metrics    string    `json:"metrics"`     // json-encoded vitals snapshot
	CPUPercent float64   `json:"cpu_percent"` // host cpu load
	MemPercent float64   `json:"mem_percent"` // host memory usage
}

type snapshotRow struct {
	ID         int64   `db:"id"`
	CreatedAt  int64   `db:"created_at"`
	Source     string  `db:"source"`
	Flags      string  `db:"flags"`
	Metrics    string  `db:"metrics"`
	CPUPercent float64 `db:"cpu_percent"`
	MemPercent float64 `db:"mem_percent"`
}

// SQLiteStore implements persistence using SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and creates the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	res := &SQLiteStore{db: db}
	if err := res.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			source TEXT NOT NULL,
			flags TEXT NOT NULL,
			metrics TEXT NOT NULL,
			cpu_percent REAL DEFAULT 0,
			mem_percent REAL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Get returns the value stored for key, ErrNotFound if missing
func (s *SQLiteStore) Get(key string) (string, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, nil
}

// Set stores value for key, replacing the previous one
func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// SaveSnapshot stores a snapshot record and returns its id
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	row := snapshotRow{
		CreatedAt:  snap.CreatedAt.UnixMilli(),
		Source:     snap.Source,
		Flags:      joinFlags(snap.Flags),
		Metrics:    snap.Metrics,
		CPUPercent: snap.CPUPercent,
		MemPercent: snap.MemPercent,
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO snapshots (created_at, source, flags, metrics, cpu_percent, mem_percent)
		VALUES (:created_at, :source, :flags, :metrics, :cpu_percent, :mem_percent)`, row)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}
	return id, nil
}

// Snapshots returns up to limit most recent snapshots, newest first
func (s *SQLiteStore) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []snapshotRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT id, created_at, source, flags, metrics, cpu_percent, mem_percent
		FROM snapshots ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	res := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		res = append(res, Snapshot{
			ID:         r.ID,
			CreatedAt:  time.UnixMilli(r.CreatedAt),
			Source:     r.Source,
			Flags:      splitFlags(r.Flags),
			Metrics:    r.Metrics,
			CPUPercent: r.CPUPercent,
			MemPercent: r.MemPercent,
		})
	}
	return res, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
