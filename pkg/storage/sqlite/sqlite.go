package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Options tunes the connection pragmas.
type Options struct {
	JournalMode string
	Synchronous string
}

var (
	journalModes = map[string]bool{"DELETE": true, "TRUNCATE": true, "PERSIST": true, "MEMORY": true, "WAL": true, "OFF": true}
	syncModes    = map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}
)

// Store owns the SQLite journal for a profile.
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// LogEntry is one message forwarded by the web front-end through app.log.
type LogEntry struct {
	ID        int64
	Level     string
	Message   string
	Meta      string
	CreatedAt int64
}

// CallEntry records one dispatched bridge request.
type CallEntry struct {
	ID         int64
	RequestID  string
	Method     string
	Code       string
	DurationUs int64
	CreatedAt  int64
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path with default pragmas.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions initializes a SQLite database at path.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	opts.JournalMode = strings.ToUpper(strings.TrimSpace(opts.JournalMode))
	opts.Synchronous = strings.ToUpper(strings.TrimSpace(opts.Synchronous))
	if opts.JournalMode == "" {
		opts.JournalMode = "WAL"
	}
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	if !journalModes[opts.JournalMode] {
		return nil, fmt.Errorf("unsupported journal mode %q", opts.JournalMode)
	}
	if !syncModes[opts.Synchronous] {
		return nil, fmt.Errorf("unsupported synchronous mode %q", opts.Synchronous)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, opts: opts}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = " + s.opts.JournalMode + ";",
		"PRAGMA synchronous = " + s.opts.Synchronous + ";",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS web_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL CHECK (level IN ('info','warn','error')),
			message TEXT NOT NULL,
			meta TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_web_logs_created ON web_logs(created_at);`,
		`CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			method TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			duration_us INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_method ON calls(method COLLATE NOCASE);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// AppendLog stores a web log entry. Level must be info, warn or error.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) (int64, error) {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	var meta *string
	if e.Meta != "" {
		meta = &e.Meta
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO web_logs(level, message, meta, created_at) VALUES (?, ?, ?, ?);`,
		e.Level, e.Message, meta, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	return res.LastInsertId()
}

// RecentLogs returns up to limit entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, message, meta, created_at
		FROM web_logs
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e    LogEntry
			meta *string
		)
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if meta != nil {
			e.Meta = *meta
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordCall stores a dispatch record.
func (s *Store) RecordCall(ctx context.Context, e CallEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls(request_id, method, code, duration_us, created_at) VALUES (?, ?, ?, ?, ?);`,
		e.RequestID, e.Method, e.Code, e.DurationUs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// RecentCalls returns up to limit call records, newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]CallEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, method, code, duration_us, created_at
		FROM calls
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallEntry
	for rows.Next() {
		var e CallEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Method, &e.Code, &e.DurationUs, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
