// ABOUTME: SQLite implementation of the JournalStore interface using modernc.org/sqlite
// ABOUTME: Provides command/session journal persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// tsLayout is fixed-width so timestamps sort lexically
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements JournalStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_log (
			id TEXT PRIMARY KEY,
			tool TEXT,
			command TEXT NOT NULL,
			params_json TEXT,
			outcome TEXT NOT NULL,
			error TEXT,
			connection_reset INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_log_created ON command_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_command_log_command ON command_log(command, created_at);

		CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			device_id TEXT,
			detail TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_created ON session_events(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// AppendCommand records a command invocation. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendCommand(ctx context.Context, rec *CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO command_log (id, tool, command, params_json, outcome, error, connection_reset, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		nullIfEmpty(rec.Tool),
		rec.Command,
		nullIfEmpty(rec.ParamsJSON),
		rec.Outcome,
		nullIfEmpty(rec.Error),
		rec.ConnectionReset,
		rec.Duration.Milliseconds(),
		rec.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	s.logger.Debug("recorded command",
		"id", rec.ID,
		"command", rec.Command,
		"outcome", rec.Outcome,
	)
	return nil
}

const commandColumns = `id, tool, command, params_json, outcome, error, connection_reset, duration_ms, created_at`

// ListCommands returns command records matching the filter, newest first.
func (s *SQLiteStore) ListCommands(ctx context.Context, f CommandFilter) ([]*CommandRecord, error) {
	var since *string
	if f.Since != nil {
		str := f.Since.UTC().Format(tsLayout)
		since = &str
	}
	tool := nullIfEmpty(f.Tool)
	command := nullIfEmpty(f.Command)
	outcome := nullIfEmpty(f.Outcome)

	query := `
		SELECT ` + commandColumns + `
		FROM command_log
		WHERE (? IS NULL OR tool = ?)
		  AND (? IS NULL OR command = ?)
		  AND (? IS NULL OR outcome = ?)
		  AND (? IS NULL OR created_at >= ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		tool, tool,
		command, command,
		outcome, outcome,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*CommandRecord{}
	for rows.Next() {
		rec, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}

// GetCommand returns a single command record by ID.
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*CommandRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM command_log WHERE id = ?`, id)
	rec, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// scanCommand scans a row into a CommandRecord.
func scanCommand(scanner interface{ Scan(dest ...any) error }) (*CommandRecord, error) {
	var rec CommandRecord
	var tool, params, errText sql.NullString
	var durationMS int64
	var createdAt string

	if err := scanner.Scan(
		&rec.ID,
		&tool,
		&rec.Command,
		&params,
		&rec.Outcome,
		&errText,
		&rec.ConnectionReset,
		&durationMS,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command record: %w", err)
	}

	rec.Tool = tool.String
	rec.ParamsJSON = params.String
	rec.Error = errText.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	var err error
	rec.CreatedAt, err = time.Parse(tsLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &rec, nil
}

// AppendSessionEvent records a session transition. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendSessionEvent(ctx context.Context, ev *SessionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO session_events (id, kind, device_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.Kind,
		nullIfEmpty(ev.DeviceID),
		nullIfEmpty(ev.Detail),
		ev.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}

	s.logger.Debug("recorded session event", "id", ev.ID, "kind", ev.Kind)
	return nil
}

// ListSessionEvents returns session events matching the filter, newest first.
func (s *SQLiteStore) ListSessionEvents(ctx context.Context, f SessionEventFilter) ([]*SessionEvent, error) {
	var since *string
	if f.Since != nil {
		str := f.Since.UTC().Format(tsLayout)
		since = &str
	}
	kind := nullIfEmpty(f.Kind)

	query := `
		SELECT id, kind, device_id, detail, created_at
		FROM session_events
		WHERE (? IS NULL OR kind = ?)
		  AND (? IS NULL OR created_at >= ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, kind, kind, since, since, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []*SessionEvent{}
	for rows.Next() {
		var ev SessionEvent
		var deviceID, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Kind, &deviceID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		ev.DeviceID = deviceID.String
		ev.Detail = detail.String
		ev.CreatedAt, err = time.Parse(tsLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}

// nullIfEmpty maps "" to a SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
