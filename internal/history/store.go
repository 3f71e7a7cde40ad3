// Package history archives finished executions in a local SQLite database
// so the run history survives server restarts.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dkoosis/cukedash/internal/execution"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// ErrNotFound is returned by Get for an unknown execution id.
var ErrNotFound = errors.New("execution not archived")

// Store is the SQLite execution archive. It implements execution.Archiver.
type Store struct {
	db *sql.DB
}

var _ execution.Archiver = (*Store)(nil)

// Open creates or opens the archive at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Save upserts a finished execution together with its full log.
func (s *Store) Save(ctx context.Context, rec execution.Record) error {
	modules, err := json.Marshal(rec.Modules)
	if err != nil {
		return fmt.Errorf("encode modules: %w", err)
	}
	selected, err := json.Marshal(rec.Selected)
	if err != nil {
		return fmt.Errorf("encode selected scenarios: %w", err)
	}
	tail, err := json.Marshal(rec.LogTail)
	if err != nil {
		return fmt.Errorf("encode log tail: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var endTime sql.NullString
	if rec.EndTime != nil {
		endTime = sql.NullString{String: formatTime(*rec.EndTime), Valid: true}
	}
	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions
		(id, modules, selected, tags, tag_expression, headless, status, start_time, end_time, exit_code, stop_phase, log_tail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			exit_code = excluded.exit_code,
			stop_phase = excluded.stop_phase,
			log_tail = excluded.log_tail
	`,
		rec.ID, string(modules), string(selected), rec.Tags, rec.TagExpression, rec.Headless,
		string(rec.Status), formatTime(rec.StartTime), endTime, exitCode, string(rec.StopPhase), string(tail),
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_logs WHERE execution_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear logs %s: %w", rec.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_logs (execution_id, seq, channel, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()
	for i, entry := range rec.Logs {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, string(entry.Channel), entry.Message, formatTime(entry.Timestamp)); err != nil {
			return fmt.Errorf("insert log %s/%d: %w", rec.ID, i, err)
		}
	}

	return tx.Commit()
}

const selectColumns = `id, modules, selected, tags, tag_expression, headless, status, start_time, end_time, exit_code, stop_phase, log_tail`

// List returns archived executions newest first, without full logs.
// A non-positive limit returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]execution.Record, error) {
	query := `SELECT ` + selectColumns + ` FROM executions ORDER BY start_time DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var recs []execution.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Get returns one archived execution including its full log.
func (s *Store) Get(ctx context.Context, id string) (execution.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return execution.Record{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, message, timestamp FROM execution_logs
		WHERE execution_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return execution.Record{}, fmt.Errorf("load logs %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var channel, message, ts string
		if err := rows.Scan(&channel, &message, &ts); err != nil {
			return execution.Record{}, err
		}
		rec.Logs = append(rec.Logs, execution.LogEntry{
			Channel:   execution.Channel(channel),
			Message:   message,
			Timestamp: parseTime(ts),
		})
	}
	return rec, rows.Err()
}

// Prune deletes all but the newest keep executions and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions WHERE id NOT IN (
			SELECT id FROM executions ORDER BY start_time DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (execution.Record, error) {
	var (
		rec                         execution.Record
		modules, startTime          string
		selected, tags, phase, tail sql.NullString
		status                      string
		endTime                     sql.NullString
		exitCode                    sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &modules, &selected, &tags, &rec.TagExpression, &rec.Headless,
		&status, &startTime, &endTime, &exitCode, &phase, &tail); err != nil {
		return execution.Record{}, err
	}

	rec.Status = execution.Status(status)
	rec.Tags = tags.String
	rec.StopPhase = execution.StopPhase(phase.String)
	rec.StartTime = parseTime(startTime)
	if endTime.Valid {
		t := parseTime(endTime.String)
		rec.EndTime = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if err := json.Unmarshal([]byte(modules), &rec.Modules); err != nil {
		return execution.Record{}, fmt.Errorf("decode modules %s: %w", rec.ID, err)
	}
	if selected.Valid && selected.String != "null" {
		if err := json.Unmarshal([]byte(selected.String), &rec.Selected); err != nil {
			return execution.Record{}, fmt.Errorf("decode selected scenarios %s: %w", rec.ID, err)
		}
	}
	if tail.Valid && tail.String != "null" {
		if err := json.Unmarshal([]byte(tail.String), &rec.LogTail); err != nil {
			return execution.Record{}, fmt.Errorf("decode log tail %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
