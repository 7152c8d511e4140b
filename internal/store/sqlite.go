// Package store provides storage backends for Mr. French.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/hareem123931/mr-french/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AppendTurn appends a turn to the channel's history.
func (s *SQLiteStore) AppendTurn(t models.ConversationTurn) error {
	_, err := s.db.Exec(`INSERT INTO conversation_turns (channel, speaker, recipient, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.Channel, t.Speaker, t.Recipient, t.Content, t.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AppendTurn failed", "error", err, "channel", t.Channel)
		return fmt.Errorf("failed to insert turn for %s: %w", t.Channel, err)
	}
	return nil
}

// ListTurns returns the channel's full history in chronological order.
func (s *SQLiteStore) ListTurns(channel models.ChatChannel) ([]models.ConversationTurn, error) {
	rows, err := s.db.Query(`SELECT channel, speaker, recipient, content, created_at FROM conversation_turns WHERE channel = ? ORDER BY id`, channel)
	if err != nil {
		slog.Error("SQLiteStore ListTurns query failed", "error", err, "channel", channel)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		if err := rows.Scan(&t.Channel, &t.Speaker, &t.Recipient, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(t models.Task) error {
	_, err := s.db.Exec(`INSERT INTO tasks (id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, t.Status, nilIfEmpty(t.DueDate), nilIfEmpty(t.DueTime), nilIfEmpty(t.Reward),
		t.Recurring, nilIfEmpty(t.RecurEvery), t.CreatedBy, t.LastRemindedAt, t.LastEscalatedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateTask failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task with the given id, or nil when absent.
func (s *SQLiteStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at FROM tasks WHERE id = ?`, id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTask failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTask applies mutate under an optimistic updated_at check.
func (s *SQLiteStore) UpdateTask(id string, observedUpdatedAt time.Time, mutate func(*models.Task)) (*models.Task, error) {
	current, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, models.ErrTaskNotFound
	}
	mutate(current)
	current.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`UPDATE tasks SET description = ?, status = ?, due_date = ?, due_time = ?, reward = ?, recurring = ?, recur_every = ?, last_reminded_at = ?, last_escalated_at = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		current.Description, current.Status, nilIfEmpty(current.DueDate), nilIfEmpty(current.DueTime), nilIfEmpty(current.Reward),
		current.Recurring, nilIfEmpty(current.RecurEvery), current.LastRemindedAt, current.LastEscalatedAt, current.UpdatedAt,
		id, observedUpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore UpdateTask failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows for task %s: %w", id, err)
	}
	if affected == 0 {
		slog.Warn("SQLiteStore UpdateTask optimistic check failed", "id", id)
		return nil, models.ErrConflict
	}
	return current, nil
}

// DeleteTask removes the task with the given id.
func (s *SQLiteStore) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteTask failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for task %s: %w", id, err)
	}
	if affected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// ListTasks returns tasks, optionally filtered by status, newest update first.
func (s *SQLiteStore) ListTasks(status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListTasks query failed", "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return tasks, nil
}

// GetZoneState returns the stored zone state, or nil when never set.
func (s *SQLiteStore) GetZoneState() (*models.ZoneState, error) {
	row := s.db.QueryRow(`SELECT zone, reason, authorized_by, changed_at FROM zone_state WHERE id = 1`)
	var z models.ZoneState
	var reason, authorizedBy sql.NullString
	err := row.Scan(&z.Zone, &reason, &authorizedBy, &z.ChangedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetZoneState failed", "error", err)
		return nil, fmt.Errorf("failed to get zone state: %w", err)
	}
	z.Reason = reason.String
	z.AuthorizedBy = models.Role(authorizedBy.String)
	return &z, nil
}

// SetZoneState overwrites the stored zone state.
func (s *SQLiteStore) SetZoneState(z models.ZoneState) error {
	_, err := s.db.Exec(`INSERT INTO zone_state (id, zone, reason, authorized_by, changed_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET zone = excluded.zone, reason = excluded.reason, authorized_by = excluded.authorized_by, changed_at = excluded.changed_at`,
		z.Zone, nilIfEmpty(z.Reason), nilIfEmpty(string(z.AuthorizedBy)), z.ChangedAt)
	if err != nil {
		slog.Error("SQLiteStore SetZoneState failed", "error", err, "zone", z.Zone)
		return fmt.Errorf("failed to set zone state: %w", err)
	}
	return nil
}

// AppendAnalysisLog appends one audit-trail entry.
func (s *SQLiteStore) AppendAnalysisLog(e models.AnalysisLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO analysis_logs (channel, input, intent_kind, matched_task_id, decision_kind, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Channel, e.Input, e.IntentKind, nilIfEmpty(e.MatchedTaskID), e.DecisionKind, nilIfEmpty(e.Detail), e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendAnalysisLog failed", "error", err, "channel", e.Channel)
		return fmt.Errorf("failed to insert analysis log: %w", err)
	}
	return nil
}

// ListAnalysisLogs returns audit entries, optionally filtered by channel.
func (s *SQLiteStore) ListAnalysisLogs(channel models.ChatChannel) ([]models.AnalysisLogEntry, error) {
	query := `SELECT id, channel, input, intent_kind, matched_task_id, decision_kind, detail, created_at FROM analysis_logs`
	var args []interface{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListAnalysisLogs query failed", "error", err)
		return nil, fmt.Errorf("failed to query analysis logs: %w", err)
	}
	defer rows.Close()

	var entries []models.AnalysisLogEntry
	for rows.Next() {
		e, err := scanAnalysisLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analysis log rows: %w", err)
	}
	return entries, nil
}

// ResetAll clears all tables in one transaction.
func (s *SQLiteStore) ResetAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	for _, stmt := range []string{
		`DELETE FROM conversation_turns`,
		`DELETE FROM tasks`,
		`DELETE FROM zone_state`,
		`DELETE FROM analysis_logs`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			slog.Error("SQLiteStore ResetAll failed", "error", err, "stmt", stmt)
			return fmt.Errorf("failed to reset store: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	slog.Info("SQLiteStore ResetAll completed")
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
