// Package store provides storage backends for Mr. French.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/hareem123931/mr-french/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AppendTurn appends a turn to the channel's history.
func (s *PostgresStore) AppendTurn(t models.ConversationTurn) error {
	_, err := s.db.Exec(`INSERT INTO conversation_turns (channel, speaker, recipient, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.Channel, t.Speaker, t.Recipient, t.Content, t.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AppendTurn failed", "error", err, "channel", t.Channel)
		return fmt.Errorf("failed to insert turn for %s: %w", t.Channel, err)
	}
	return nil
}

// ListTurns returns the channel's full history in chronological order.
func (s *PostgresStore) ListTurns(channel models.ChatChannel) ([]models.ConversationTurn, error) {
	rows, err := s.db.Query(`SELECT channel, speaker, recipient, content, created_at FROM conversation_turns WHERE channel = $1 ORDER BY id`, channel)
	if err != nil {
		slog.Error("PostgresStore ListTurns query failed", "error", err, "channel", channel)
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
func (s *PostgresStore) CreateTask(t models.Task) error {
	_, err := s.db.Exec(`INSERT INTO tasks (id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Description, t.Status, nilIfEmpty(t.DueDate), nilIfEmpty(t.DueTime), nilIfEmpty(t.Reward),
		t.Recurring, nilIfEmpty(t.RecurEvery), t.CreatedBy, t.LastRemindedAt, t.LastEscalatedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateTask failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task with the given id, or nil when absent.
func (s *PostgresStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at FROM tasks WHERE id = $1`, id)
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTask failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTask applies mutate under an optimistic updated_at check.
func (s *PostgresStore) UpdateTask(id string, observedUpdatedAt time.Time, mutate func(*models.Task)) (*models.Task, error) {
	current, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, models.ErrTaskNotFound
	}
	mutate(current)
	current.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`UPDATE tasks SET description = $1, status = $2, due_date = $3, due_time = $4, reward = $5, recurring = $6, recur_every = $7, last_reminded_at = $8, last_escalated_at = $9, updated_at = $10
		WHERE id = $11 AND updated_at = $12`,
		current.Description, current.Status, nilIfEmpty(current.DueDate), nilIfEmpty(current.DueTime), nilIfEmpty(current.Reward),
		current.Recurring, nilIfEmpty(current.RecurEvery), current.LastRemindedAt, current.LastEscalatedAt, current.UpdatedAt,
		id, observedUpdatedAt)
	if err != nil {
		slog.Error("PostgresStore UpdateTask failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows for task %s: %w", id, err)
	}
	if affected == 0 {
		slog.Warn("PostgresStore UpdateTask optimistic check failed", "id", id)
		return nil, models.ErrConflict
	}
	return current, nil
}

// DeleteTask removes the task with the given id.
func (s *PostgresStore) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteTask failed", "error", err, "id", id)
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
func (s *PostgresStore) ListTasks(status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT id, description, status, due_date, due_time, reward, recurring, recur_every, created_by, last_reminded_at, last_escalated_at, created_at, updated_at FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListTasks query failed", "error", err)
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
func (s *PostgresStore) GetZoneState() (*models.ZoneState, error) {
	row := s.db.QueryRow(`SELECT zone, reason, authorized_by, changed_at FROM zone_state WHERE id = 1`)
	var z models.ZoneState
	var reason, authorizedBy sql.NullString
	err := row.Scan(&z.Zone, &reason, &authorizedBy, &z.ChangedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetZoneState failed", "error", err)
		return nil, fmt.Errorf("failed to get zone state: %w", err)
	}
	z.Reason = reason.String
	z.AuthorizedBy = models.Role(authorizedBy.String)
	return &z, nil
}

// SetZoneState overwrites the stored zone state.
func (s *PostgresStore) SetZoneState(z models.ZoneState) error {
	_, err := s.db.Exec(`INSERT INTO zone_state (id, zone, reason, authorized_by, changed_at) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET zone = EXCLUDED.zone, reason = EXCLUDED.reason, authorized_by = EXCLUDED.authorized_by, changed_at = EXCLUDED.changed_at`,
		z.Zone, nilIfEmpty(z.Reason), nilIfEmpty(string(z.AuthorizedBy)), z.ChangedAt)
	if err != nil {
		slog.Error("PostgresStore SetZoneState failed", "error", err, "zone", z.Zone)
		return fmt.Errorf("failed to set zone state: %w", err)
	}
	return nil
}

// AppendAnalysisLog appends one audit-trail entry.
func (s *PostgresStore) AppendAnalysisLog(e models.AnalysisLogEntry) error {
	_, err := s.db.Exec(`INSERT INTO analysis_logs (channel, input, intent_kind, matched_task_id, decision_kind, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Channel, e.Input, e.IntentKind, nilIfEmpty(e.MatchedTaskID), e.DecisionKind, nilIfEmpty(e.Detail), e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AppendAnalysisLog failed", "error", err, "channel", e.Channel)
		return fmt.Errorf("failed to insert analysis log: %w", err)
	}
	return nil
}

// ListAnalysisLogs returns audit entries, optionally filtered by channel.
func (s *PostgresStore) ListAnalysisLogs(channel models.ChatChannel) ([]models.AnalysisLogEntry, error) {
	query := `SELECT id, channel, input, intent_kind, matched_task_id, decision_kind, detail, created_at FROM analysis_logs`
	var args []interface{}
	if channel != "" {
		query += ` WHERE channel = $1`
		args = append(args, channel)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListAnalysisLogs query failed", "error", err)
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
func (s *PostgresStore) ResetAll() error {
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
			slog.Error("PostgresStore ResetAll failed", "error", err, "stmt", stmt)
			return fmt.Errorf("failed to reset store: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	slog.Info("PostgresStore ResetAll completed")
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
