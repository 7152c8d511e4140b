package store

import (
	"database/sql"
	"fmt"

	"github.com/hareem123931/mr-french/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanTask scans a Task from sql.Rows.
func scanTask(rows *sql.Rows) (models.Task, error) {
	var t models.Task
	var dueDate, dueTime, reward, recurEvery sql.NullString
	var lastReminded, lastEscalated sql.NullTime
	err := rows.Scan(
		&t.ID, &t.Description, &t.Status, &dueDate, &dueTime, &reward, &t.Recurring, &recurEvery,
		&t.CreatedBy, &lastReminded, &lastEscalated, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, fmt.Errorf("scan task failed: %w", err)
	}
	t.DueDate = dueDate.String
	t.DueTime = dueTime.String
	t.Reward = reward.String
	t.RecurEvery = recurEvery.String
	if lastReminded.Valid {
		t.LastRemindedAt = &lastReminded.Time
	}
	if lastEscalated.Valid {
		t.LastEscalatedAt = &lastEscalated.Time
	}
	return t, nil
}

// scanTaskRow scans a Task from a single sql.Row.
func scanTaskRow(row *sql.Row) (models.Task, error) {
	var t models.Task
	var dueDate, dueTime, reward, recurEvery sql.NullString
	var lastReminded, lastEscalated sql.NullTime
	err := row.Scan(
		&t.ID, &t.Description, &t.Status, &dueDate, &dueTime, &reward, &t.Recurring, &recurEvery,
		&t.CreatedBy, &lastReminded, &lastEscalated, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.DueDate = dueDate.String
	t.DueTime = dueTime.String
	t.Reward = reward.String
	t.RecurEvery = recurEvery.String
	if lastReminded.Valid {
		t.LastRemindedAt = &lastReminded.Time
	}
	if lastEscalated.Valid {
		t.LastEscalatedAt = &lastEscalated.Time
	}
	return t, nil
}

// scanAnalysisLog scans an AnalysisLogEntry from sql.Rows.
func scanAnalysisLog(rows *sql.Rows) (models.AnalysisLogEntry, error) {
	var e models.AnalysisLogEntry
	var matchedTaskID, detail sql.NullString
	err := rows.Scan(&e.ID, &e.Channel, &e.Input, &e.IntentKind, &matchedTaskID, &e.DecisionKind, &detail, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan analysis log failed: %w", err)
	}
	e.MatchedTaskID = matchedTaskID.String
	e.Detail = detail.String
	return e, nil
}
