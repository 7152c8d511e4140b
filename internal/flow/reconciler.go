package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

// TaskReconciler maps one analyzed intent plus the current task set to exactly
// one reconciliation decision, and records every decision in the analysis log.
type TaskReconciler struct {
	store store.Store
}

// NewTaskReconciler creates a reconciler writing its audit trail to st.
func NewTaskReconciler(st store.Store) *TaskReconciler {
	return &TaskReconciler{store: st}
}

// Reconcile produces the single decision for intent against existing tasks.
// The decision, including NoOp, is appended to the channel's analysis log.
// Reconcile never mutates the store's task records itself.
func (r *TaskReconciler) Reconcile(channel models.ChatChannel, speaker models.Role, input string, intent *models.Intent, existing []models.Task, now time.Time) models.Decision {
	decision := r.decide(speaker, intent, existing, now)
	r.logDecision(channel, input, intent, decision, now)
	return decision
}

func (r *TaskReconciler) decide(speaker models.Role, intent *models.Intent, existing []models.Task, now time.Time) models.Decision {
	if intent == nil || intent.Kind == models.IntentNone {
		return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonNoIntent}
	}
	if intent.Kind == models.IntentSetZone {
		return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonZoneOnly}
	}
	if intent.Kind == models.IntentGetTasks {
		// Answered from the live task list at reply time; nothing to mutate.
		return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonTaskQuery}
	}

	descriptions := make([]string, len(existing))
	for i, t := range existing {
		descriptions[i] = t.Description
	}
	matchIdx, matchScore := bestMatch(intent.TaskDescription, descriptions)

	switch intent.Kind {
	case models.IntentAdd:
		if matchIdx >= 0 && matchScore >= duplicateThreshold {
			// Same task already on record. Callers must phrase this as
			// "already exists", never as "could not identify a task".
			return models.Decision{Kind: models.DecisionDuplicateOf, TaskID: existing[matchIdx].ID}
		}
		if missing := missingAddFields(intent); len(missing) > 0 {
			return models.Decision{Kind: models.DecisionNeedsMoreInfo, MissingFields: missing}
		}
		task := models.Task{
			ID:          uuid.New().String(),
			Description: intent.TaskDescription,
			Status:      models.TaskStatusPending,
			DueDate:     intent.DueDate,
			DueTime:     intent.DueTime,
			Reward:      intent.Reward,
			Recurring:   intent.Recurring,
			RecurEvery:  intent.RecurEvery,
			CreatedBy:   speaker,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if task.Recurring && task.RecurEvery == "" {
			task.RecurEvery = "daily"
		}
		return models.Decision{Kind: models.DecisionCreate, Task: &task}

	case models.IntentUpdate:
		if matchIdx < 0 || matchScore < resolveThreshold {
			return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonNotFound}
		}
		// Augment a copy; the caller's intent must stay untouched.
		updates := &models.TaskUpdates{}
		if intent.Updates != nil {
			*updates = *intent.Updates
		}
		if updates.DueDate == nil && intent.DueDate != "" {
			updates.DueDate = &intent.DueDate
		}
		if updates.DueTime == nil && intent.DueTime != "" {
			updates.DueTime = &intent.DueTime
		}
		if updates.Reward == nil && intent.Reward != "" {
			updates.Reward = &intent.Reward
		}
		return models.Decision{Kind: models.DecisionUpdate, TaskID: existing[matchIdx].ID, Updates: updates}

	case models.IntentComplete:
		if matchIdx < 0 || matchScore < resolveThreshold {
			return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonNotFound}
		}
		return models.Decision{Kind: models.DecisionComplete, TaskID: existing[matchIdx].ID}

	case models.IntentDelete:
		if matchIdx < 0 || matchScore < resolveThreshold {
			return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonNotFound}
		}
		// Deleting any instance of a recurring task removes the series.
		return models.Decision{Kind: models.DecisionDelete, TaskID: existing[matchIdx].ID}

	default:
		return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonNoIntent}
	}
}

// missingAddFields lists the scheduling fields an add intent still needs.
// Recurring tasks carry an interval instead of a single due date.
func missingAddFields(intent *models.Intent) []string {
	if intent.Recurring {
		return nil
	}
	var missing []string
	if intent.DueDate == "" {
		missing = append(missing, "due_date")
	}
	if intent.DueTime == "" {
		missing = append(missing, "due_time")
	}
	return missing
}

func (r *TaskReconciler) logDecision(channel models.ChatChannel, input string, intent *models.Intent, decision models.Decision, now time.Time) {
	entry := models.AnalysisLogEntry{
		Channel:      channel,
		Input:        input,
		IntentKind:   models.IntentNone,
		DecisionKind: decision.Kind,
		CreatedAt:    now,
	}
	if intent != nil {
		entry.IntentKind = intent.Kind
	}
	switch {
	case decision.TaskID != "":
		entry.MatchedTaskID = decision.TaskID
	case decision.Task != nil:
		entry.MatchedTaskID = decision.Task.ID
	}
	switch decision.Kind {
	case models.DecisionNoOp:
		entry.Detail = decision.Reason
	case models.DecisionNeedsMoreInfo:
		entry.Detail = "missing: " + strings.Join(decision.MissingFields, ", ")
	case models.DecisionCreate:
		entry.Detail = fmt.Sprintf("created %q", decision.Task.Description)
	}
	if err := r.store.AppendAnalysisLog(entry); err != nil {
		slog.Warn("TaskReconciler.logDecision: failed to append analysis log",
			"error", err, "channel", channel, "decision", decision.Kind)
	}
}
