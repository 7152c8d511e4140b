// Package models defines intent and reconciliation decision types.
//
// Intent is a tagged variant produced by the analyzer boundary; nothing past
// that boundary branches on raw utterance text.
package models

import "time"

// IntentKind identifies the task-management intent of an utterance.
type IntentKind string

const (
	// IntentAdd requests creation of a new task.
	IntentAdd IntentKind = "add"
	// IntentUpdate requests changes to an existing task's fields.
	IntentUpdate IntentKind = "update"
	// IntentComplete marks an existing task finished.
	IntentComplete IntentKind = "complete"
	// IntentDelete removes an existing task (whole series when recurring).
	IntentDelete IntentKind = "delete"
	// IntentSetZone requests a behavioral zone change.
	IntentSetZone IntentKind = "set_zone"
	// IntentGetTasks asks for the current task list.
	IntentGetTasks IntentKind = "get_tasks"
	// IntentNone means no task-management intent was detected.
	IntentNone IntentKind = "none"
)

// IsValidIntentKind checks if the given intent kind is supported.
func IsValidIntentKind(k IntentKind) bool {
	switch k {
	case IntentAdd, IntentUpdate, IntentComplete, IntentDelete, IntentSetZone, IntentGetTasks, IntentNone:
		return true
	default:
		return false
	}
}

// TaskUpdates holds the optional field changes carried by an update intent.
// Nil pointers mean "leave unchanged".
type TaskUpdates struct {
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	DueDate     *string     `json:"due_date,omitempty"`
	DueTime     *string     `json:"due_time,omitempty"`
	Reward      *string     `json:"reward,omitempty"`
}

// Intent is the structured result of analyzing one utterance.
type Intent struct {
	Kind            IntentKind   `json:"kind"`
	TaskDescription string       `json:"task_description,omitempty"`
	DueDate         string       `json:"due_date,omitempty"`
	DueTime         string       `json:"due_time,omitempty"`
	Reward          string       `json:"reward,omitempty"`
	Recurring       bool         `json:"recurring,omitempty"`
	RecurEvery      string       `json:"recur_every,omitempty"`
	Updates         *TaskUpdates `json:"updates,omitempty"`
	Zone            Zone         `json:"zone,omitempty"`
	Confidence      float64      `json:"confidence,omitempty"`
	Reasoning       string       `json:"reasoning,omitempty"`
}

// DecisionKind identifies the reconciliation outcome for an intent.
type DecisionKind string

const (
	// DecisionCreate creates a new task record.
	DecisionCreate DecisionKind = "create"
	// DecisionUpdate mutates fields of an existing task.
	DecisionUpdate DecisionKind = "update"
	// DecisionComplete transitions an existing task to Completed.
	DecisionComplete DecisionKind = "complete"
	// DecisionDelete removes a task, or the whole series when recurring.
	DecisionDelete DecisionKind = "delete"
	// DecisionDuplicateOf means the described task already exists.
	DecisionDuplicateOf DecisionKind = "duplicate_of"
	// DecisionNeedsMoreInfo means required fields are missing from an add.
	DecisionNeedsMoreInfo DecisionKind = "needs_more_info"
	// DecisionNoOp means no store mutation applies.
	DecisionNoOp DecisionKind = "noop"
)

// NoOp reason codes. The duplicate signal ("already exists") must never be
// conflated with the not-found signal ("could not identify a task").
const (
	NoOpReasonNoIntent    = "no task intent"
	NoOpReasonNotFound    = "could not identify a task"
	NoOpReasonZoneOnly    = "zone instruction, no task change"
	NoOpReasonTaskQuery   = "task listing requested"
	NoOpReasonApplyFailed = "could not record the change"
)

// Decision is the single reconciliation outcome for one intent.
type Decision struct {
	Kind          DecisionKind `json:"kind"`
	Task          *Task        `json:"task,omitempty"`           // populated for create
	TaskID        string       `json:"task_id,omitempty"`        // target of update/complete/delete/duplicate
	Updates       *TaskUpdates `json:"updates,omitempty"`        // populated for update
	MissingFields []string     `json:"missing_fields,omitempty"` // populated for needs_more_info
	Reason        string       `json:"reason,omitempty"`         // populated for noop
}

// TriggerReason codes attached to reminder and escalation events.
const (
	TriggerReasonDueSoon      = "due-soon"
	TriggerReasonPendingCount = "pending-count"
	TriggerReasonRedZone      = "red-zone"
	TriggerReasonUnresponsive = "unresponsive"
)

// TriggerEvent describes one reminder or escalation produced by a scheduler
// pass. Events are ephemeral: produced and consumed within a single pass.
type TriggerEvent struct {
	Target      Role      `json:"target"`
	TaskID      string    `json:"task_id,omitempty"` // empty for pure zone escalations
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	GeneratedAt time.Time `json:"generated_at"`
}

// AnalysisLogEntry is one audit-trail record of a reconciliation decision.
// Every decision, including NoOp, is logged against its originating channel.
type AnalysisLogEntry struct {
	ID            int64        `json:"id,omitempty"`
	Channel       ChatChannel  `json:"channel"`
	Input         string       `json:"input"`
	IntentKind    IntentKind   `json:"intent_kind"`
	MatchedTaskID string       `json:"matched_task_id,omitempty"`
	DecisionKind  DecisionKind `json:"decision_kind"`
	Detail        string       `json:"detail,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
