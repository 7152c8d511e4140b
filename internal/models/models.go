// Package models defines the core data structures for Mr. French.
//
// It includes types for conversation channels, tasks, zone state, and the
// shared API response envelope used across modules.
package models

import (
	"errors"
	"time"
)

// ChatChannel identifies one of the three fixed conversational pairings.
type ChatChannel string

const (
	// ChannelGuardianDependent is the direct guardian↔dependent conversation.
	ChannelGuardianDependent ChatChannel = "guardian-dependent"
	// ChannelGuardianMediator is the guardian↔mediator conversation.
	ChannelGuardianMediator ChatChannel = "guardian-mediator"
	// ChannelDependentMediator is the dependent↔mediator conversation.
	ChannelDependentMediator ChatChannel = "dependent-mediator"
)

// Role identifies a conversation participant.
type Role string

const (
	// RoleGuardian is the supervising persona who assigns and authorizes.
	RoleGuardian Role = "guardian"
	// RoleDependent is the persona whose tasks and behavior are tracked.
	RoleDependent Role = "dependent"
	// RoleMediator is the task-managing agent persona.
	RoleMediator Role = "mediator"
)

// Validation constants for input validation
const (
	// MaxTurnLength defines the maximum allowed length for an inbound turn
	MaxTurnLength = 4096
	// MaxDescriptionLength defines the maximum allowed length for a task description
	MaxDescriptionLength = 500
)

// Error variables for better error handling and testability
var (
	ErrEmptyText             = errors.New("text cannot be empty")
	ErrTurnTooLong           = errors.New("text exceeds maximum length")
	ErrInvalidChannel        = errors.New("invalid chat channel")
	ErrInvalidRole           = errors.New("invalid role")
	ErrRoleNotInChannel      = errors.New("role does not participate in channel")
	ErrInvalidZone           = errors.New("invalid zone")
	ErrInvalidTaskStatus     = errors.New("invalid task status")
	ErrTaskNotFound          = errors.New("task not found")
	ErrNeedsAuthorization    = errors.New("zone transition needs guardian authorization")
	ErrConflict              = errors.New("concurrent modification detected")
	ErrCapabilityUnavailable = errors.New("language capability unavailable")
)

// Channels returns the three conversational pairings in a fixed order.
func Channels() []ChatChannel {
	return []ChatChannel{ChannelGuardianDependent, ChannelGuardianMediator, ChannelDependentMediator}
}

// IsValidChannel checks if the given channel is one of the three pairings.
func IsValidChannel(c ChatChannel) bool {
	switch c {
	case ChannelGuardianDependent, ChannelGuardianMediator, ChannelDependentMediator:
		return true
	default:
		return false
	}
}

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleGuardian, RoleDependent, RoleMediator:
		return true
	default:
		return false
	}
}

// ChannelHasRole reports whether the role is one of the channel's two participants.
func ChannelHasRole(c ChatChannel, r Role) bool {
	switch c {
	case ChannelGuardianDependent:
		return r == RoleGuardian || r == RoleDependent
	case ChannelGuardianMediator:
		return r == RoleGuardian || r == RoleMediator
	case ChannelDependentMediator:
		return r == RoleDependent || r == RoleMediator
	default:
		return false
	}
}

// CounterpartRole returns the other participant of the channel.
func CounterpartRole(c ChatChannel, r Role) Role {
	switch c {
	case ChannelGuardianDependent:
		if r == RoleGuardian {
			return RoleDependent
		}
		return RoleGuardian
	case ChannelGuardianMediator:
		if r == RoleGuardian {
			return RoleMediator
		}
		return RoleGuardian
	case ChannelDependentMediator:
		if r == RoleDependent {
			return RoleMediator
		}
		return RoleDependent
	default:
		return ""
	}
}

// ConversationTurn represents one message in a channel's history.
// Turns are immutable once appended and ordering is chronological.
type ConversationTurn struct {
	Channel   ChatChannel `json:"channel"`
	Speaker   Role        `json:"speaker"`
	Recipient Role        `json:"recipient"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// TaskStatus represents the completion status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been started.
	TaskStatusPending TaskStatus = "Pending"
	// TaskStatusInProgress indicates the task is underway.
	TaskStatusInProgress TaskStatus = "InProgress"
	// TaskStatusCompleted indicates the task is done.
	TaskStatusCompleted TaskStatus = "Completed"
)

// IsValidTaskStatus checks if the given task status is supported.
func IsValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// Task represents one assignable unit of work for the dependent.
// Due-date and due-time expressions are free-form ("Today", "6pm", "2025-09-01")
// and are not required to be calendar-exact.
type Task struct {
	ID              string     `json:"id"`
	Description     string     `json:"description"`
	Status          TaskStatus `json:"status"`
	DueDate         string     `json:"due_date,omitempty"`
	DueTime         string     `json:"due_time,omitempty"`
	Reward          string     `json:"reward,omitempty"`
	Recurring       bool       `json:"recurring,omitempty"`
	RecurEvery      string     `json:"recur_every,omitempty"` // e.g. "daily"
	CreatedBy       Role       `json:"created_by"`
	LastRemindedAt  *time.Time `json:"last_reminded_at,omitempty"`
	LastEscalatedAt *time.Time `json:"last_escalated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Zone represents the dependent's behavioral classification.
type Zone string

const (
	// ZoneGreen is the default zone and requires no authorization.
	ZoneGreen Zone = "Green"
	// ZoneRed requires guardian confirmation of a mediator proposal.
	ZoneRed Zone = "Red"
	// ZoneBlue requires explicit guardian authorization.
	ZoneBlue Zone = "Blue"
)

// IsValidZone checks if the given zone is supported.
func IsValidZone(z Zone) bool {
	switch z {
	case ZoneGreen, ZoneRed, ZoneBlue:
		return true
	default:
		return false
	}
}

// ZoneState tracks the dependent's current zone and how it was last changed.
type ZoneState struct {
	Zone         Zone      `json:"zone"`
	Reason       string    `json:"reason,omitempty"`
	AuthorizedBy Role      `json:"authorized_by,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
