package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

// Scheduler pacing defaults.
const (
	// DefaultDueLookahead is how far ahead a task counts as due-soon.
	DefaultDueLookahead = 24 * time.Hour
	// DefaultReminderSpacing is the minimum gap between reminders per task.
	DefaultReminderSpacing = 4 * time.Hour
	// DefaultEscalationSpacing rate-limits guardian escalations.
	DefaultEscalationSpacing = 6 * time.Hour
	// DefaultSilenceTimeout is how long dependent silence after a reminder
	// counts as unresponsive.
	DefaultSilenceTimeout = 8 * time.Hour
)

// TurnInjector delivers a trigger event as a synthetic mediator-initiated
// turn, so scheduler output flows through the same reply path as live turns.
type TurnInjector interface {
	DeliverEvent(ctx context.Context, ev models.TriggerEvent) (*models.ConversationTurn, error)
}

// FollowupScheduler periodically scans tasks and zone state, producing
// reminder and escalation events and resetting recurring tasks at day
// boundaries. Driven externally by a timer.
type FollowupScheduler struct {
	store    store.Store
	injector TurnInjector

	lookahead         time.Duration
	reminderSpacing   time.Duration
	escalationSpacing time.Duration
	silenceTimeout    time.Duration
	pendingThreshold  int

	mu            sync.Mutex
	lastEscalated time.Time
}

// SchedulerOption configures a FollowupScheduler.
type SchedulerOption func(*FollowupScheduler)

// WithDueLookahead sets the due-soon window.
func WithDueLookahead(d time.Duration) SchedulerOption {
	return func(f *FollowupScheduler) { f.lookahead = d }
}

// WithReminderSpacing sets the minimum per-task reminder gap.
func WithReminderSpacing(d time.Duration) SchedulerOption {
	return func(f *FollowupScheduler) { f.reminderSpacing = d }
}

// WithEscalationSpacing sets the minimum gap between guardian escalations.
func WithEscalationSpacing(d time.Duration) SchedulerOption {
	return func(f *FollowupScheduler) { f.escalationSpacing = d }
}

// WithSilenceTimeout sets the dependent-unresponsive timeout.
func WithSilenceTimeout(d time.Duration) SchedulerOption {
	return func(f *FollowupScheduler) { f.silenceTimeout = d }
}

// WithSchedulerPendingThreshold overrides the pending-count escalation trigger.
func WithSchedulerPendingThreshold(n int) SchedulerOption {
	return func(f *FollowupScheduler) { f.pendingThreshold = n }
}

// NewFollowupScheduler creates a scheduler scanning st and delivering events
// through injector.
func NewFollowupScheduler(st store.Store, injector TurnInjector, opts ...SchedulerOption) *FollowupScheduler {
	f := &FollowupScheduler{
		store:             st,
		injector:          injector,
		lookahead:         DefaultDueLookahead,
		reminderSpacing:   DefaultReminderSpacing,
		escalationSpacing: DefaultEscalationSpacing,
		silenceTimeout:    DefaultSilenceTimeout,
		pendingThreshold:  DefaultPendingTaskThreshold,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Tick runs one scheduler pass at the given instant and returns the emitted
// events. Events are also handed to the injector; injector failures do not
// abort the pass.
func (f *FollowupScheduler) Tick(ctx context.Context, now time.Time) ([]models.TriggerEvent, error) {
	reset, err := f.resetRecurring(now)
	if err != nil {
		slog.Warn("FollowupScheduler.Tick: recurring reset failed", "error", err)
	}

	tasks, err := f.store.ListTasks("")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var events []models.TriggerEvent
	for _, task := range tasks {
		// A cycle that started this pass waits until the next pass for
		// its first reminder.
		if reset[task.ID] {
			continue
		}
		if ev := f.remindIfDue(task, now); ev != nil {
			events = append(events, *ev)
		}
	}
	if ev := f.escalateIfNeeded(tasks, now); ev != nil {
		events = append(events, *ev)
	}

	for _, ev := range events {
		if _, derr := f.injector.DeliverEvent(ctx, ev); derr != nil {
			slog.Warn("FollowupScheduler.Tick: event delivery failed",
				"target", ev.Target, "reason", ev.Reason, "error", derr)
		}
	}
	slog.Debug("FollowupScheduler.Tick: pass complete", "events", len(events), "tasks", len(tasks))
	return events, nil
}

// resetRecurring starts a fresh cycle for recurring tasks completed on a
// previous day and returns the IDs it reset. The series ends only by
// explicit deletion.
func (f *FollowupScheduler) resetRecurring(now time.Time) (map[string]bool, error) {
	reset := make(map[string]bool)
	completed, err := f.store.ListTasks(models.TaskStatusCompleted)
	if err != nil {
		return reset, err
	}
	for _, task := range completed {
		if !task.Recurring || sameDay(task.UpdatedAt, now) {
			continue
		}
		_, uerr := f.store.UpdateTask(task.ID, task.UpdatedAt, func(t *models.Task) {
			t.Status = models.TaskStatusPending
			t.LastRemindedAt = nil
		})
		if uerr != nil && !errors.Is(uerr, models.ErrConflict) {
			slog.Warn("FollowupScheduler.resetRecurring: reset failed", "task", task.Description, "error", uerr)
			continue
		}
		if uerr == nil {
			reset[task.ID] = true
			slog.Info("FollowupScheduler.resetRecurring: recurring task reset", "task", task.Description)
		}
	}
	return reset, nil
}

// remindIfDue emits a dependent-facing reminder for a due-soon open task,
// respecting the per-task reminder spacing.
func (f *FollowupScheduler) remindIfDue(task models.Task, now time.Time) *models.TriggerEvent {
	if task.Status == models.TaskStatusCompleted {
		return nil
	}
	if !f.dueSoon(task, now) {
		return nil
	}
	if task.LastRemindedAt != nil && now.Sub(*task.LastRemindedAt) < f.reminderSpacing {
		return nil
	}

	reminded := now
	_, err := f.store.UpdateTask(task.ID, task.UpdatedAt, func(t *models.Task) {
		t.LastRemindedAt = &reminded
	})
	if err != nil {
		// A live turn won the race; skip this cycle.
		slog.Debug("FollowupScheduler.remindIfDue: skipped", "task", task.Description, "error", err)
		return nil
	}

	msg := fmt.Sprintf("Remind the dependent about the task %q, due %s.",
		task.Description, formatDeadline(task.DueDate, task.DueTime, now))
	if task.Recurring {
		msg = fmt.Sprintf("Remind the dependent about the %s task %q.", task.RecurEvery, task.Description)
	}
	if task.Reward != "" {
		msg += fmt.Sprintf(" Mention the reward: %s.", task.Reward)
	}
	return &models.TriggerEvent{
		Target:      models.RoleDependent,
		TaskID:      task.ID,
		Reason:      models.TriggerReasonDueSoon,
		Message:     msg,
		GeneratedAt: now,
	}
}

func (f *FollowupScheduler) dueSoon(task models.Task, now time.Time) bool {
	if task.Recurring {
		return true
	}
	due, ok := parseDue(task.DueDate, task.DueTime, now)
	if !ok {
		return false
	}
	return due.Sub(now) <= f.lookahead
}

// escalateIfNeeded emits at most one guardian-facing escalation per pass,
// rate-limited across passes.
func (f *FollowupScheduler) escalateIfNeeded(tasks []models.Task, now time.Time) *models.TriggerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.lastEscalated
	// Stamped tasks carry the rate-limit window across restarts.
	for _, t := range tasks {
		if t.LastEscalatedAt != nil && t.LastEscalatedAt.After(last) {
			last = *t.LastEscalatedAt
		}
	}
	if !last.IsZero() && now.Sub(last) < f.escalationSpacing {
		return nil
	}

	reason, detail := f.escalationReason(tasks, now)
	if reason == "" {
		return nil
	}
	f.lastEscalated = now
	f.stampEscalation(tasks, now)
	return &models.TriggerEvent{
		Target:      models.RoleGuardian,
		Reason:      reason,
		Message:     "Let the guardian know: " + detail,
		GeneratedAt: now,
	}
}

// stampEscalation records the escalation instant on the open tasks that
// prompted it. A conflict means a live turn changed the task; skipping it
// only shortens the rate-limit window by one pass.
func (f *FollowupScheduler) stampEscalation(tasks []models.Task, now time.Time) {
	escalated := now
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			continue
		}
		// Same-pass reminders changed UpdatedAt; stamp against fresh state.
		cur, gerr := f.store.GetTask(t.ID)
		if gerr != nil || cur == nil {
			continue
		}
		_, err := f.store.UpdateTask(cur.ID, cur.UpdatedAt, func(task *models.Task) {
			task.LastEscalatedAt = &escalated
		})
		if err != nil && !errors.Is(err, models.ErrConflict) {
			slog.Warn("FollowupScheduler.stampEscalation: stamp failed", "task", t.Description, "error", err)
		}
	}
}

func (f *FollowupScheduler) escalationReason(tasks []models.Task, now time.Time) (string, string) {
	pending := 0
	var lastReminded *time.Time
	for _, t := range tasks {
		if t.Status == models.TaskStatusPending {
			pending++
		}
		if t.LastRemindedAt != nil && (lastReminded == nil || t.LastRemindedAt.After(*lastReminded)) {
			lastReminded = t.LastRemindedAt
		}
	}
	if pending >= f.pendingThreshold {
		return models.TriggerReasonPendingCount,
			fmt.Sprintf("the dependent has %d tasks still pending.", pending)
	}

	if state, err := f.store.GetZoneState(); err == nil && state != nil && state.Zone == models.ZoneRed {
		return models.TriggerReasonRedZone,
			"the dependent is in the Red zone and may need attention."
	}

	if lastReminded != nil && now.Sub(*lastReminded) >= f.silenceTimeout {
		if !f.dependentRespondedSince(*lastReminded) {
			return models.TriggerReasonUnresponsive,
				"the dependent has not responded since the last reminder."
		}
	}
	return "", ""
}

func (f *FollowupScheduler) dependentRespondedSince(since time.Time) bool {
	turns, err := f.store.ListTurns(models.ChannelDependentMediator)
	if err != nil {
		return true
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == models.RoleDependent && turns[i].Timestamp.After(since) {
			return true
		}
	}
	return false
}
