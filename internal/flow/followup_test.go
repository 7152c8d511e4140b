package flow

import (
	"context"
	"testing"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

// recordingInjector captures delivered events without generating replies.
type recordingInjector struct {
	delivered []models.TriggerEvent
}

func (r *recordingInjector) DeliverEvent(ctx context.Context, ev models.TriggerEvent) (*models.ConversationTurn, error) {
	r.delivered = append(r.delivered, ev)
	return &models.ConversationTurn{Content: ev.Message}, nil
}

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*FollowupScheduler, *store.InMemoryStore, *recordingInjector) {
	t.Helper()
	st := store.NewInMemoryStore()
	inj := &recordingInjector{}
	return NewFollowupScheduler(st, inj, opts...), st, inj
}

func seedTask(t *testing.T, st *store.InMemoryStore, task models.Task) {
	t.Helper()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if err := st.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func TestTickRemindsDueSoonTask(t *testing.T) {
	f, st, inj := newTestScheduler(t)
	now := time.Now().UTC()
	seedTask(t, st, models.Task{ID: "t1", Description: "clean the kitchen",
		Status: models.TaskStatusPending, DueDate: "Today", DueTime: "11:59pm",
		Reward: "movie night", CreatedBy: models.RoleGuardian})

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 reminder", len(events))
	}
	ev := events[0]
	if ev.Target != models.RoleDependent || ev.Reason != models.TriggerReasonDueSoon || ev.TaskID != "t1" {
		t.Errorf("event = %+v, want dependent due-soon reminder for t1", ev)
	}
	if len(inj.delivered) != 1 {
		t.Errorf("delivered = %d, want 1", len(inj.delivered))
	}

	task, _ := st.GetTask("t1")
	if task.LastRemindedAt == nil {
		t.Error("LastRemindedAt not recorded")
	}
}

func TestTickRespectsReminderSpacing(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	seedTask(t, st, models.Task{ID: "t1", Description: "clean the kitchen",
		Status: models.TaskStatusPending, DueDate: "Today", DueTime: "11:59pm",
		CreatedBy: models.RoleGuardian})

	if _, err := f.Tick(context.Background(), now); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	events, err := f.Tick(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events within spacing = %d, want 0", len(events))
	}
}

func TestTickSkipsFarFutureAndCompleted(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	future := now.AddDate(0, 0, 10).Format("2006-01-02")
	seedTask(t, st, models.Task{ID: "far", Description: "science fair",
		Status: models.TaskStatusPending, DueDate: future, CreatedBy: models.RoleGuardian})
	seedTask(t, st, models.Task{ID: "done", Description: "math homework",
		Status: models.TaskStatusCompleted, DueDate: "Today", DueTime: "6pm",
		CreatedBy: models.RoleGuardian})

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}

func TestTickEscalatesOnPendingCountOnce(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	for i, desc := range []string{"a", "b", "c", "d", "e"} {
		seedTask(t, st, models.Task{ID: desc, Description: "task " + desc,
			Status: models.TaskStatusPending, CreatedBy: models.RoleGuardian,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour)})
	}

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	var escalations []models.TriggerEvent
	for _, ev := range events {
		if ev.Target == models.RoleGuardian {
			escalations = append(escalations, ev)
		}
	}
	if len(escalations) != 1 {
		t.Fatalf("escalations = %d, want exactly 1", len(escalations))
	}
	if escalations[0].Reason != models.TriggerReasonPendingCount {
		t.Errorf("reason = %q, want pending-count", escalations[0].Reason)
	}

	// Within the rate-limit window the next pass stays quiet.
	events, err = f.Tick(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	for _, ev := range events {
		if ev.Target == models.RoleGuardian {
			t.Fatalf("duplicate escalation within rate window: %+v", ev)
		}
	}
}

func TestTickEscalatesOnRedZone(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	if err := st.SetZoneState(models.ZoneState{Zone: models.ZoneRed,
		AuthorizedBy: models.RoleGuardian, ChangedAt: now}); err != nil {
		t.Fatalf("SetZoneState: %v", err)
	}

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(events) != 1 || events[0].Reason != models.TriggerReasonRedZone {
		t.Fatalf("events = %+v, want one red-zone escalation", events)
	}
	if events[0].Target != models.RoleGuardian {
		t.Errorf("target = %q, want guardian", events[0].Target)
	}
}

func TestTickEscalatesOnSilence(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	reminded := now.Add(-10 * time.Hour)
	seedTask(t, st, models.Task{ID: "t1", Description: "clean room",
		Status: models.TaskStatusInProgress, LastRemindedAt: &reminded,
		CreatedBy: models.RoleGuardian})

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Reason == models.TriggerReasonUnresponsive {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %+v, want an unresponsive escalation", events)
	}

	// A dependent reply after the reminder clears the condition.
	f2, st2, _ := newTestScheduler(t)
	seedTask(t, st2, models.Task{ID: "t1", Description: "clean room",
		Status: models.TaskStatusInProgress, LastRemindedAt: &reminded,
		CreatedBy: models.RoleGuardian})
	if err := st2.AppendTurn(models.ConversationTurn{
		Channel: models.ChannelDependentMediator, Speaker: models.RoleDependent,
		Recipient: models.RoleMediator, Content: "on it!", Timestamp: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	events, err = f2.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	for _, ev := range events {
		if ev.Reason == models.TriggerReasonUnresponsive {
			t.Fatalf("unexpected unresponsive escalation after dependent reply: %+v", ev)
		}
	}
}

func TestTickResetsRecurringAtDayBoundary(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	seedTask(t, st, models.Task{ID: "t1", Description: "make bed",
		Status: models.TaskStatusCompleted, Recurring: true, RecurEvery: "daily",
		CreatedBy: models.RoleGuardian, CreatedAt: yesterday, UpdatedAt: yesterday})

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	for _, ev := range events {
		if ev.TaskID == "t1" && ev.Reason == models.TriggerReasonDueSoon {
			t.Fatalf("fresh cycle reminded in the same pass: %+v", ev)
		}
	}
	task, err := st.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status = %q, want Pending after day-boundary reset", task.Status)
	}
	if task.LastRemindedAt != nil {
		t.Error("LastRemindedAt should clear on a fresh cycle")
	}
}

func TestTickLeavesSameDayCompletedRecurring(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	seedTask(t, st, models.Task{ID: "t1", Description: "make bed",
		Status: models.TaskStatusCompleted, Recurring: true, RecurEvery: "daily",
		CreatedBy: models.RoleGuardian, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)})

	if _, err := f.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	task, _ := st.GetTask("t1")
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("status = %q, want Completed until the next day", task.Status)
	}
}

func TestDeletedRecurringSeriesStaysGone(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	seedTask(t, st, models.Task{ID: "t1", Description: "make bed",
		Status: models.TaskStatusCompleted, Recurring: true, RecurEvery: "daily",
		CreatedBy: models.RoleGuardian, CreatedAt: yesterday, UpdatedAt: yesterday})

	if err := st.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := f.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	tasks, _ := st.ListTasks("")
	if len(tasks) != 0 {
		t.Errorf("tasks = %+v, want deleted series absent", tasks)
	}
}

func TestEscalationRateWindowSurvivesRestart(t *testing.T) {
	f, st, _ := newTestScheduler(t)
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	for i, desc := range []string{"a", "b", "c", "d", "e"} {
		seedTask(t, st, models.Task{ID: desc, Description: "task " + desc,
			Status: models.TaskStatusPending, CreatedBy: models.RoleGuardian,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour)})
	}

	events, err := f.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(events) != 1 || events[0].Reason != models.TriggerReasonPendingCount {
		t.Fatalf("events = %+v, want one pending-count escalation", events)
	}
	task, _ := st.GetTask("a")
	if task.LastEscalatedAt == nil || !task.LastEscalatedAt.Equal(now) {
		t.Fatalf("LastEscalatedAt = %v, want stamped at escalation time", task.LastEscalatedAt)
	}

	// A fresh scheduler over the same store inherits the rate window.
	f2 := NewFollowupScheduler(st, &recordingInjector{})
	events, err = f2.Tick(context.Background(), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Tick after restart: %v", err)
	}
	for _, ev := range events {
		if ev.Target == models.RoleGuardian {
			t.Fatalf("escalation within rate window after restart: %+v", ev)
		}
	}

	// Once the window passes it escalates again.
	events, err = f2.Tick(context.Background(), now.Add(DefaultEscalationSpacing+time.Hour))
	if err != nil {
		t.Fatalf("Tick past window: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Target == models.RoleGuardian && ev.Reason == models.TriggerReasonPendingCount {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a fresh escalation once the rate window passed")
	}
}
