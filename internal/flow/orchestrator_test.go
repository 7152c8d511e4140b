package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

func newTestOrchestrator(t *testing.T) (*ConversationOrchestrator, *mockGenAI, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	mock := newMockGenAI()
	o := NewConversationOrchestrator(st, mock, NewIntentAnalyzer(mock))
	return o, mock, st
}

func TestHandleTurnValidation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		channel models.ChatChannel
		speaker models.Role
		text    string
		wantErr error
	}{
		{"bad channel", "group-chat", models.RoleGuardian, "hi", models.ErrInvalidChannel},
		{"bad role", models.ChannelGuardianMediator, "stranger", "hi", models.ErrInvalidRole},
		{"role not in channel", models.ChannelGuardianMediator, models.RoleDependent, "hi", models.ErrRoleNotInChannel},
		{"empty text", models.ChannelGuardianMediator, models.RoleGuardian, "   ", models.ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := o.HandleTurn(ctx, tt.channel, tt.speaker, tt.text); !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleTurn error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleTurnAddCreatesTaskAndNotifies(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.queueJSON(`{"kind":"add","task_description":"clean the kitchen","due_date":"Today","due_time":"6pm"}`)

	out, err := o.HandleTurn(context.Background(), models.ChannelGuardianMediator, models.RoleGuardian,
		"Add a task: clean the kitchen at 6pm today")
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Decision == nil || out.Decision.Kind != models.DecisionCreate {
		t.Fatalf("decision = %+v, want create", out.Decision)
	}
	if out.Reply == "" {
		t.Error("expected a generated reply")
	}

	tasks, err := o.Tasks(models.TaskStatusPending)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Description != "clean the kitchen" {
		t.Fatalf("tasks = %+v, want one pending kitchen task", tasks)
	}

	// Guardian-initiated create must notify the dependent on the side channel.
	if out.Notification == nil {
		t.Fatal("expected side-channel notification")
	}
	sideTurns, err := o.History(models.ChannelDependentMediator)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(sideTurns) != 1 || sideTurns[0].Speaker != models.RoleMediator {
		t.Fatalf("side channel turns = %+v, want one mediator notification", sideTurns)
	}
}

func TestHandleTurnDuplicateAdd(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	addJSON := `{"kind":"add","task_description":"clean the kitchen","due_date":"Today","due_time":"6pm"}`
	mock.queueJSON(addJSON, addJSON)
	ctx := context.Background()

	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "clean the kitchen at 6pm today"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	out, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "clean the kitchen at 6pm today")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if out.Decision.Kind != models.DecisionDuplicateOf {
		t.Fatalf("decision = %q, want duplicate_of", out.Decision.Kind)
	}

	tasks, _ := o.Tasks("")
	if len(tasks) != 1 {
		t.Errorf("task count = %d, want 1 (idempotent add)", len(tasks))
	}
}

func TestHandleTurnPendingCreationCompletesLater(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.queueJSON(
		`{"kind":"add","task_description":"do the dishes"}`,
		`{"kind":"add","task_description":"do the dishes","due_date":"Tomorrow","due_time":"evening"}`,
	)
	ctx := context.Background()

	out, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "add a task to do the dishes")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if out.Decision.Kind != models.DecisionNeedsMoreInfo {
		t.Fatalf("decision = %q, want needs_more_info", out.Decision.Kind)
	}
	if tasks, _ := o.Tasks(""); len(tasks) != 0 {
		t.Fatalf("no task should exist yet, got %d", len(tasks))
	}

	out, err = o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "tomorrow evening")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if out.Decision.Kind != models.DecisionCreate {
		t.Fatalf("decision = %q, want create after fields arrive", out.Decision.Kind)
	}

	tasks, _ := o.Tasks("")
	if len(tasks) != 1 {
		t.Fatalf("task count = %d, want exactly one create", len(tasks))
	}
	if tasks[0].DueDate != "Tomorrow" || tasks[0].DueTime != "evening" {
		t.Errorf("due = %q %q, want merged Tomorrow evening", tasks[0].DueDate, tasks[0].DueTime)
	}
}

func TestHandleTurnCompleteReflectsInListing(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.queueJSON(
		`{"kind":"add","task_description":"math homework","due_date":"Today","due_time":"evening"}`,
		`{"kind":"complete","task_description":"math homework"}`,
	)
	ctx := context.Background()

	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "math homework today evening"); err != nil {
		t.Fatalf("add turn: %v", err)
	}
	out, err := o.HandleTurn(ctx, models.ChannelDependentMediator, models.RoleDependent, "I finished my math homework")
	if err != nil {
		t.Fatalf("complete turn: %v", err)
	}
	if out.Decision.Kind != models.DecisionComplete {
		t.Fatalf("decision = %q, want complete", out.Decision.Kind)
	}

	completed, err := o.Tasks(models.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(completed) != 1 || completed[0].Description != "math homework" {
		t.Fatalf("completed = %+v, want the homework task", completed)
	}
}

func TestHandleTurnAnalyzerFailureDegradesToChat(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.jsonErr = errors.New("capability down")
	mock.reply = "just chatting"

	out, err := o.HandleTurn(context.Background(), models.ChannelGuardianMediator, models.RoleGuardian, "hello!")
	if err != nil {
		t.Fatalf("HandleTurn should not fail on analyzer outage, got %v", err)
	}
	if out.Decision != nil {
		t.Errorf("decision = %+v, want none in degraded mode", out.Decision)
	}
	if out.Reply != "just chatting" {
		t.Errorf("reply = %q, want the chat reply", out.Reply)
	}
}

func TestHandleTurnReplyGenerationFallback(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.replyErr = errors.New("capability down")

	out, err := o.HandleTurn(context.Background(), models.ChannelGuardianDependent, models.RoleGuardian, "how was school?")
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Reply != fallbackReply {
		t.Errorf("reply = %q, want fallback", out.Reply)
	}
}

func TestHandleTurnDirectChannelStillObserved(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.queueJSON(`{"kind":"add","task_description":"clean room","due_date":"Tomorrow","due_time":"evening"}`)

	out, err := o.HandleTurn(context.Background(), models.ChannelGuardianDependent, models.RoleGuardian,
		"Please clean your room by tomorrow evening")
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	// The observer records the task even though the reply is persona chat.
	if out.Decision == nil || out.Decision.Kind != models.DecisionCreate {
		t.Fatalf("decision = %+v, want observed create", out.Decision)
	}
	tasks, _ := o.Tasks(models.TaskStatusPending)
	if len(tasks) != 1 {
		t.Fatalf("task count = %d, want 1", len(tasks))
	}
}

func TestHandleTurnZoneInstruction(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	mock.queueJSON(`{"kind":"set_zone","zone":"Red","reasoning":"misbehaving"}`)

	out, err := o.HandleTurn(context.Background(), models.ChannelGuardianMediator, models.RoleGuardian,
		"Put him on red zone, he's misbehaving")
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Decision.Kind != models.DecisionNoOp || out.Decision.Reason != models.NoOpReasonZoneOnly {
		t.Fatalf("decision = %+v, want zone-only noop", out.Decision)
	}

	state, err := o.Zones().Zone()
	if err != nil {
		t.Fatalf("Zone: %v", err)
	}
	if state.Zone != models.ZoneRed {
		t.Errorf("zone = %q, want committed Red", state.Zone)
	}
}

func TestPendingCountProposesRed(t *testing.T) {
	st := store.NewInMemoryStore()
	mock := newMockGenAI()
	o := NewConversationOrchestrator(st, mock, NewIntentAnalyzer(mock), WithPendingTaskThreshold(2))

	now := time.Now().UTC()
	for _, desc := range []string{"walk the dog", "math homework"} {
		task := models.Task{ID: desc, Description: desc, Status: models.TaskStatusPending,
			CreatedBy: models.RoleGuardian, CreatedAt: now, UpdatedAt: now}
		if err := st.CreateTask(task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	mock.queueJSON(`{"kind":"none"}`)
	if _, err := o.HandleTurn(context.Background(), models.ChannelGuardianMediator, models.RoleGuardian, "how is he doing?"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	zone, _, ok := o.Zones().PendingProposal()
	if !ok || zone != models.ZoneRed {
		t.Fatalf("pending proposal = %q %v, want proposed Red", zone, ok)
	}
	if state, _ := o.Zones().Zone(); state.Zone != models.ZoneGreen {
		t.Errorf("zone = %q, want still Green until confirmed", state.Zone)
	}
}

func TestResetAllClearsEverything(t *testing.T) {
	o, mock, st := newTestOrchestrator(t)
	mock.queueJSON(`{"kind":"add","task_description":"clean the kitchen","due_date":"Today","due_time":"6pm"}`)
	ctx := context.Background()

	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "clean the kitchen at 6pm today"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if err := o.ResetAll(); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	if turns, _ := o.History(models.ChannelGuardianMediator); len(turns) != 0 {
		t.Errorf("history not cleared: %d turns", len(turns))
	}
	if tasks, _ := o.Tasks(""); len(tasks) != 0 {
		t.Errorf("tasks not cleared: %d", len(tasks))
	}
	if logs, _ := st.ListAnalysisLogs(""); len(logs) != 0 {
		t.Errorf("analysis logs not cleared: %d", len(logs))
	}
}

func TestResetAllConcurrent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := o.ResetAll(); err != nil {
					t.Errorf("ResetAll: %v", err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent ResetAll calls did not complete")
	}
}

func TestHandleTurnTaskListingQuestion(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	mock.queueJSON(`{"kind":"add","task_description":"clean the kitchen","due_date":"Today","due_time":"6pm"}`)
	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "clean the kitchen at 6pm today"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	mock.queueJSON(`{"kind":"get_tasks"}`)
	out, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "what tasks does he have pending?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if out.Decision == nil || out.Decision.Kind != models.DecisionNoOp || out.Decision.Reason != models.NoOpReasonTaskQuery {
		t.Fatalf("decision = %+v, want task-query noop", out.Decision)
	}
	if !strings.Contains(mock.lastSystem, "clean the kitchen") {
		t.Errorf("reply prompt does not carry the task list:\n%s", mock.lastSystem)
	}
}

func TestHandleTurnListingKeepsHeldCreation(t *testing.T) {
	o, mock, _ := newTestOrchestrator(t)
	ctx := context.Background()
	mock.queueJSON(`{"kind":"add","task_description":"do the dishes"}`)
	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "add a task to do the dishes"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	mock.queueJSON(`{"kind":"get_tasks"}`)
	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "what is on his list?"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	mock.queueJSON(`{"kind":"none","due_date":"Tomorrow","due_time":"evening"}`)
	if _, err := o.HandleTurn(ctx, models.ChannelGuardianMediator, models.RoleGuardian, "tomorrow evening"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	tasks, _ := o.Tasks("")
	if len(tasks) != 1 || tasks[0].Description != "do the dishes" {
		t.Fatalf("tasks = %+v, want the held creation completed after the listing question", tasks)
	}
}

func TestReconcileWithRetryApplyFailure(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	// The task list is stale: the task is not in the store, so applying the
	// complete decision fails without a conflict to retry on.
	stale := []models.Task{{ID: "ghost", Description: "clean the kitchen",
		Status: models.TaskStatusPending, CreatedBy: models.RoleGuardian}}
	intent := &models.Intent{Kind: models.IntentComplete, TaskDescription: "clean the kitchen"}

	d := o.reconcileWithRetry(models.ChannelGuardianMediator, models.RoleGuardian,
		"the kitchen is done", intent, stale, time.Now().UTC())
	if d.Kind != models.DecisionNoOp || d.Reason != models.NoOpReasonApplyFailed {
		t.Fatalf("decision = %+v, want noop with apply-failed reason", d)
	}
}
