// Package flow implements the conversation orchestration and task
// reconciliation engine: turn routing among the guardian, dependent, and
// mediator personas, intent analysis, task reconciliation, zone state, and
// proactive follow-ups.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/hareem123931/mr-french/internal/genai"
	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/store"
)

// DefaultPendingTaskThreshold is the pending-task count at which the mediator
// proposes the Red zone.
const DefaultPendingTaskThreshold = 5

// fallbackReply is used when reply generation itself is unavailable. The turn
// still succeeds; capability faults are recoverable by design.
const fallbackReply = "Sorry, I'm having trouble responding right now. Could you say that again in a moment?"

// OutboundMessage is the result of one handled turn.
type OutboundMessage struct {
	Channel      models.ChatChannel       `json:"channel"`
	Speaker      models.Role              `json:"speaker"`
	Reply        string                   `json:"reply"`
	Decision     *models.Decision         `json:"decision,omitempty"`
	Notification *models.ConversationTurn `json:"notification,omitempty"`
}

// ConversationOrchestrator owns per-channel turn state and routes turns among
// the three personas. Turn processing is sequential per channel; distinct
// channels may process concurrently.
type ConversationOrchestrator struct {
	store      store.Store
	client     genai.ClientInterface
	analyzer   *IntentAnalyzer
	reconciler *TaskReconciler
	zones      *ZoneStateMachine

	channelMu map[models.ChatChannel]*sync.Mutex
	taskMu    sync.Map // task ID -> *sync.Mutex

	pendingMu        sync.Mutex
	pendingCreations map[models.ChatChannel]*models.Intent

	pendingThreshold int
	now              func() time.Time
}

// OrchestratorOption configures a ConversationOrchestrator.
type OrchestratorOption func(*ConversationOrchestrator)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *ConversationOrchestrator) { o.now = now }
}

// WithPendingTaskThreshold overrides the pending-count zone trigger.
func WithPendingTaskThreshold(n int) OrchestratorOption {
	return func(o *ConversationOrchestrator) { o.pendingThreshold = n }
}

// NewConversationOrchestrator wires the engine over the given store and
// language capability.
func NewConversationOrchestrator(st store.Store, client genai.ClientInterface, analyzer *IntentAnalyzer, opts ...OrchestratorOption) *ConversationOrchestrator {
	o := &ConversationOrchestrator{
		store:      st,
		client:     client,
		analyzer:   analyzer,
		reconciler: NewTaskReconciler(st),
		zones:      NewZoneStateMachine(st),
		channelMu: map[models.ChatChannel]*sync.Mutex{
			models.ChannelGuardianDependent: {},
			models.ChannelGuardianMediator:  {},
			models.ChannelDependentMediator: {},
		},
		pendingCreations: make(map[models.ChatChannel]*models.Intent),
		pendingThreshold: DefaultPendingTaskThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Zones exposes the zone state machine for control endpoints.
func (o *ConversationOrchestrator) Zones() *ZoneStateMachine { return o.zones }

// HandleTurn processes one inbound utterance on a channel.
//
// The turn is appended to the channel context, analyzed for task intent on
// mediator channels (and observed on the direct channel), reconciled against
// the task set, and answered with a generated reply that references the
// concrete reconciliation outcome. Analyzer failures degrade to plain chat.
func (o *ConversationOrchestrator) HandleTurn(ctx context.Context, channel models.ChatChannel, speaker models.Role, text string) (*OutboundMessage, error) {
	if err := validateTurn(channel, speaker, text); err != nil {
		return nil, err
	}

	mu := o.channelMu[channel]
	mu.Lock()
	defer mu.Unlock()

	now := o.now()
	recipient := models.CounterpartRole(channel, speaker)
	turn := models.ConversationTurn{
		Channel: channel, Speaker: speaker, Recipient: recipient,
		Content: text, Timestamp: now,
	}
	if err := o.store.AppendTurn(turn); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	history, err := o.store.ListTurns(channel)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}
	// Exclude the turn being handled from the analysis context.
	contextTurns := history
	if len(contextTurns) > 0 {
		contextTurns = contextTurns[:len(contextTurns)-1]
	}

	tasks, err := o.store.ListTasks("")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	intent, analyzeErr := o.analyzer.AnalyzeIntent(ctx, speaker, text, contextTurns, tasks)
	if analyzeErr != nil {
		// Transient capability fault: treat the turn as non-task chat.
		slog.Warn("ConversationOrchestrator.HandleTurn: analysis degraded to chat",
			"channel", channel, "speaker", speaker, "error", analyzeErr)
		intent = nil
	}

	intent = o.mergePendingCreation(channel, intent)

	var decision *models.Decision
	if intent != nil {
		d := o.reconcileWithRetry(channel, speaker, text, intent, tasks, now)
		decision = &d
		o.trackPendingCreation(channel, intent, d)
		o.applyZoneEffects(channel, speaker, intent, now)
	}

	reply := o.generateReply(ctx, channel, speaker, history, decision, tasks)
	replyTurn := models.ConversationTurn{
		Channel: channel, Speaker: recipient, Recipient: speaker,
		Content: reply, Timestamp: o.now(),
	}
	if err := o.store.AppendTurn(replyTurn); err != nil {
		return nil, fmt.Errorf("append reply turn: %w", err)
	}

	out := &OutboundMessage{Channel: channel, Speaker: recipient, Reply: reply, Decision: decision}

	// A guardian-initiated create must notify the dependent on the side
	// channel. Mandatory side effect, not an optional nicety.
	if channel == models.ChannelGuardianMediator && decision != nil && decision.Kind == models.DecisionCreate {
		out.Notification = o.notifyDependent(decision.Task)
	}
	return out, nil
}

func validateTurn(channel models.ChatChannel, speaker models.Role, text string) error {
	if !models.IsValidChannel(channel) {
		return models.ErrInvalidChannel
	}
	if !models.IsValidRole(speaker) {
		return models.ErrInvalidRole
	}
	if !models.ChannelHasRole(channel, speaker) {
		return models.ErrRoleNotInChannel
	}
	if strings.TrimSpace(text) == "" {
		return models.ErrEmptyText
	}
	if len(text) > models.MaxTurnLength {
		return models.ErrTurnTooLong
	}
	return nil
}

// mergePendingCreation folds a held incomplete creation into the new intent
// when the missing scheduling fields arrive on a later turn.
func (o *ConversationOrchestrator) mergePendingCreation(channel models.ChatChannel, intent *models.Intent) *models.Intent {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	pending := o.pendingCreations[channel]
	if pending == nil {
		return intent
	}
	if intent != nil && intent.Kind == models.IntentGetTasks {
		// A listing question in between leaves the held creation alone.
		return intent
	}
	if intent == nil || intent.Kind == models.IntentNone || intent.Kind == models.IntentAdd {
		merged := *pending
		if intent != nil {
			if intent.DueDate != "" {
				merged.DueDate = intent.DueDate
			}
			if intent.DueTime != "" {
				merged.DueTime = intent.DueTime
			}
			if intent.Reward != "" {
				merged.Reward = intent.Reward
			}
			if intent.Kind == models.IntentAdd && intent.TaskDescription != "" {
				// The follow-up may restate or refine the description.
				if similarity(intent.TaskDescription, pending.TaskDescription) >= resolveThreshold {
					merged.TaskDescription = intent.TaskDescription
				} else {
					// A different task entirely; drop the held creation.
					delete(o.pendingCreations, channel)
					return intent
				}
			}
		}
		slog.Debug("ConversationOrchestrator.mergePendingCreation: resuming held creation",
			"channel", channel, "task", merged.TaskDescription)
		return &merged
	}
	// A non-add intent abandons the held creation.
	delete(o.pendingCreations, channel)
	return intent
}

// trackPendingCreation holds an incomplete add until its missing fields arrive
// or the creation is abandoned.
func (o *ConversationOrchestrator) trackPendingCreation(channel models.ChatChannel, intent *models.Intent, decision models.Decision) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	if decision.Kind == models.DecisionNeedsMoreInfo {
		held := *intent
		o.pendingCreations[channel] = &held
		return
	}
	if intent.Kind == models.IntentGetTasks {
		return
	}
	delete(o.pendingCreations, channel)
}

// reconcileWithRetry reconciles and applies the decision, retrying the whole
// reconciliation once against refreshed task state when a concurrent mutation
// is detected.
func (o *ConversationOrchestrator) reconcileWithRetry(channel models.ChatChannel, speaker models.Role, text string, intent *models.Intent, tasks []models.Task, now time.Time) models.Decision {
	decision := o.reconciler.Reconcile(channel, speaker, text, intent, tasks, now)
	err := o.applyDecision(decision)
	if errors.Is(err, models.ErrConflict) {
		slog.Info("ConversationOrchestrator.reconcileWithRetry: conflict, retrying against refreshed state",
			"channel", channel, "decision", decision.Kind)
		refreshed, listErr := o.store.ListTasks("")
		if listErr == nil {
			decision = o.reconciler.Reconcile(channel, speaker, text, intent, refreshed, now)
			err = o.applyDecision(decision)
		}
	}
	if err != nil {
		slog.Error("ConversationOrchestrator.reconcileWithRetry: apply failed",
			"channel", channel, "decision", decision.Kind, "error", err)
		return models.Decision{Kind: models.DecisionNoOp, Reason: models.NoOpReasonApplyFailed}
	}
	return decision
}

// applyDecision performs the store mutation for a decision under the target
// task's mutual-exclusion scope.
func (o *ConversationOrchestrator) applyDecision(decision models.Decision) error {
	switch decision.Kind {
	case models.DecisionCreate:
		return o.store.CreateTask(*decision.Task)

	case models.DecisionUpdate:
		return o.mutateTask(decision.TaskID, func(t *models.Task) {
			applyUpdates(t, decision.Updates)
		})

	case models.DecisionComplete:
		return o.mutateTask(decision.TaskID, func(t *models.Task) {
			t.Status = models.TaskStatusCompleted
		})

	case models.DecisionDelete:
		unlock := o.lockTask(decision.TaskID)
		defer unlock()
		return o.store.DeleteTask(decision.TaskID)

	default:
		// Duplicate, needs-more-info, and noop mutate nothing.
		return nil
	}
}

func applyUpdates(t *models.Task, u *models.TaskUpdates) {
	if u == nil {
		return
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.DueTime != nil {
		t.DueTime = *u.DueTime
	}
	if u.Reward != nil {
		t.Reward = *u.Reward
	}
}

func (o *ConversationOrchestrator) lockTask(id string) func() {
	v, _ := o.taskMu.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// mutateTask applies mutate to the task under its lock, with an optimistic
// update-timestamp check in the store underneath.
func (o *ConversationOrchestrator) mutateTask(id string, mutate func(*models.Task)) error {
	unlock := o.lockTask(id)
	defer unlock()

	task, err := o.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return models.ErrTaskNotFound
	}
	_, err = o.store.UpdateTask(id, task.UpdatedAt, mutate)
	return err
}

// applyZoneEffects handles explicit zone intents and the pending-count Red
// trigger. Authorization failures surface conversationally, never as errors.
func (o *ConversationOrchestrator) applyZoneEffects(channel models.ChatChannel, speaker models.Role, intent *models.Intent, now time.Time) {
	if intent.Kind == models.IntentSetZone {
		if _, err := o.zones.Propose(intent.Zone, speaker, intent.Reasoning, now); err != nil &&
			!errors.Is(err, models.ErrNeedsAuthorization) {
			slog.Error("ConversationOrchestrator.applyZoneEffects: zone transition failed",
				"channel", channel, "zone", intent.Zone, "error", err)
		}
		return
	}

	pending, err := o.store.ListTasks(models.TaskStatusPending)
	if err != nil {
		return
	}
	if len(pending) >= o.pendingThreshold {
		if _, _, held := o.zones.PendingProposal(); held {
			return
		}
		state, zerr := o.zones.Zone()
		if zerr != nil || state.Zone == models.ZoneRed {
			return
		}
		reason := fmt.Sprintf("%d tasks pending", len(pending))
		if _, perr := o.zones.Propose(models.ZoneRed, models.RoleMediator, reason, now); perr != nil &&
			!errors.Is(perr, models.ErrNeedsAuthorization) {
			slog.Error("ConversationOrchestrator.applyZoneEffects: Red proposal failed", "error", perr)
		}
	}
}

// generateReply produces the counterpart persona's answer, folding the
// reconciliation outcome and any pending zone question into the prompt.
func (o *ConversationOrchestrator) generateReply(ctx context.Context, channel models.ChatChannel, speaker models.Role, history []models.ConversationTurn, decision *models.Decision, tasks []models.Task) string {
	replyVoice := models.CounterpartRole(channel, speaker)
	system := replyPromptFor(channel, speaker)

	if channel != models.ChannelGuardianDependent {
		if dc := decisionContext(decision, tasks); dc != "" {
			system += "\n\n" + dc
		}
		if speaker == models.RoleGuardian {
			if zone, reason, ok := o.zones.PendingProposal(); ok {
				system += fmt.Sprintf("\n\nYou have proposed moving the dependent to the %s zone (%s). Ask the guardian to confirm.", zone, reason)
			}
		}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(system))
	for _, turn := range history {
		if turn.Speaker == replyVoice {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	reply, err := o.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("ConversationOrchestrator.generateReply: generation failed, using fallback",
			"channel", channel, "error", err)
		return fallbackReply
	}
	return reply
}

// notifyDependent announces a newly created task on the dependent-mediator
// channel and returns the stored turn.
func (o *ConversationOrchestrator) notifyDependent(task *models.Task) *models.ConversationTurn {
	deadline := formatDeadline(task.DueDate, task.DueTime, o.now())
	msg := fmt.Sprintf("Heads up! You have a new task: %s (%s).", task.Description, deadline)
	if task.Recurring {
		msg = fmt.Sprintf("Heads up! You have a new %s task: %s.", task.RecurEvery, task.Description)
	}
	if task.Reward != "" {
		msg += fmt.Sprintf(" There's a reward waiting: %s.", task.Reward)
	}

	turn := models.ConversationTurn{
		Channel:   models.ChannelDependentMediator,
		Speaker:   models.RoleMediator,
		Recipient: models.RoleDependent,
		Content:   msg,
		Timestamp: o.now(),
	}
	if err := o.store.AppendTurn(turn); err != nil {
		slog.Error("ConversationOrchestrator.notifyDependent: failed to store notification",
			"task", task.Description, "error", err)
		return nil
	}
	slog.Info("ConversationOrchestrator.notifyDependent: dependent notified", "task", task.Description)
	return &turn
}

// DeliverEvent injects a scheduler trigger as a mediator-initiated turn on the
// target's mediator channel. The outgoing text is generated through the same
// reply path as live turns, falling back to the event's own message when the
// capability is unavailable.
func (o *ConversationOrchestrator) DeliverEvent(ctx context.Context, ev models.TriggerEvent) (*models.ConversationTurn, error) {
	channel := models.ChannelDependentMediator
	if ev.Target == models.RoleGuardian {
		channel = models.ChannelGuardianMediator
	}

	mu := o.channelMu[channel]
	mu.Lock()
	defer mu.Unlock()

	history, err := o.store.ListTurns(channel)
	if err != nil {
		return nil, fmt.Errorf("read context: %w", err)
	}

	system := replyPromptFor(channel, ev.Target) + "\n\nYou are starting this message yourself. " + ev.Message
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(system))
	for _, turn := range history {
		if turn.Speaker == models.RoleMediator {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	content, err := o.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("ConversationOrchestrator.DeliverEvent: generation failed, sending raw message",
			"reason", ev.Reason, "error", err)
		content = ev.Message
	}

	turn := models.ConversationTurn{
		Channel:   channel,
		Speaker:   models.RoleMediator,
		Recipient: ev.Target,
		Content:   content,
		Timestamp: o.now(),
	}
	if err := o.store.AppendTurn(turn); err != nil {
		return nil, fmt.Errorf("append event turn: %w", err)
	}
	slog.Info("ConversationOrchestrator.DeliverEvent: event delivered",
		"channel", channel, "target", ev.Target, "reason", ev.Reason)
	return &turn, nil
}

// History returns the full stored context for a channel.
func (o *ConversationOrchestrator) History(channel models.ChatChannel) ([]models.ConversationTurn, error) {
	if !models.IsValidChannel(channel) {
		return nil, models.ErrInvalidChannel
	}
	return o.store.ListTurns(channel)
}

// Tasks lists tasks, optionally filtered by status.
func (o *ConversationOrchestrator) Tasks(status models.TaskStatus) ([]models.Task, error) {
	if status != "" && !models.IsValidTaskStatus(status) {
		return nil, models.ErrInvalidTaskStatus
	}
	return o.store.ListTasks(status)
}

// AnalysisLogs returns the audit trail, optionally scoped to one channel.
func (o *ConversationOrchestrator) AnalysisLogs(channel models.ChatChannel) ([]models.AnalysisLogEntry, error) {
	if channel != "" && !models.IsValidChannel(channel) {
		return nil, models.ErrInvalidChannel
	}
	return o.store.ListAnalysisLogs(channel)
}

// ResetAll atomically clears all conversation context, tasks, zone state, and
// analysis logs. Partial resets are not permitted.
func (o *ConversationOrchestrator) ResetAll() error {
	// Channel locks are taken in a fixed order so concurrent resets cannot
	// acquire them in opposite orders and wedge each other.
	channels := models.Channels()
	for _, c := range channels {
		o.channelMu[c].Lock()
	}
	defer func() {
		for _, c := range channels {
			o.channelMu[c].Unlock()
		}
	}()

	o.pendingMu.Lock()
	o.pendingCreations = make(map[models.ChatChannel]*models.Intent)
	o.pendingMu.Unlock()

	if err := o.store.ResetAll(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	slog.Info("ConversationOrchestrator.ResetAll: all state cleared")
	return nil
}
