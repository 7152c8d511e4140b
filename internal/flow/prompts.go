package flow

import (
	"fmt"
	"strings"

	"github.com/hareem123931/mr-french/internal/models"
)

// observerSystemPrompt instructs the analyzer to extract exactly one structured
// intent per utterance as a JSON object. Worked examples keep the model on the
// schema; the caller appends the live candidate task list.
const observerSystemPrompt = `You are the mediator, an assistant observing a conversation between a guardian and a dependent.
Your only job here is to analyze the latest utterance for task-management or zone intent.
Do not reply conversationally. Output exactly one JSON object and nothing else.

Output schema:
{
  "kind": "add" | "update" | "complete" | "delete" | "set_zone" | "get_tasks" | "none",
  "task_description": "short task name, for add/update/complete/delete",
  "due_date": "Today | Tomorrow | a weekday name | YYYY-MM-DD | empty if not given",
  "due_time": "6pm | 18:00 | evening | morning | empty if not given",
  "reward": "reward text, empty if none",
  "recurring": true | false,
  "recur_every": "daily | weekly | empty",
  "updates": { "description": "...", "status": "Pending|InProgress|Completed", "due_date": "...", "due_time": "...", "reward": "..." } or null,
  "zone": "Green" | "Red" | "Blue" | "",
  "confidence": 0.0 to 1.0,
  "reasoning": "one sentence on how you read the utterance"
}

Rules:
- "I finished X" or "X is done" is kind "complete" with task_description X.
- "don't have to do X anymore" or "cancel X" is kind "delete".
- Changing a deadline or reward of an existing task is kind "update" with the changed fields in "updates".
- A new assignment or a self-assigned promise ("I will do X tonight") is kind "add".
- "every day" / "each morning" phrasing makes the add recurring with recur_every "daily".
- An explicit zone instruction ("put him on red zone") is kind "set_zone" with the zone.
- Asking what tasks exist or are pending ("what does he still have to do?") is kind "get_tasks".
- Plain chat with no task content is kind "none".
- Never invent a due date or time the speaker did not give; leave the field empty instead.

Examples:
Guardian: "Please clean your room by tomorrow evening."
{"kind":"add","task_description":"clean room","due_date":"Tomorrow","due_time":"evening","reward":"","recurring":false,"recur_every":"","updates":null,"zone":"","confidence":0.95,"reasoning":"Guardian assigned a new task with a deadline."}

Dependent: "I finished my math homework."
{"kind":"complete","task_description":"math homework","due_date":"","due_time":"","reward":"","recurring":false,"recur_every":"","updates":null,"zone":"","confidence":0.95,"reasoning":"Dependent reports the homework is done."}

Guardian: "Add a task: finish reading by Friday, reward is extra screen time."
{"kind":"add","task_description":"finish reading","due_date":"Friday","due_time":"","reward":"extra screen time","recurring":false,"recur_every":"","updates":null,"zone":"","confidence":0.9,"reasoning":"New task with a deadline and a reward."}

Guardian: "He should make his bed every morning."
{"kind":"add","task_description":"make bed","due_date":"","due_time":"morning","reward":"","recurring":true,"recur_every":"daily","updates":null,"zone":"","confidence":0.9,"reasoning":"Recurring daily task."}

Guardian: "Put him on red zone, he keeps ignoring his chores."
{"kind":"set_zone","task_description":"","due_date":"","due_time":"","reward":"","recurring":false,"recur_every":"","updates":null,"zone":"Red","confidence":0.95,"reasoning":"Explicit zone instruction."}

Guardian: "What tasks does he have pending?"
{"kind":"get_tasks","task_description":"","due_date":"","due_time":"","reward":"","recurring":false,"recur_every":"","updates":null,"zone":"","confidence":0.95,"reasoning":"Guardian asks for the task list."}

Guardian: "How was your weekend?"
{"kind":"none","task_description":"","due_date":"","due_time":"","reward":"","recurring":false,"recur_every":"","updates":null,"zone":"","confidence":0.9,"reasoning":"Small talk, no task content."}`

// guardianFacingPrompt is the mediator's voice toward the guardian.
const guardianFacingPrompt = `You are the mediator, an assistant helping a guardian manage a dependent's tasks and routines.
You are professional, polite, and concise. Write like a short message, not an email, and avoid bullet points unless listing tasks.
Stay consistent with the conversation so far.`

// dependentFacingPrompt is the mediator's voice toward the dependent.
const dependentFacingPrompt = `You are the mediator, a kind and supportive companion for the dependent.
Be patient, helpful, and encouraging. You are not always enforcing tasks; normal chat is fine too.
Stay consistent with the conversation so far.`

// guardianPersonaPrompt simulates the guardian in the direct channel.
const guardianPersonaPrompt = `You are the guardian talking directly with the dependent.
Respond naturally and conversationally. You can assign tasks, offer rewards, or ask about their day.
Keep your responses brief and natural.`

// dependentPersonaPrompt simulates the dependent in the direct channel.
const dependentPersonaPrompt = `You are the dependent talking with the guardian.
Respond naturally and conversationally. You can talk about your tasks, your day, or ask for advice.
Keep your responses brief and natural.`

// replyPromptFor returns the system prompt the mediator (or a simulated
// persona) speaks with when addressing the given recipient on the channel.
func replyPromptFor(channel models.ChatChannel, recipient models.Role) string {
	if channel == models.ChannelGuardianDependent {
		// The counterpart persona is simulated; recipient hears the other role.
		if recipient == models.RoleGuardian {
			return dependentPersonaPrompt
		}
		return guardianPersonaPrompt
	}
	if recipient == models.RoleGuardian {
		return guardianFacingPrompt
	}
	return dependentFacingPrompt
}

// candidateTaskContext renders the current task set for the analyzer so it can
// ground update/complete/delete intents against real descriptions.
func candidateTaskContext(tasks []models.Task) string {
	if len(tasks) == 0 {
		return "Current tasks: none."
	}
	var b strings.Builder
	b.WriteString("Current tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s (%s", t.Description, t.Status)
		if t.DueDate != "" || t.DueTime != "" {
			fmt.Fprintf(&b, ", due %s", strings.TrimSpace(t.DueDate+" "+t.DueTime))
		}
		if t.Recurring {
			fmt.Fprintf(&b, ", recurring %s", t.RecurEvery)
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// decisionContext phrases a reconciliation outcome for the reply prompt so the
// generated answer references the concrete decision instead of a generic one.
func decisionContext(decision *models.Decision, tasks []models.Task) string {
	if decision == nil {
		return ""
	}
	find := func(id string) string {
		for _, t := range tasks {
			if t.ID == id {
				return t.Description
			}
		}
		return "that task"
	}
	switch decision.Kind {
	case models.DecisionCreate:
		t := decision.Task
		msg := fmt.Sprintf("You just recorded a new task %q", t.Description)
		if t.DueDate != "" || t.DueTime != "" {
			msg += ", due " + strings.TrimSpace(t.DueDate+" "+t.DueTime)
		}
		if t.Reward != "" {
			msg += ", reward: " + t.Reward
		}
		if t.Recurring {
			msg += fmt.Sprintf(" (recurring %s)", t.RecurEvery)
		}
		return msg + ". Confirm it in your reply."
	case models.DecisionUpdate:
		return fmt.Sprintf("You just updated the task %q. Confirm the change in your reply.", find(decision.TaskID))
	case models.DecisionComplete:
		return fmt.Sprintf("The task %q is now marked completed. Acknowledge it in your reply.", find(decision.TaskID))
	case models.DecisionDelete:
		return fmt.Sprintf("The task %q was removed. Confirm the removal in your reply.", find(decision.TaskID))
	case models.DecisionDuplicateOf:
		return fmt.Sprintf("The task %q already exists; no new task was created. Say that it already exists.", find(decision.TaskID))
	case models.DecisionNeedsMoreInfo:
		return fmt.Sprintf("A task is waiting on missing details (%s). Ask for them in your reply.",
			strings.Join(decision.MissingFields, ", "))
	case models.DecisionNoOp:
		switch decision.Reason {
		case models.NoOpReasonNotFound:
			return "No existing task matched what was said; mention that you could not identify the task."
		case models.NoOpReasonTaskQuery:
			return "Answer with the task list below, accurately.\n\n" + candidateTaskContext(tasks)
		case models.NoOpReasonApplyFailed:
			return "The change could not be recorded right now; say you will try again shortly."
		}
		return ""
	default:
		return ""
	}
}
