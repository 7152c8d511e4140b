package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/hareem123931/mr-french/internal/genai"
	"github.com/hareem123931/mr-french/internal/models"
)

// UnlimitedContext sends the full stored channel history to the analyzer.
// Full history is the default contract, not an optimization fallback.
const UnlimitedContext = -1

// IntentAnalyzer maps an utterance plus conversation context and the candidate
// task set to a structured Intent via the language capability.
type IntentAnalyzer struct {
	client        genai.ClientInterface
	contextWindow int
}

// AnalyzerOption configures an IntentAnalyzer.
type AnalyzerOption func(*IntentAnalyzer)

// WithContextWindow limits how many trailing context turns are sent to the
// analyzer. Values < 0 mean the full history.
func WithContextWindow(n int) AnalyzerOption {
	return func(a *IntentAnalyzer) { a.contextWindow = n }
}

// NewIntentAnalyzer creates an analyzer backed by the given genai client.
func NewIntentAnalyzer(client genai.ClientInterface, opts ...AnalyzerOption) *IntentAnalyzer {
	a := &IntentAnalyzer{client: client, contextWindow: UnlimitedContext}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeIntent analyzes one utterance. A capability failure or unparseable
// analysis returns a wrapped models.ErrCapabilityUnavailable; callers treat
// that as transient and degrade to plain chat.
func (a *IntentAnalyzer) AnalyzeIntent(ctx context.Context, speaker models.Role, text string, contextTurns []models.ConversationTurn, candidateTasks []models.Task) (*models.Intent, error) {
	turns := contextTurns
	if a.contextWindow >= 0 && len(turns) > a.contextWindow {
		turns = turns[len(turns)-a.contextWindow:]
	}

	var b strings.Builder
	b.WriteString(candidateTaskContext(candidateTasks))
	b.WriteString("\n\nConversation:\n")
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, turn.Content)
	}
	fmt.Fprintf(&b, "\nLatest utterance from %s: %s\nAnalysis:", speaker, text)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(observerSystemPrompt),
		openai.UserMessage(b.String()),
	}
	raw, err := a.client.GenerateJSON(ctx, messages)
	if err != nil {
		slog.Warn("IntentAnalyzer.AnalyzeIntent: capability call failed", "error", err, "speaker", speaker)
		return nil, fmt.Errorf("%w: %v", models.ErrCapabilityUnavailable, err)
	}

	intent, err := parseIntent(raw)
	if err != nil {
		slog.Warn("IntentAnalyzer.AnalyzeIntent: unparseable analysis", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: %v", models.ErrCapabilityUnavailable, err)
	}
	slog.Debug("IntentAnalyzer.AnalyzeIntent: intent extracted",
		"kind", intent.Kind, "task", intent.TaskDescription, "confidence", intent.Confidence)
	return intent, nil
}

// parseIntent decodes and validates the analyzer's JSON output.
func parseIntent(raw string) (*models.Intent, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in fences despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var intent models.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	intent.Kind = models.IntentKind(strings.ToLower(string(intent.Kind)))
	if !models.IsValidIntentKind(intent.Kind) {
		return nil, fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
	if intent.Kind == models.IntentSetZone && !models.IsValidZone(intent.Zone) {
		return nil, fmt.Errorf("set_zone intent with invalid zone %q", intent.Zone)
	}
	switch intent.Kind {
	case models.IntentNone, models.IntentSetZone, models.IntentGetTasks:
	default:
		if intent.TaskDescription == "" {
			return nil, fmt.Errorf("%s intent missing task description", intent.Kind)
		}
	}
	return &intent, nil
}
