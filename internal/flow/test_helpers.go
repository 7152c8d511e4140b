package flow

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// mockGenAI implements genai.ClientInterface for tests. JSON calls pop
// queued analysis payloads; chat calls return a canned reply.
type mockGenAI struct {
	mu            sync.Mutex
	jsonResponses []string
	jsonErr       error
	reply         string
	replyErr      error

	jsonCalls  []string // last user message of each JSON call
	chatCalls  int
	lastSystem string // system prompt of the last chat call
}

func newMockGenAI() *mockGenAI {
	return &mockGenAI{reply: "mock reply"}
}

func (m *mockGenAI) queueJSON(payloads ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jsonResponses = append(m.jsonResponses, payloads...)
}

func (m *mockGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.GenerateWithMessages(ctx, nil)
}

func (m *mockGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	if len(messages) > 0 {
		if sys := messages[0].OfSystem; sys != nil {
			m.lastSystem = sys.Content.OfString.Value
		}
	}
	if m.replyErr != nil {
		return "", m.replyErr
	}
	return m.reply, nil
}

func (m *mockGenAI) GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(messages) > 0 {
		if content := messages[len(messages)-1].OfUser; content != nil {
			m.jsonCalls = append(m.jsonCalls, content.Content.OfString.Value)
		}
	}
	if m.jsonErr != nil {
		return "", m.jsonErr
	}
	if len(m.jsonResponses) == 0 {
		return `{"kind":"none"}`, nil
	}
	next := m.jsonResponses[0]
	m.jsonResponses = m.jsonResponses[1:]
	return next, nil
}
