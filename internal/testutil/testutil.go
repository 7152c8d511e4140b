// Package testutil provides common test utilities and helpers for mr-french tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/openai/openai-go"

	"github.com/hareem123931/mr-french/internal/api"
	"github.com/hareem123931/mr-french/internal/flow"
	"github.com/hareem123931/mr-french/internal/store"
)

// ScriptedGenAI implements genai.ClientInterface for tests. Chat calls return
// Reply; JSON calls pop queued analysis payloads and fall back to a no-intent
// analysis when the queue is empty.
type ScriptedGenAI struct {
	mu       sync.Mutex
	Reply    string
	Analyses []string
}

// NewScriptedGenAI creates a scripted capability with a canned reply.
func NewScriptedGenAI(reply string, analyses ...string) *ScriptedGenAI {
	return &ScriptedGenAI{Reply: reply, Analyses: analyses}
}

// GeneratePrompt returns the canned reply.
func (s *ScriptedGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.Reply, nil
}

// GenerateWithMessages returns the canned reply.
func (s *ScriptedGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return s.Reply, nil
}

// GenerateJSON pops the next queued analysis payload.
func (s *ScriptedGenAI) GenerateJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Analyses) == 0 {
		return `{"kind":"none"}`, nil
	}
	next := s.Analyses[0]
	s.Analyses = s.Analyses[1:]
	return next, nil
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer(client *ScriptedGenAI) (*api.Server, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	orch := flow.NewConversationOrchestrator(st, client, flow.NewIntentAnalyzer(client))
	return api.NewServer(orch), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
