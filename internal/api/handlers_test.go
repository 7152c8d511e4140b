package api_test

import (
	"net/http/httptest"
	"testing"

	"github.com/hareem123931/mr-french/internal/models"
	"github.com/hareem123931/mr-french/internal/testutil"
)

const addKitchenJSON = `{"kind":"add","task_description":"clean the kitchen","due_date":"Today","due_time":"6pm"}`

func TestHealthEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer(testutil.NewScriptedGenAI("ok"))
	rr := httptest.NewRecorder()
	req := testutil.CreateHTTPRequest(t, "GET", "/", nil)

	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 200, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestChatEndpointCreatesTask(t *testing.T) {
	client := testutil.NewScriptedGenAI("Got it, I've added that task.", addKitchenJSON)
	server, _ := testutil.NewTestServer(client)

	rr := httptest.NewRecorder()
	req := testutil.CreateHTTPRequest(t, "POST", "/chat", map[string]string{
		"channel": "guardian-mediator",
		"role":    "guardian",
		"text":    "Add a task: clean the kitchen at 6pm today",
	})
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 200, rr.Code, "chat")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result in %v", resp)
	}
	if result["reply"] != "Got it, I've added that task." {
		t.Errorf("reply = %v", result["reply"])
	}
	decision, ok := result["decision"].(map[string]interface{})
	if !ok || decision["kind"] != "create" {
		t.Errorf("decision = %v, want create", result["decision"])
	}

	// The created task shows up in the listing endpoint.
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/tasks?status=Pending", nil))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "tasks")
	listResp := testutil.AssertJSONResponse(t, rr, "ok")
	tasks, ok := listResp["result"].([]interface{})
	if !ok || len(tasks) != 1 {
		t.Fatalf("tasks = %v, want one", listResp["result"])
	}
}

func TestChatEndpointInfersChannel(t *testing.T) {
	client := testutil.NewScriptedGenAI("sure!")
	server, st := testutil.NewTestServer(client)

	rr := httptest.NewRecorder()
	req := testutil.CreateHTTPRequest(t, "POST", "/chat", map[string]string{
		"role": "guardian",
		"text": "Mediator, what tasks are pending?",
	})
	server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, 200, rr.Code, "chat")

	turns, err := st.ListTurns(models.ChannelGuardianMediator)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) == 0 {
		t.Error("expected turn routed to guardian-mediator channel")
	}
}

func TestChatEndpointValidation(t *testing.T) {
	server, _ := testutil.NewTestServer(testutil.NewScriptedGenAI("ok"))

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"empty text", map[string]string{"channel": "guardian-mediator", "role": "guardian", "text": ""}, 400},
		{"bad channel", map[string]string{"channel": "party-line", "role": "guardian", "text": "hi"}, 400},
		{"role outside channel", map[string]string{"channel": "guardian-mediator", "role": "dependent", "text": "hi"}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/chat", tt.body))
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	client := testutil.NewScriptedGenAI("hello!")
	server, _ := testutil.NewTestServer(client)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/chat", map[string]string{
		"channel": "guardian-dependent", "role": "guardian", "text": "how was school?",
	}))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "chat")

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/chat/guardian-dependent/history", nil))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "history")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	turns, ok := resp["result"].([]interface{})
	if !ok || len(turns) != 2 {
		t.Fatalf("history = %v, want turn plus reply", resp["result"])
	}

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/chat/nonsense/history", nil))
	testutil.AssertHTTPStatus(t, 400, rr.Code, "bad channel history")
}

func TestTasksEndpointRejectsBadStatus(t *testing.T) {
	server, _ := testutil.NewTestServer(testutil.NewScriptedGenAI("ok"))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/tasks?status=Lost", nil))
	testutil.AssertHTTPStatus(t, 400, rr.Code, "bad status")
}

func TestZoneEndpoints(t *testing.T) {
	server, _ := testutil.NewTestServer(testutil.NewScriptedGenAI("ok"))

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/zone", nil))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "get zone")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	state := resp["result"].(map[string]interface{})
	if state["zone"] != "Green" {
		t.Errorf("initial zone = %v, want Green", state["zone"])
	}

	// Mediator Blue attempt is held, not committed.
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/zone", map[string]string{
		"zone": "Blue", "authorized_by": "mediator",
	}))
	testutil.AssertHTTPStatus(t, 202, rr.Code, "mediator blue")

	// Guardian commits.
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/zone", map[string]string{
		"zone": "Blue", "authorized_by": "guardian", "reason": "great week",
	}))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "guardian blue")
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	state = resp["result"].(map[string]interface{})
	if state["zone"] != "Blue" {
		t.Errorf("zone = %v, want Blue", state["zone"])
	}

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/zone", map[string]string{
		"zone": "Purple", "authorized_by": "guardian",
	}))
	testutil.AssertHTTPStatus(t, 400, rr.Code, "invalid zone")
}

func TestAnalysisLogsEndpoint(t *testing.T) {
	client := testutil.NewScriptedGenAI("done", addKitchenJSON)
	server, _ := testutil.NewTestServer(client)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/chat", map[string]string{
		"channel": "guardian-mediator", "role": "guardian", "text": "clean the kitchen at 6pm today",
	}))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "chat")

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "GET", "/analysis-logs?channel=guardian-mediator", nil))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "analysis logs")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	logs, ok := resp["result"].([]interface{})
	if !ok || len(logs) != 1 {
		t.Fatalf("logs = %v, want one entry", resp["result"])
	}
	entry := logs[0].(map[string]interface{})
	if entry["decision_kind"] != "create" {
		t.Errorf("decision_kind = %v, want create", entry["decision_kind"])
	}
}

func TestResetEndpoint(t *testing.T) {
	client := testutil.NewScriptedGenAI("done", addKitchenJSON)
	server, st := testutil.NewTestServer(client)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "POST", "/chat", map[string]string{
		"channel": "guardian-mediator", "role": "guardian", "text": "clean the kitchen at 6pm today",
	}))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "chat")

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, "DELETE", "/reset", nil))
	testutil.AssertHTTPStatus(t, 200, rr.Code, "reset")

	if tasks, _ := st.ListTasks(""); len(tasks) != 0 {
		t.Errorf("tasks after reset = %d, want 0", len(tasks))
	}
	if turns, _ := st.ListTurns(models.ChannelGuardianMediator); len(turns) != 0 {
		t.Errorf("turns after reset = %d, want 0", len(turns))
	}
}
