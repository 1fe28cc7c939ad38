package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/go-transcript/internal/bus"
	"github.com/agentmesh/go-transcript/internal/protocol"
	"github.com/agentmesh/go-transcript/internal/transcript"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *transcript.Reconciler) {
	t.Helper()
	rec := transcript.New(transcript.Config{ThreadID: "th-1", ShowReasoning: true})
	return NewServer(rec, nil, bus.NewMessageBus(), 200), rec
}

func apply(t *testing.T, rec *transcript.Reconciler, method string, params map[string]any) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	rec.Apply(protocol.Envelope{
		Kind:    protocol.KindNotification,
		Message: protocol.Message{JSONRPC: "2.0", Method: method, Params: raw},
	})
}

func doGet(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Engine().ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return w.Code, body
}

func TestGetTranscriptEmptyPlaceholder(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := doGet(t, s, "/api/transcript")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	data := body["data"].(map[string]any)
	turns := data["turns"].([]any)
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1 placeholder", len(turns))
	}
	placeholder := turns[0].(map[string]any)
	if placeholder["id"] != transcript.PendingTurnID {
		t.Errorf("placeholder id = %v", placeholder["id"])
	}
}

func TestGetTranscriptWithEntries(t *testing.T) {
	s, rec := newTestServer(t)
	apply(t, rec, protocol.MethodTurnStarted, map[string]any{
		"threadId": "th-1", "turn": map[string]any{"id": "t1"},
	})
	apply(t, rec, protocol.MethodItemCompleted, map[string]any{
		"threadId": "th-1", "turnId": "t1",
		"item": map[string]any{"id": "i1", "type": "agentMessage", "text": "hello"},
	})

	code, body := doGet(t, s, "/api/transcript")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	data := body["data"].(map[string]any)
	turns := data["turns"].([]any)
	if len(turns) != 1 {
		t.Fatalf("turns = %d", len(turns))
	}
	entries := turns[0].(map[string]any)["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if got := entries[0].(map[string]any)["text"]; got != "hello" {
		t.Errorf("text = %v", got)
	}
}

func TestGetTurnByID(t *testing.T) {
	s, rec := newTestServer(t)
	apply(t, rec, protocol.MethodTurnStarted, map[string]any{
		"threadId": "th-1", "turn": map[string]any{"id": "t1"},
	})

	code, body := doGet(t, s, "/api/transcript/turns/t1")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	data := body["data"].(map[string]any)
	if data["id"] != "t1" {
		t.Errorf("turn id = %v", data["id"])
	}

	code, body = doGet(t, s, "/api/transcript/turns/missing")
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
}

func TestGetEntryDiff(t *testing.T) {
	s, rec := newTestServer(t)
	apply(t, rec, protocol.MethodTurnStarted, map[string]any{
		"threadId": "th-1", "turn": map[string]any{"id": "t1"},
	})
	apply(t, rec, protocol.MethodItemCompleted, map[string]any{
		"threadId": "th-1", "turnId": "t1",
		"item": map[string]any{
			"id": "fc1", "type": "fileChange",
			"changes": []map[string]any{
				{"path": "main.go", "kind": "update", "diff": "@@ -1,1 +1,1 @@\n-old\n+new"},
			},
		},
	})

	code, body := doGet(t, s, "/api/transcript/entries/fc1/diff")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	data := body["data"].(map[string]any)
	if data["titlePrefix"] != "Edited" {
		t.Errorf("titlePrefix = %v", data["titlePrefix"])
	}
	if data["titleContent"] != "main.go" {
		t.Errorf("titleContent = %v", data["titleContent"])
	}
	if data["totalAdded"].(float64) != 1 || data["totalRemoved"].(float64) != 1 {
		t.Errorf("totals = %v/%v", data["totalAdded"], data["totalRemoved"])
	}

	// 非 fileChange entry 拒绝
	apply(t, rec, protocol.MethodItemCompleted, map[string]any{
		"threadId": "th-1", "turnId": "t1",
		"item": map[string]any{"id": "m1", "type": "agentMessage", "text": "hi"},
	})
	code, _ = doGet(t, s, "/api/transcript/entries/m1/diff")
	if code != http.StatusBadRequest {
		t.Errorf("non-fileChange status = %d, want 400", code)
	}

	code, _ = doGet(t, s, "/api/transcript/entries/nope/diff")
	if code != http.StatusNotFound {
		t.Errorf("missing entry status = %d, want 404", code)
	}
}

func TestGetStatus(t *testing.T) {
	s, rec := newTestServer(t)
	apply(t, rec, protocol.MethodTurnStarted, map[string]any{
		"threadId": "th-1", "turn": map[string]any{"id": "t1"},
	})
	// 别的 thread 的事件会被丢弃并计数
	apply(t, rec, protocol.MethodTurnStarted, map[string]any{
		"threadId": "th-other", "turn": map[string]any{"id": "tx"},
	})

	code, body := doGet(t, s, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	data := body["data"].(map[string]any)
	if data["threadId"] != "th-1" {
		t.Errorf("threadId = %v", data["threadId"])
	}
	if data["activeTurnId"] != "t1" {
		t.Errorf("activeTurnId = %v", data["activeTurnId"])
	}
	if data["dropped"].(float64) != 1 {
		t.Errorf("dropped = %v", data["dropped"])
	}
}

func TestGetUsage(t *testing.T) {
	s, rec := newTestServer(t)
	apply(t, rec, protocol.MethodTokenUsageUpdated, map[string]any{
		"threadId": "th-1",
		"usage":    map[string]any{"input": 100, "output": 40, "total": 140},
	})

	code, body := doGet(t, s, "/api/usage")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	data := body["data"].(map[string]any)
	if data["total"].(float64) != 140 {
		t.Errorf("total = %v", data["total"])
	}
}

func TestJournalEventsDisabled(t *testing.T) {
	s, _ := newTestServer(t)

	code, body := doGet(t, s, "/api/journal/events")
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "journal_disabled" {
		t.Errorf("error code = %v", errObj["code"])
	}
}

func TestQueryLimit(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		query string
		want  int
	}{
		{"", 200},
		{"limit=50", 50},
		{"limit=0", 200},
		{"limit=-3", 200},
		{"limit=99999", 2000},
		{"limit=abc", 200},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/api/journal/events?"+tc.query, nil)
		if got := s.queryLimit(c); got != tc.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}
