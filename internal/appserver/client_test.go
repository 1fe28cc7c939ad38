package appserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentmesh/go-transcript/internal/protocol"
	"github.com/agentmesh/go-transcript/internal/transcript"
)

func applyTurnStarted(t *testing.T, rec *transcript.Reconciler, turnID string) {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"turn": map[string]any{"id": turnID}})
	rec.Apply(protocol.Envelope{
		Kind:    protocol.KindNotification,
		Message: protocol.Message{Method: protocol.MethodTurnStarted, Params: raw},
	})
}

func applyCommandWithApproval(t *testing.T, rec *transcript.Reconciler, itemID string, requestID int64) {
	t.Helper()
	itemRaw, _ := json.Marshal(map[string]any{
		"item": map[string]any{"id": itemID, "type": "commandExecution", "command": "ls"},
	})
	rec.Apply(protocol.Envelope{
		Kind:    protocol.KindNotification,
		Message: protocol.Message{Method: protocol.MethodItemStarted, Params: itemRaw},
	})
	approvalRaw, _ := json.Marshal(map[string]any{"itemId": itemID})
	rec.Apply(protocol.Envelope{
		Kind: protocol.KindRequest,
		Message: protocol.Message{
			ID:     &requestID,
			Method: protocol.MethodCommandRequestApproval,
			Params: approvalRaw,
		},
	})
}

func TestReconnectDelayBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, reconnectBaseDelay},
		{3, 2 * reconnectBaseDelay},
		{4, 4 * reconnectBaseDelay},
		{100, reconnectMaxDelay},
	}
	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt); got != tt.want {
			t.Errorf("reconnectDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ws://127.0.0.1:4500/rpc", "127.0.0.1:4500"},
		{"ws://127.0.0.1:4500", "127.0.0.1:4500"},
		{"wss://host.example:443/x/y", "host.example:443"},
	}
	for _, tt := range tests {
		if got := hostPort(tt.in); got != tt.want {
			t.Errorf("hostPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDispatchMessageClassification(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", time.Second, 0)
	defer func() { _ = c.Close() }()

	var got []protocol.Envelope
	c.SetHandler(func(env protocol.Envelope) { got = append(got, env) })

	id := int64(3)
	c.dispatchMessage(protocol.Message{Method: "turn/started"})
	c.dispatchMessage(protocol.Message{ID: &id, Method: "item/commandExecution/requestApproval"})
	c.dispatchMessage(protocol.Message{Error: &protocol.RPCError{Code: 1, Message: "x"}})
	c.dispatchMessage(protocol.Message{}) // 无方法无错误 — 忽略

	if len(got) != 3 {
		t.Fatalf("dispatched = %d, want 3", len(got))
	}
	if got[0].Kind != protocol.KindNotification {
		t.Errorf("got[0].Kind = %s", got[0].Kind)
	}
	if got[1].Kind != protocol.KindRequest || got[1].Message.ID == nil {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].Kind != protocol.KindError {
		t.Errorf("got[2].Kind = %s", got[2].Kind)
	}
}

func TestHandleResponseResolvesPendingCall(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", time.Second, 0)
	defer func() { _ = c.Close() }()

	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(int64(1), pc)

	id := int64(1)
	handled := c.handleResponse(protocol.Message{ID: &id, Result: json.RawMessage(`{"ok":true}`)})
	if !handled {
		t.Fatal("handleResponse = false")
	}
	select {
	case <-pc.done:
	default:
		t.Fatal("pending call not resolved")
	}
	if string(pc.result) != `{"ok":true}` {
		t.Errorf("result = %s", pc.result)
	}
}

func TestHandleResponseError(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", time.Second, 0)
	defer func() { _ = c.Close() }()

	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(int64(2), pc)

	id := int64(2)
	c.handleResponse(protocol.Message{ID: &id, Error: &protocol.RPCError{Code: -32000, Message: "boom"}})
	if pc.err == nil {
		t.Fatal("err = nil, want rpc error")
	}
}

func TestHandleResponseIgnoresServerRequest(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", time.Second, 0)
	defer func() { _ = c.Close() }()

	id := int64(9)
	// server request 带 id 且带 method — 不是响应
	if c.handleResponse(protocol.Message{ID: &id, Method: "item/commandExecution/requestApproval"}) {
		t.Error("server request treated as response")
	}
}

func TestCallWithoutConnection(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", 50*time.Millisecond, 0)
	defer func() { _ = c.Close() }()

	if _, err := c.Call("initialize", nil); err == nil {
		t.Fatal("want error without connection")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := NewClient("ws://127.0.0.1:0", time.Second, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
