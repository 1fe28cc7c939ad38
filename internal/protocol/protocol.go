// Package protocol defines the event envelope and method vocabulary
// consumed from the codex app-server push channel.
//
// The wire encoding beyond these shapes is owned by the transport; this
// package only models what the reconciler reads.
package protocol

import "encoding/json"

// Kind classifies one transport-delivered envelope.
type Kind string

const (
	KindNotification Kind = "notification"
	KindRequest      Kind = "request"
	KindStderr       Kind = "stderr"
	KindError        Kind = "error"
)

// Recognized notification/request methods.
const (
	MethodTurnStarted               = "turn/started"
	MethodTurnCompleted             = "turn/completed"
	MethodItemStarted               = "item/started"
	MethodItemCompleted             = "item/completed"
	MethodAgentMessageDelta         = "item/agentMessage/delta"
	MethodReasoningTextDelta        = "item/reasoning/textDelta"
	MethodReasoningSummaryDelta     = "item/reasoning/summaryTextDelta"
	MethodReasoningSummaryPart      = "item/reasoning/summaryPartAdded"
	MethodReasoningContentPart      = "item/reasoning/contentPartAdded"
	MethodMcpToolCallProgress       = "item/mcpToolCall/progress"
	MethodCommandRequestApproval    = "item/commandExecution/requestApproval"
	MethodFileChangeRequestApproval = "item/fileChange/requestApproval"
	MethodError                     = "error"
	MethodTokenUsageUpdated         = "thread/tokenUsage/updated"
)

// Message is the JSON-RPC payload inside an envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC level error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is one transport-delivered protocol event.
type Envelope struct {
	Kind    Kind    `json:"kind"`
	Message Message `json:"message"`
	// Line carries the raw text for stderr envelopes.
	Line string `json:"line,omitempty"`
}

// DecodeParams unmarshals the message params into a generic map.
// Returns an empty map on missing or malformed params.
func (m Message) DecodeParams() Params {
	out := map[string]any{}
	if len(m.Params) > 0 {
		_ = json.Unmarshal(m.Params, &out)
	}
	return Params(out)
}
