package protocol

import (
	"encoding/json"
	"errors"
)

// ErrEmptySnapshot reports a resume/fork result with no usable thread.
var ErrEmptySnapshot = errors.New("empty thread snapshot")

// Thread is the full snapshot returned by thread resume/fork calls.
// Items stay as raw maps; the transcript normalizer owns their shapes.
type Thread struct {
	ID    string       `json:"id"`
	Turns []ThreadTurn `json:"turns"`
}

// ThreadTurn is one historical turn inside a thread snapshot.
type ThreadTurn struct {
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Items  []map[string]any `json:"items"`
}

// ParseThread decodes a thread snapshot from a raw RPC result. The
// snapshot may arrive bare or wrapped in a "thread" field.
func ParseThread(raw json.RawMessage) (*Thread, error) {
	if len(raw) == 0 {
		return nil, ErrEmptySnapshot
	}

	var wrapped struct {
		Thread *Thread `json:"thread"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Thread != nil && wrapped.Thread.ID != "" {
		return wrapped.Thread, nil
	}

	var t Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, ErrEmptySnapshot
	}
	return &t, nil
}
