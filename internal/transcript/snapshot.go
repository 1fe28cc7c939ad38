package transcript

import (
	"fmt"

	"github.com/agentmesh/go-transcript/internal/protocol"
)

// Snapshot is a deep-copied, render-ready projection of the transcript.
// Mutating a snapshot never affects the reconciler.
type Snapshot struct {
	ThreadID     string          `json:"threadId"`
	Turns        []*Turn         `json:"turns"`
	ActiveTurnID string          `json:"activeTurnId,omitempty"`
	Usage        TokenUsage      `json:"usage"`
	Collapsed    map[string]bool `json:"collapsed"`
}

// Snapshot projects the current transcript. Reasoning entries are
// filtered out unless ShowReasoning is set; collapse state is seeded
// for collapsible entries that have no explicit state. An empty
// transcript projects as a single pending turn so callers always have
// something to render.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		ThreadID:     r.cfg.ThreadID,
		ActiveTurnID: r.active,
		Usage:        r.usage,
		Collapsed:    make(map[string]bool),
	}

	for _, id := range r.turnOrder {
		turn := r.turns[id].Clone()
		if !r.cfg.ShowReasoning {
			kept := turn.Entries[:0]
			for _, e := range turn.Entries {
				if e.Kind == EntryAssistant && e.Role == RoleReasoning {
					continue
				}
				kept = append(kept, e)
			}
			turn.Entries = kept
		}
		for _, e := range turn.Entries {
			if !e.Collapsible() {
				continue
			}
			if v, ok := r.collapsed[e.ID]; ok {
				snap.Collapsed[e.ID] = v
			} else {
				snap.Collapsed[e.ID] = r.cfg.CollapseByDefault
			}
		}
		snap.Turns = append(snap.Turns, turn)
	}

	if len(snap.Turns) == 0 {
		snap.Turns = []*Turn{{ID: PendingTurnID, Status: StatusUnknown}}
	}
	return snap
}

// LoadThread replaces the transcript with a historical thread snapshot
// (resume/fork). The last assistant message of an in-progress turn is
// marked streaming so rendering picks up where the backend left off.
func (r *Reconciler) LoadThread(th *protocol.Thread) {
	r.mu.Lock()

	r.resetLocked(th.ID)
	for _, wireTurn := range th.Turns {
		if wireTurn.ID == "" {
			continue
		}
		turn := r.ensureTurnLocked(wireTurn.ID)
		turn.Status = ParseTurnStatus(wireTurn.Status)
		for _, item := range wireTurn.Items {
			entry := EntryFromItem(item)
			if entry == nil || entry.ID == "" {
				continue
			}
			if entry.Kind == EntryAssistant {
				entry.Completed = true
			}
			r.index.BindItem(entry.ID, turn.ID)
			turn.Entries = append(turn.Entries, entry)
		}
		if turn.Status == StatusInProgress {
			r.active = turn.ID
			for i := len(turn.Entries) - 1; i >= 0; i-- {
				e := turn.Entries[i]
				if e.Kind == EntryAssistant && e.Role == RoleMessage {
					e.Streaming = true
					e.Completed = false
					break
				}
			}
		}
	}

	hook := r.onChange
	threadID := r.cfg.ThreadID
	r.mu.Unlock()

	if hook != nil {
		hook(threadID)
	}
}

// LoadThreadError replaces the transcript with a single system entry
// describing a snapshot that could not be decoded.
func (r *Reconciler) LoadThreadError(threadID string, err error) {
	r.mu.Lock()
	r.resetLocked(threadID)
	r.appendSystemLocked(fmt.Sprintf("failed to load thread history: %v", err), false, "")
	hook := r.onChange
	tid := r.cfg.ThreadID
	r.mu.Unlock()

	if hook != nil {
		hook(tid)
	}
}

// Reset clears all state and rescopes the reconciler to a thread.
func (r *Reconciler) Reset(threadID string) {
	r.mu.Lock()
	r.resetLocked(threadID)
	r.mu.Unlock()
}

func (r *Reconciler) resetLocked(threadID string) {
	if threadID != "" {
		r.cfg.ThreadID = threadID
	}
	r.turnOrder = nil
	r.turns = make(map[string]*Turn)
	r.active = ""
	r.index.Reset()
	r.collapsed = make(map[string]bool)
	r.usage = TokenUsage{}
}
