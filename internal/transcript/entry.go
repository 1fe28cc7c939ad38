// Package transcript reconciles unordered app-server protocol events
// into an ordered conversation transcript of turns and entries.
package transcript

import "strings"

// EntryKind classifies one transcript entry.
type EntryKind string

const (
	EntryUser       EntryKind = "user"
	EntryAssistant  EntryKind = "assistant"
	EntryCommand    EntryKind = "command"
	EntryFileChange EntryKind = "fileChange"
	EntryWebSearch  EntryKind = "webSearch"
	EntryMcp        EntryKind = "mcp"
	EntrySystem     EntryKind = "system"
)

// Role distinguishes assistant message entries from reasoning entries.
type Role string

const (
	RoleMessage   Role = "message"
	RoleReasoning Role = "reasoning"
)

// TurnStatus is the lifecycle state of a turn. Terminal statuses are
// absorbing: once a turn completes, fails or is interrupted its status
// never changes again, though entries may still be appended.
type TurnStatus string

const (
	StatusUnknown     TurnStatus = "unknown"
	StatusInProgress  TurnStatus = "inProgress"
	StatusCompleted   TurnStatus = "completed"
	StatusFailed      TurnStatus = "failed"
	StatusInterrupted TurnStatus = "interrupted"
)

// Terminal reports whether the status is absorbing.
func (s TurnStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// ParseTurnStatus maps a wire status string to a TurnStatus. Unknown or
// empty values parse to StatusUnknown.
func ParseTurnStatus(s string) TurnStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprogress", "in_progress", "in-progress", "active":
		return StatusInProgress
	case "completed", "complete", "done":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	case "interrupted", "cancelled", "canceled", "aborted":
		return StatusInterrupted
	}
	return StatusUnknown
}

// PendingTurnID is the sentinel bucket holding entries that arrive
// before any turn/started event names a real turn. It is drained into
// the next started turn.
const PendingTurnID = "__pending__"

// Attachment is one file attached to a user message.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

func (a Attachment) key() string { return a.Path + "\x00" + a.Name }

// FileChange is one file touched by a fileChange entry.
// LineNumbersAvailable is the backend's hint for diff rendering; nil
// means the renderer decides from the diff text itself.
type FileChange struct {
	Path                 string `json:"path"`
	Kind                 string `json:"kind,omitempty"`
	Diff                 string `json:"diff,omitempty"`
	LineNumbersAvailable *bool  `json:"lineNumbersAvailable,omitempty"`
}

// Approval is a pending (or answered) approval request attached to a
// command or file-change entry. Decision is recorded locally when the
// client responds; the approval itself is only cleared by the backend
// re-sending the item.
type Approval struct {
	RequestID int64  `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
	Decision  string `json:"decision,omitempty"`
}

// Entry is one transcript entry. Only the fields matching its Kind are
// populated.
type Entry struct {
	ID   string    `json:"id"`
	Kind EntryKind `json:"kind"`
	Role Role      `json:"role,omitempty"`

	Text      string `json:"text,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	Completed bool   `json:"completed,omitempty"`

	ReasoningSummary []string `json:"reasoningSummary,omitempty"`
	ReasoningContent []string `json:"reasoningContent,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregatedOutput,omitempty"`
	ExitCode         *int   `json:"exitCode,omitempty"`
	Status           string `json:"status,omitempty"`

	Changes []FileChange `json:"changes,omitempty"`

	Query string `json:"query,omitempty"`

	// Server through Message describe an mcp tool call. Arguments and
	// result are opaque wire payloads carried through untouched.
	// Message holds the latest progress line (or the error message).
	Server        string `json:"server,omitempty"`
	Tool          string `json:"tool,omitempty"`
	ToolArguments any    `json:"toolArguments,omitempty"`
	ToolResult    any    `json:"toolResult,omitempty"`
	ToolError     string `json:"toolError,omitempty"`
	DurationMS    int64  `json:"durationMs,omitempty"`
	Message       string `json:"message,omitempty"`

	Tone              string `json:"tone,omitempty"`
	WillRetry         bool   `json:"willRetry,omitempty"`
	AdditionalDetails string `json:"additionalDetails,omitempty"`

	Approval *Approval `json:"approval,omitempty"`
}

// Collapsible reports whether the entry participates in collapse state.
func (e *Entry) Collapsible() bool {
	switch e.Kind {
	case EntryCommand, EntryFileChange, EntryWebSearch, EntryMcp:
		return true
	}
	return false
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.ExitCode != nil {
		v := *e.ExitCode
		out.ExitCode = &v
	}
	if e.Approval != nil {
		a := *e.Approval
		out.Approval = &a
	}
	out.ReasoningSummary = append([]string(nil), e.ReasoningSummary...)
	out.ReasoningContent = append([]string(nil), e.ReasoningContent...)
	out.Attachments = append([]Attachment(nil), e.Attachments...)
	out.Changes = append([]FileChange(nil), e.Changes...)
	for i, c := range out.Changes {
		if c.LineNumbersAvailable != nil {
			v := *c.LineNumbersAvailable
			out.Changes[i].LineNumbersAvailable = &v
		}
	}
	return &out
}

// Turn is one ordered group of entries.
type Turn struct {
	ID      string     `json:"id"`
	Status  TurnStatus `json:"status"`
	Entries []*Entry   `json:"entries"`
}

// Clone deep-copies the turn and its entries.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := &Turn{ID: t.ID, Status: t.Status}
	if len(t.Entries) > 0 {
		out.Entries = make([]*Entry, 0, len(t.Entries))
		for _, e := range t.Entries {
			out.Entries = append(out.Entries, e.Clone())
		}
	}
	return out
}

// entryByID returns the turn entry with the given id, or nil.
func (t *Turn) entryByID(id string) *Entry {
	if t == nil || id == "" {
		return nil
	}
	for _, e := range t.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// entry returns the turn entry with the given identity, or nil. Entry
// identity is the (kind, id) pair: the same id under a different kind
// is a different entry.
func (t *Turn) entry(kind EntryKind, id string) *Entry {
	if t == nil || id == "" {
		return nil
	}
	for _, e := range t.Entries {
		if e.ID == id && e.Kind == kind {
			return e
		}
	}
	return nil
}

// assistantEntry returns the assistant entry with the given id and
// sub-role, or nil. Streaming deltas only ever target these.
func (t *Turn) assistantEntry(id string, role Role) *Entry {
	if t == nil || id == "" {
		return nil
	}
	for _, e := range t.Entries {
		if e.Kind == EntryAssistant && e.ID == id && e.Role == role {
			return e
		}
	}
	return nil
}
