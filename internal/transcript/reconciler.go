package transcript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/agentmesh/go-transcript/internal/protocol"
	"github.com/agentmesh/go-transcript/pkg/logger"
)

// Config controls reconciler projection behavior.
type Config struct {
	// ThreadID scopes the transcript; events tagged with a different
	// thread id are dropped.
	ThreadID string
	// ShowReasoning includes reasoning entries in snapshots.
	ShowReasoning bool
	// CollapseByDefault seeds collapse state for collapsible entries
	// that have no explicit state yet.
	CollapseByDefault bool
}

// TokenUsage is the latest cumulative token accounting for the thread.
type TokenUsage struct {
	Input       int64 `json:"input"`
	CachedInput int64 `json:"cachedInput"`
	Output      int64 `json:"output"`
	Total       int64 `json:"total"`
}

// Reconciler folds protocol envelopes into an ordered transcript. All
// methods are safe for concurrent use; Apply is a pure state fold with
// no I/O beyond logging.
type Reconciler struct {
	mu  sync.RWMutex
	cfg Config

	turnOrder []string
	turns     map[string]*Turn
	active    string

	index     *Index
	collapsed map[string]bool
	usage     TokenUsage

	localSeq int
	dropped  uint64

	onChange func(threadID string)
}

// New creates a reconciler for one thread.
func New(cfg Config) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		turns:     make(map[string]*Turn),
		index:     NewIndex(),
		collapsed: make(map[string]bool),
	}
}

// SetOnChange installs a hook invoked (outside the lock) after every
// mutating event, with the thread id.
func (r *Reconciler) SetOnChange(fn func(threadID string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// ThreadID returns the thread this reconciler is scoped to.
func (r *Reconciler) ThreadID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.ThreadID
}

// ActiveTurnID returns the currently running turn id, or "".
func (r *Reconciler) ActiveTurnID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Usage returns the latest token usage.
func (r *Reconciler) Usage() TokenUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage
}

// Dropped returns the count of events rejected by the thread filter.
func (r *Reconciler) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Index exposes the correlation index (gateway approval lookups).
func (r *Reconciler) Index() *Index {
	return r.index
}

// Apply folds one envelope into the transcript. Events for other
// threads are counted and dropped; unrecognized methods are ignored.
func (r *Reconciler) Apply(env protocol.Envelope) {
	p := env.Message.DecodeParams()

	r.mu.Lock()
	if tid := p.ThreadID(); tid != "" && tid != r.cfg.ThreadID {
		r.dropped++
		r.mu.Unlock()
		logger.Get().Debug("transcript: dropped foreign-thread event",
			logger.FieldThreadID, tid,
			logger.FieldMethod, env.Message.Method)
		return
	}
	changed := r.applyLocked(env, p)
	hook := r.onChange
	threadID := r.cfg.ThreadID
	r.mu.Unlock()

	if changed && hook != nil {
		hook(threadID)
	}
}

func (r *Reconciler) applyLocked(env protocol.Envelope, p protocol.Params) bool {
	switch env.Kind {
	case protocol.KindError:
		return r.handleRPCErrorLocked(env.Message.Error)
	case protocol.KindStderr:
		// stderr lines are routed through the log collector, not the
		// transcript
		return false
	case protocol.KindRequest:
		switch env.Message.Method {
		case protocol.MethodCommandRequestApproval:
			return r.handleApprovalLocked(env.Message.ID, p, EntryCommand)
		case protocol.MethodFileChangeRequestApproval:
			return r.handleApprovalLocked(env.Message.ID, p, EntryFileChange)
		}
		return false
	}

	switch env.Message.Method {
	case protocol.MethodTurnStarted:
		return r.handleTurnStartedLocked(p)
	case protocol.MethodTurnCompleted:
		return r.handleTurnCompletedLocked(p)
	case protocol.MethodItemStarted:
		return r.handleItemLocked(p, true)
	case protocol.MethodItemCompleted:
		return r.handleItemLocked(p, false)
	case protocol.MethodAgentMessageDelta:
		return r.handleAgentDeltaLocked(p)
	case protocol.MethodReasoningSummaryDelta:
		return r.handleReasoningDeltaLocked(p, true)
	case protocol.MethodReasoningTextDelta:
		return r.handleReasoningDeltaLocked(p, false)
	case protocol.MethodReasoningSummaryPart:
		return r.handleReasoningPartLocked(p, true)
	case protocol.MethodReasoningContentPart:
		return r.handleReasoningPartLocked(p, false)
	case protocol.MethodMcpToolCallProgress:
		return r.handleMcpProgressLocked(p)
	case protocol.MethodError:
		return r.handleErrorNotificationLocked(p)
	case protocol.MethodTokenUsageUpdated:
		return r.handleTokenUsageLocked(p)
	}
	return false
}

// ensureTurnLocked returns the turn with the given id, creating it in
// arrival order with StatusUnknown when absent.
func (r *Reconciler) ensureTurnLocked(id string) *Turn {
	if t, ok := r.turns[id]; ok {
		return t
	}
	t := &Turn{ID: id, Status: StatusUnknown}
	r.turns[id] = t
	r.turnOrder = append(r.turnOrder, id)
	return t
}

// resolveTurnIDLocked picks the target turn for an item-scoped event:
// explicit turn id, then the index binding, then the active turn, then
// the pending bucket.
func (r *Reconciler) resolveTurnIDLocked(p protocol.Params, itemID string) string {
	if id := p.TurnID(); id != "" {
		return id
	}
	if bound, ok := r.index.TurnFor(itemID); ok {
		return bound
	}
	if r.active != "" {
		return r.active
	}
	return PendingTurnID
}

func (r *Reconciler) handleTurnStartedLocked(p protocol.Params) bool {
	id := strings.TrimSpace(p.TurnID())
	if id == "" {
		return false
	}
	turn := r.ensureTurnLocked(id)
	if !turn.Status.Terminal() {
		turn.Status = StatusInProgress
	}
	r.active = id
	r.drainPendingLocked(turn)
	return true
}

// drainPendingLocked prepends the pending bucket's entries to the turn
// and rebinds their item ids, then removes the bucket.
func (r *Reconciler) drainPendingLocked(turn *Turn) {
	pending, ok := r.turns[PendingTurnID]
	if !ok {
		return
	}
	if len(pending.Entries) > 0 {
		turn.Entries = append(append([]*Entry(nil), pending.Entries...), turn.Entries...)
		for _, e := range pending.Entries {
			r.index.RebindPending(e.ID, turn.ID)
		}
	}
	delete(r.turns, PendingTurnID)
	for i, id := range r.turnOrder {
		if id == PendingTurnID {
			r.turnOrder = append(r.turnOrder[:i], r.turnOrder[i+1:]...)
			break
		}
	}
}

func (r *Reconciler) handleTurnCompletedLocked(p protocol.Params) bool {
	id := strings.TrimSpace(p.TurnID())
	if id == "" {
		return false
	}
	// an absent status field means completed; an unrecognized one
	// stays unknown
	status := StatusCompleted
	if raw := p.TurnStatus(); strings.TrimSpace(raw) != "" {
		status = ParseTurnStatus(raw)
	}
	turn := r.ensureTurnLocked(id)
	if !turn.Status.Terminal() {
		turn.Status = status
	}
	if r.active == id {
		r.active = ""
	}
	return true
}

func (r *Reconciler) handleItemLocked(p protocol.Params, started bool) bool {
	entry := EntryFromItem(p.Item())
	if entry == nil || entry.ID == "" {
		return false
	}
	// only assistant entries stream; the other kinds track their own
	// status field
	if entry.Kind == EntryAssistant {
		entry.Streaming = started
		entry.Completed = !started
	}

	turnID := r.resolveTurnIDLocked(p, entry.ID)
	r.index.BindItem(entry.ID, turnID)
	turn := r.ensureTurnLocked(turnID)
	r.mergeEntryLocked(turn, entry)
	return true
}

// mergeEntryLocked merges an incoming entry into the turn. Matching is
// by (kind, id), with one extra rule for user messages: an optimistic
// local entry with the same text adopts the server id instead of
// duplicating.
func (r *Reconciler) mergeEntryLocked(turn *Turn, incoming *Entry) {
	existing := turn.entry(incoming.Kind, incoming.ID)

	if existing == nil && incoming.Kind == EntryUser {
		for _, e := range turn.Entries {
			if e.Kind == EntryUser && strings.HasPrefix(e.ID, "local-") &&
				strings.TrimSpace(e.Text) == strings.TrimSpace(incoming.Text) {
				existing = e
				existing.ID = incoming.ID
				break
			}
		}
	}

	if existing == nil {
		turn.Entries = append(turn.Entries, incoming)
		return
	}

	existing.Role = incoming.Role
	if existing.Kind == EntryAssistant {
		existing.Streaming = incoming.Streaming
		existing.Completed = incoming.Completed
	}

	if incoming.Text != "" {
		existing.Text = incoming.Text
	}
	if incoming.ReasoningSummary != nil {
		existing.ReasoningSummary = incoming.ReasoningSummary
	}
	if incoming.ReasoningContent != nil {
		existing.ReasoningContent = incoming.ReasoningContent
	}
	if existing.Role == RoleReasoning {
		if text := joinReasoning(existing.ReasoningSummary, existing.ReasoningContent); text != "" {
			existing.Text = text
		}
	}

	existing.Attachments = mergeAttachments(existing.Attachments, incoming.Attachments)

	if incoming.Command != "" {
		existing.Command = incoming.Command
	}
	if incoming.AggregatedOutput != "" {
		existing.AggregatedOutput = incoming.AggregatedOutput
	}
	if incoming.ExitCode != nil {
		existing.ExitCode = incoming.ExitCode
	}
	if incoming.Status != "" {
		existing.Status = incoming.Status
	}
	if incoming.Changes != nil {
		existing.Changes = incoming.Changes
	}
	if incoming.Query != "" {
		existing.Query = incoming.Query
	}
	if incoming.Server != "" {
		existing.Server = incoming.Server
	}
	if incoming.Tool != "" {
		existing.Tool = incoming.Tool
	}
	if incoming.ToolArguments != nil {
		existing.ToolArguments = incoming.ToolArguments
	}
	if incoming.ToolResult != nil {
		existing.ToolResult = incoming.ToolResult
	}
	if incoming.ToolError != "" {
		existing.ToolError = incoming.ToolError
	}
	if incoming.DurationMS != 0 {
		existing.DurationMS = incoming.DurationMS
	}
	if incoming.Message != "" {
		existing.Message = incoming.Message
	}
	// Approval survives merges; only the backend re-sending the item
	// with a new request replaces it.
}

func (r *Reconciler) handleAgentDeltaLocked(p protocol.Params) bool {
	itemID := p.Str("itemId", "item_id")
	delta := p.Str("delta", "text")
	if itemID == "" || delta == "" {
		return false
	}
	turn, ok := r.turns[r.resolveTurnIDLocked(p, itemID)]
	if !ok {
		return false
	}
	entry := turn.assistantEntry(itemID, RoleMessage)
	if entry == nil {
		entry = &Entry{ID: itemID, Kind: EntryAssistant, Role: RoleMessage, Streaming: true}
		turn.Entries = append(turn.Entries, entry)
		r.index.BindItem(itemID, turn.ID)
	}
	entry.Text += delta
	entry.Streaming = true
	entry.Completed = false
	return true
}

func (r *Reconciler) handleReasoningDeltaLocked(p protocol.Params, summary bool) bool {
	itemID := p.Str("itemId", "item_id")
	delta := p.Str("delta", "text")
	if itemID == "" || delta == "" {
		return false
	}
	index := 0
	if summary {
		if v, ok := p.Int("summaryIndex", "summary_index", "index"); ok {
			index = v
		}
	} else {
		if v, ok := p.Int("contentIndex", "content_index", "index"); ok {
			index = v
		}
	}
	if index < 0 {
		return false
	}

	turn, ok := r.turns[r.resolveTurnIDLocked(p, itemID)]
	if !ok {
		return false
	}
	entry := turn.assistantEntry(itemID, RoleReasoning)
	if entry == nil {
		entry = &Entry{ID: itemID, Kind: EntryAssistant, Role: RoleReasoning, Streaming: true}
		turn.Entries = append(turn.Entries, entry)
		r.index.BindItem(itemID, turn.ID)
	}

	if summary {
		entry.ReasoningSummary = padParts(entry.ReasoningSummary, index)
		entry.ReasoningSummary[index] += delta
	} else {
		entry.ReasoningContent = padParts(entry.ReasoningContent, index)
		entry.ReasoningContent[index] += delta
	}
	entry.Text = joinReasoning(entry.ReasoningSummary, entry.ReasoningContent)
	return true
}

func (r *Reconciler) handleReasoningPartLocked(p protocol.Params, summary bool) bool {
	itemID := p.Str("itemId", "item_id")
	if itemID == "" {
		return false
	}
	index := 0
	if summary {
		if v, ok := p.Int("summaryIndex", "summary_index", "index"); ok {
			index = v
		}
	} else {
		if v, ok := p.Int("contentIndex", "content_index", "index"); ok {
			index = v
		}
	}
	if index < 0 {
		return false
	}

	turn, ok := r.turns[r.resolveTurnIDLocked(p, itemID)]
	if !ok {
		return false
	}
	entry := turn.assistantEntry(itemID, RoleReasoning)
	if entry == nil {
		entry = &Entry{ID: itemID, Kind: EntryAssistant, Role: RoleReasoning, Streaming: true}
		turn.Entries = append(turn.Entries, entry)
		r.index.BindItem(itemID, turn.ID)
	}
	if summary {
		entry.ReasoningSummary = padParts(entry.ReasoningSummary, index)
	} else {
		entry.ReasoningContent = padParts(entry.ReasoningContent, index)
	}
	return true
}

// padParts extends parts with empty strings so index is addressable.
func padParts(parts []string, index int) []string {
	for len(parts) <= index {
		parts = append(parts, "")
	}
	return parts
}

func (r *Reconciler) handleMcpProgressLocked(p protocol.Params) bool {
	itemID := p.Str("itemId", "item_id")
	if itemID == "" {
		return false
	}
	turn, ok := r.turns[r.resolveTurnIDLocked(p, itemID)]
	if !ok {
		return false
	}
	entry := turn.entry(EntryMcp, itemID)
	if entry == nil {
		return false
	}
	// progress lines live next to status, never replacing it
	msg := p.Str("message", "progress")
	if msg == "" {
		return false
	}
	entry.Message = msg
	return true
}

func (r *Reconciler) handleApprovalLocked(msgID *int64, p protocol.Params, kind EntryKind) bool {
	if msgID == nil {
		return false
	}
	itemID := p.Str("itemId", "item_id")
	if itemID == "" {
		return false
	}
	turn, ok := r.turns[r.resolveTurnIDLocked(p, itemID)]
	if !ok {
		return false
	}
	entry := turn.entry(kind, itemID)
	if entry == nil {
		return false
	}
	entry.Approval = &Approval{
		RequestID: *msgID,
		Reason:    p.Str("reason"),
	}
	r.index.RegisterApproval(*msgID, ApprovalRef{TurnID: turn.ID, EntryID: itemID, Kind: kind})
	return true
}

// handleErrorNotificationLocked reads the nested error object of an
// error notification. Events with no message are dropped.
func (r *Reconciler) handleErrorNotificationLocked(p protocol.Params) bool {
	errObj := p.Map("error")
	if errObj == nil {
		errObj = p
	}
	text := errObj.Str("message")
	if strings.TrimSpace(text) == "" {
		return false
	}
	willRetry, _ := errObj.Bool("willRetry", "will_retry")
	details := errObj.Str("additionalDetails", "additional_details")
	r.appendSystemLocked(text, willRetry, details)
	return true
}

func (r *Reconciler) handleRPCErrorLocked(rpcErr *protocol.RPCError) bool {
	if rpcErr == nil {
		return false
	}
	r.appendSystemLocked(fmt.Sprintf("%s (code %d)", rpcErr.Message, rpcErr.Code), false, "")
	return true
}

// appendSystemLocked appends a system error entry to the active turn,
// or to the pending bucket when nothing is running.
func (r *Reconciler) appendSystemLocked(text string, willRetry bool, details string) {
	turnID := r.active
	if turnID == "" {
		turnID = PendingTurnID
	}
	turn := r.ensureTurnLocked(turnID)
	r.localSeq++
	turn.Entries = append(turn.Entries, &Entry{
		ID:                fmt.Sprintf("sys-%d", r.localSeq),
		Kind:              EntrySystem,
		Tone:              "error",
		Text:              text,
		WillRetry:         willRetry,
		AdditionalDetails: details,
		Completed:         true,
	})
}

func (r *Reconciler) handleTokenUsageLocked(p protocol.Params) bool {
	usage := p.Map("usage", "tokenUsage", "token_usage")
	if usage == nil {
		usage = p
	}
	if v, ok := usage.Int64("input", "inputTokens", "input_tokens"); ok {
		r.usage.Input = v
	}
	if v, ok := usage.Int64("cachedInput", "cachedInputTokens", "cached_input_tokens"); ok {
		r.usage.CachedInput = v
	}
	if v, ok := usage.Int64("output", "outputTokens", "output_tokens"); ok {
		r.usage.Output = v
	}
	if v, ok := usage.Int64("total", "totalTokens", "total_tokens"); ok {
		r.usage.Total = v
	} else {
		r.usage.Total = r.usage.Input + r.usage.Output
	}
	return true
}

// AppendPendingUser records an optimistic user entry before the server
// echoes the item, returning the local entry id. The entry lands in
// the active turn or the pending bucket.
func (r *Reconciler) AppendPendingUser(text string, attachments []Attachment) string {
	r.mu.Lock()
	turnID := r.active
	if turnID == "" {
		turnID = PendingTurnID
	}
	turn := r.ensureTurnLocked(turnID)
	r.localSeq++
	id := fmt.Sprintf("local-%d", r.localSeq)
	turn.Entries = append(turn.Entries, &Entry{
		ID:          id,
		Kind:        EntryUser,
		Text:        text,
		Attachments: attachments,
	})
	hook := r.onChange
	threadID := r.cfg.ThreadID
	r.mu.Unlock()

	if hook != nil {
		hook(threadID)
	}
	return id
}

// AppendSystemError records a locally-originated failure (send failed,
// connection lost) as a system entry.
func (r *Reconciler) AppendSystemError(text string) {
	r.mu.Lock()
	r.appendSystemLocked(text, false, "")
	hook := r.onChange
	threadID := r.cfg.ThreadID
	r.mu.Unlock()

	if hook != nil {
		hook(threadID)
	}
}

// SetApprovalDecision records the client's answer on the entry holding
// the request. The approval stays attached; the backend clears it by
// re-sending the item.
func (r *Reconciler) SetApprovalDecision(requestID int64, decision string) bool {
	ref, ok := r.index.ApprovalFor(requestID)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.turns[ref.TurnID]
	if !ok {
		return false
	}
	entry := turn.entry(ref.Kind, ref.EntryID)
	if entry == nil || entry.Approval == nil || entry.Approval.RequestID != requestID {
		return false
	}
	entry.Approval.Decision = decision
	return true
}

// SetCollapsed records explicit collapse state for an entry.
func (r *Reconciler) SetCollapsed(entryID string, collapsed bool) {
	r.mu.Lock()
	r.collapsed[entryID] = collapsed
	r.mu.Unlock()
}
