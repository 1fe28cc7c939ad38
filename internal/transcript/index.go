package transcript

import "sync"

// ApprovalRef locates the entry an approval request was attached to.
type ApprovalRef struct {
	TurnID  string
	EntryID string
	Kind    EntryKind
}

// Index correlates protocol identifiers with transcript placement:
// item ids to the turn that owns them, request ids to the entry whose
// approval they await.
//
// Item bindings are first-write-wins. The single exception is draining
// the pending bucket: when a real turn starts, items parked under
// PendingTurnID move to it. Approval bindings are overwrite; the
// backend may re-ask for the same request id.
type Index struct {
	mu        sync.RWMutex
	itemTurn  map[string]string
	approvals map[int64]ApprovalRef
}

// NewIndex creates an empty correlation index.
func NewIndex() *Index {
	return &Index{
		itemTurn:  make(map[string]string),
		approvals: make(map[int64]ApprovalRef),
	}
}

// BindItem records the owning turn of an item. An existing binding is
// kept and returned; the first event to name an item decides its home.
func (x *Index) BindItem(itemID, turnID string) string {
	if itemID == "" || turnID == "" {
		return turnID
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if bound, ok := x.itemTurn[itemID]; ok {
		return bound
	}
	x.itemTurn[itemID] = turnID
	return turnID
}

// RebindPending moves an item bound to the pending bucket onto a real
// turn. Items already bound elsewhere are untouched.
func (x *Index) RebindPending(itemID, turnID string) {
	if itemID == "" || turnID == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.itemTurn[itemID] == PendingTurnID {
		x.itemTurn[itemID] = turnID
	}
}

// TurnFor returns the turn an item is bound to.
func (x *Index) TurnFor(itemID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	turnID, ok := x.itemTurn[itemID]
	return turnID, ok
}

// RegisterApproval records (or replaces) the target of a request id.
func (x *Index) RegisterApproval(requestID int64, ref ApprovalRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.approvals[requestID] = ref
}

// ApprovalFor resolves a request id back to its entry.
func (x *Index) ApprovalFor(requestID int64) (ApprovalRef, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ref, ok := x.approvals[requestID]
	return ref, ok
}

// Reset drops all bindings (thread switch).
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.itemTurn = make(map[string]string)
	x.approvals = make(map[int64]ApprovalRef)
}

// Len returns the number of item bindings.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.itemTurn)
}
