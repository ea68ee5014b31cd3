package voicewire

import "sync"

// ConversationLedger is the append-only local record of conversation
// items, kept for observability and resume-after-reconnect
// bookkeeping. Items are never mutated; the ledger as a whole is
// cleared on disconnect.
type ConversationLedger struct {
	mu    sync.Mutex
	items []ConversationItem
}

func NewConversationLedger() *ConversationLedger {
	return &ConversationLedger{}
}

func (l *ConversationLedger) Append(item ConversationItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

// Snapshot returns a copy of the items in append order.
func (l *ConversationLedger) Snapshot() []ConversationItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConversationItem, len(l.items))
	copy(out, l.items)
	return out
}

func (l *ConversationLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *ConversationLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}
