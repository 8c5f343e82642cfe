package session

import "pairchat/pkg/types"

// WaitingPool holds waiting connections in FIFO order.
// It is owned by the event loop and must only be touched from it; it does not
// deduplicate, so callers must not enqueue a connection that is already waiting.
type WaitingPool struct {
	entries []types.WaitingEntry
}

// NewWaitingPool creates an empty pool
func NewWaitingPool() *WaitingPool {
	return &WaitingPool{}
}

// Enqueue appends the entry at the tail
func (p *WaitingPool) Enqueue(entry types.WaitingEntry) {
	p.entries = append(p.entries, entry)
}

// DequeueNext removes and returns the longest-waiting entry
func (p *WaitingPool) DequeueNext() (types.WaitingEntry, bool) {
	if len(p.entries) == 0 {
		return types.WaitingEntry{}, false
	}

	head := p.entries[0]
	p.entries[0] = types.WaitingEntry{}
	p.entries = p.entries[1:]
	return head, true
}

// Remove deletes the first entry for connectionID and reports whether one was found.
// The boolean is how a timeout and an explicit cancel learn which of them won.
func (p *WaitingPool) Remove(connectionID string) bool {
	for i, entry := range p.entries {
		if entry.ConnectionID == connectionID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether connectionID is waiting
func (p *WaitingPool) Contains(connectionID string) bool {
	for _, entry := range p.entries {
		if entry.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

// Len returns the number of waiting entries
func (p *WaitingPool) Len() int {
	return len(p.entries)
}

// Snapshot returns an independent copy of the entries in FIFO order
func (p *WaitingPool) Snapshot() []types.WaitingEntry {
	out := make([]types.WaitingEntry, len(p.entries))
	copy(out, p.entries)
	return out
}
