package wealthlog

import (
	"sync"
	"time"
)

// UndoEntry records one appended transaction eligible for undo.
type UndoEntry struct {
	TransactionID int64     `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// UndoHistory is a bounded ring buffer of recent appends. It is owned by
// a Core instance and passed by reference; there is no package-level
// history.
type UndoHistory struct {
	mu      sync.Mutex
	entries []UndoEntry
	depth   int
}

// NewUndoHistory creates a history that keeps at most depth entries.
func NewUndoHistory(depth int) *UndoHistory {
	if depth <= 0 {
		depth = 1
	}
	return &UndoHistory{depth: depth}
}

// Push records an entry, evicting the oldest when full.
func (h *UndoHistory) Push(entry UndoEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.depth {
		h.entries = h.entries[len(h.entries)-h.depth:]
	}
}

// Pop removes and returns the most recent entry.
func (h *UndoHistory) Pop() (UndoEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return UndoEntry{}, false
	}
	entry := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	return entry, true
}

// Len returns the number of undoable entries.
func (h *UndoHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// UndoLast rolls back the most recently appended transaction, if any.
// A failed rollback pushes the entry back so the transaction stays
// undoable; a sync-lagged rollback does not, because the row is gone.
func (c *Core) UndoLast() (*Transaction, error) {
	entry, ok := c.undo.Pop()
	if !ok {
		return nil, NewError(ErrCodeNotFound, "nothing to undo")
	}
	t, err := c.GetTransaction(entry.TransactionID)
	if err != nil {
		c.undo.Push(entry)
		return nil, err
	}
	if t == nil {
		return nil, NewError(ErrCodeNotFound, "transaction already removed")
	}
	if err := c.RollbackTransaction(entry.TransactionID); err != nil {
		if !IsErrorCode(err, ErrCodeSync) {
			c.undo.Push(entry)
		}
		return nil, err
	}
	return t, nil
}
