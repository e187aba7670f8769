package wealthlog

import "sync"

// accountLocks is a registry of per-account mutexes. Reconstruction and
// lot mutation for one account are a serialized critical section; work
// on different accounts proceeds in parallel.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: map[string]*sync.Mutex{}}
}

// Acquire locks the mutex for accountID, creating it on first use, and
// returns the unlock function.
func (l *accountLocks) Acquire(accountID string) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
