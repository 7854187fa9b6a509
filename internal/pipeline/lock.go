package pipeline

import "sync"

// chatLocks serializes turns per chat. Entries are dropped once unused.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

func (l *chatLocks) lock(chatID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}
