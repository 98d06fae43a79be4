package store

import "sync"

// roomLocks hands out one mutex per room id. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[int64]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[int64]*roomLock)}
}

// lock blocks until the caller holds the room's mutex and returns its release func.
func (l *roomLocks) lock(roomID int64) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}
