package service

import (
	"context"
	"sync"
)

// userLocks is a keyed mutex: one slot per user id, dropped when nobody
// holds or waits for it.
type userLocks struct {
	mu    sync.Mutex
	slots map[int64]*userSlot
}

type userSlot struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{slots: make(map[int64]*userSlot)}
}

// lock blocks until the user's slot is free or ctx is done. The returned
// function releases the slot.
func (l *userLocks) lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[userID]
	if !ok {
		slot = &userSlot{ch: make(chan struct{}, 1)}
		l.slots[userID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			l.release(userID, slot)
		}, nil
	case <-ctx.Done():
		l.release(userID, slot)
		return nil, ctx.Err()
	}
}

func (l *userLocks) release(userID int64, slot *userSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, userID)
	}
	l.mu.Unlock()
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
