// internal/circulation/locker.go
package circulation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// KeyedLocker is an in-process Locker with one mutex per book. Entries are
// dropped once nobody holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*bookLock
}

type bookLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[uuid.UUID]*bookLock)}
}

// Lock blocks until the book is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, bookID uuid.UUID) (func(), error) {
	l.mu.Lock()
	bl, ok := l.locks[bookID]
	if !ok {
		bl = &bookLock{sem: make(chan struct{}, 1)}
		l.locks[bookID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	select {
	case bl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(bookID, bl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-bl.sem
			l.release(bookID, bl)
		})
	}, nil
}

func (l *KeyedLocker) release(bookID uuid.UUID, bl *bookLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bl.refs--
	if bl.refs == 0 {
		delete(l.locks, bookID)
	}
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
