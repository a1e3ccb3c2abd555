// Package keylock serializes work that shares a key, such as two submissions
// carrying the same upload id. Different keys never block each other.
package keylock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive hold on key. The returned function releases
// it and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// MutexLocker is an in-process Locker backed by one mutex per active key.
// Entries are dropped once no goroutine holds or waits on them.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewMutexLocker returns an empty MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		var once sync.Once
		return func() { once.Do(func() { l.release(key, e) }) }, nil
	case <-ctx.Done():
		// The goroutine still takes the mutex eventually; hand it straight back.
		go func() {
			<-acquired
			l.release(key, e)
		}()
		return nil, ctx.Err()
	}
}

func (l *MutexLocker) release(key string, e *entry) {
	e.mu.Unlock()
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Active returns the number of keys currently held or awaited.
func (l *MutexLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
