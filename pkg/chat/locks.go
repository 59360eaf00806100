package chat

import (
	"context"
	"sync"
)

// convLocks serializes sends per conversation. Entries are reference
// counted and removed once no sender holds or waits on them.
type convLocks struct {
	mu      sync.Mutex
	entries map[string]*convLock
}

type convLock struct {
	ch   chan struct{}
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{entries: make(map[string]*convLock)}
}

// acquire blocks until the conversation is free or ctx is done. The
// returned function releases the lock.
func (l *convLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &convLock{ch: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(id, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err()
	}
}

func (l *convLocks) release(id string, e *convLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *convLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
