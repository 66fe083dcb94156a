// Package lock serializes report commits per project. Different projects
// never contend.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context expired.
var ErrNotAcquired = errors.New("project lock not acquired")

// Locker hands out an exclusive per-project lock. The returned unlock
// function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, projectID string) (unlock func(), err error)
}

// Local is an in-process Locker. It keeps one channel per project that has
// ever been locked.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(projectID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[projectID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[projectID] = ch
	}
	return ch
}

func (l *Local) Lock(ctx context.Context, projectID string) (func(), error) {
	ch := l.slot(projectID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
