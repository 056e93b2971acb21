package service

import (
	"context"
	"sync"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/lock"
)

// LocalLocker is an in-process lock.Locker keyed by dispute.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ lock.Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock acquires key or returns lock.ErrHeld.
func (l *LocalLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, lock.ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// chainLocker acquires every locker in order and releases in reverse.
type chainLocker []lock.Locker

// ChainLockers combines lockers; nil entries are skipped.
func ChainLockers(lockers ...lock.Locker) lock.Locker {
	var c chainLocker
	for _, l := range lockers {
		if l != nil {
			c = append(c, l)
		}
	}
	return c
}

func (c chainLocker) TryLock(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.TryLock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
