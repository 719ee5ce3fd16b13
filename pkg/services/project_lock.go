package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ProjectLocker serializes work per project inside one process. Waiting
// honours context cancellation.
type ProjectLocker interface {
	// Lock blocks until the project's lock is held or ctx is done. The
	// returned function releases the lock and must be called exactly once.
	Lock(ctx context.Context, projectID uuid.UUID) (func(), error)
}

type projectLock struct {
	sem     chan struct{}
	waiters int
}

type projectLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*projectLock
}

// NewProjectLocker creates an in-memory ProjectLocker.
func NewProjectLocker() ProjectLocker {
	return &projectLocker{locks: make(map[uuid.UUID]*projectLock)}
}

var _ ProjectLocker = (*projectLocker)(nil)

func (l *projectLocker) Lock(ctx context.Context, projectID uuid.UUID) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[projectID]
	if !ok {
		lock = &projectLock{sem: make(chan struct{}, 1)}
		l.locks[projectID] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(projectID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.release(projectID, lock)
		})
	}, nil
}

// release drops a reference and forgets idle locks.
func (l *projectLocker) release(projectID uuid.UUID, lock *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.waiters--
	if lock.waiters == 0 {
		delete(l.locks, projectID)
	}
}
