package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mnikzad/tokengate/src/runlock/domain"
)

var _ domain.LockRepository = (*MemoryLockRepo)(nil)

// MemoryLockRepo backs the run lock in dev mode. Locks held by a crashed
// process die with it, which is the right behavior for an in-process lock.
type MemoryLockRepo struct {
	mu    sync.Mutex
	locks map[string]uuid.UUID
}

func NewMemoryLockRepo() *MemoryLockRepo {
	return &MemoryLockRepo{locks: map[string]uuid.UUID{}}
}

func (r *MemoryLockRepo) Acquire(_ context.Context, l *domain.Lock) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.locks[l.Name]; held {
		return false, nil
	}
	r.locks[l.Name] = l.Token
	return true, nil
}

func (r *MemoryLockRepo) Release(_ context.Context, l *domain.Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, held := r.locks[l.Name]; held && token == l.Token {
		delete(r.locks, l.Name)
	}
	return nil
}
