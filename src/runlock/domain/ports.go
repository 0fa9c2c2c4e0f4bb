package domain

import (
	"context"

	"github.com/google/uuid"
)

// Lock is one held pipeline lock. Token proves ownership on release.
type Lock struct {
	Name  string
	Token uuid.UUID
}

type LockRepository interface {
	// Acquire takes the named lock. Returns false when somebody holds it.
	Acquire(ctx context.Context, l *Lock) (bool, error)
	// Release frees the lock if the token still owns it.
	Release(ctx context.Context, l *Lock) error
}

type LockUseCase interface {
	// RunExclusive runs fn under the named lock, or skips when the lock is
	// already held. Returns whether fn ran, and fn's error.
	RunExclusive(ctx context.Context, name string, fn func(context.Context) error) (bool, error)
}
