package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/runlock/domain"
)

var _ domain.LockUseCase = (*Service)(nil)

type Service struct {
	lockRepo domain.LockRepository
	logger   *logger.Logger
}

func NewService(lockRepo domain.LockRepository, logg *logger.Logger) *Service {
	return &Service{
		lockRepo: lockRepo,
		logger:   logg,
	}
}

// RunExclusive guards a pipeline run against overlapping cron fires. The
// pipelines stay correct without it; it just avoids wasted duplicate work.
func (s *Service) RunExclusive(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	lock := &domain.Lock{Name: name, Token: uuid.New()}
	ok, err := s.lockRepo.Acquire(ctx, lock)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warnf("run %q skipped: lock is held", name)
		return false, nil
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), lock); err != nil {
			s.logger.Errorf("failed to release lock %q: %v", name, err)
		}
	}()
	return true, fn(ctx)
}
