package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/runlock/repository"
)

func TestRunExclusiveRunsAndReleases(t *testing.T) {
	svc := NewService(repository.NewMemoryLockRepo(), logger.New("dev"))
	ctx := context.Background()

	ran := false
	ok, err := svc.RunExclusive(ctx, "ingest", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ok || !ran {
		t.Fatalf("first run: ok=%v ran=%v err=%v", ok, ran, err)
	}

	// released, so it runs again
	ok, err = svc.RunExclusive(ctx, "ingest", func(context.Context) error { return nil })
	if err != nil || !ok {
		t.Errorf("second run: ok=%v err=%v", ok, err)
	}
}

func TestRunExclusiveReleasesOnError(t *testing.T) {
	svc := NewService(repository.NewMemoryLockRepo(), logger.New("dev"))
	ctx := context.Background()

	boom := errors.New("boom")
	ok, err := svc.RunExclusive(ctx, "convert", func(context.Context) error { return boom })
	if !ok || !errors.Is(err, boom) {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if ok, _ := svc.RunExclusive(ctx, "convert", func(context.Context) error { return nil }); !ok {
		t.Error("lock should be free after a failed run")
	}
}

func TestRunExclusiveSkipsWhenHeld(t *testing.T) {
	svc := NewService(repository.NewMemoryLockRepo(), logger.New("dev"))
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RunExclusive(ctx, "ingest", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	ok, err := svc.RunExclusive(ctx, "ingest", func(context.Context) error {
		t.Error("overlapping run must not execute")
		return nil
	})
	if err != nil || ok {
		t.Errorf("overlap: ok=%v err=%v", ok, err)
	}
	close(release)
	wg.Wait()
}
