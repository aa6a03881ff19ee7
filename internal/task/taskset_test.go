package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSet_WaitBlocksUntilAllTasksComplete(t *testing.T) {
	var s Set
	var count int32

	for i := 0; i < 5; i++ {
		s.Go(func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&count, 1)
		})
	}
	s.Wait()

	if atomic.LoadInt32(&count) != 5 {
		t.Errorf("expected all 5 tasks to complete before Wait returns, got %d", count)
	}
}

func TestSet_GoRecoversPanic(t *testing.T) {
	var s Set
	s.Go(func() {
		panic("boom")
	})
	s.Wait() // must not propagate the panic to this goroutine
}

func TestSet_WaitContext_ReturnsNilWhenTasksFinishFirst(t *testing.T) {
	var s Set
	s.Go(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.WaitContext(ctx); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestSet_WaitContext_ReturnsContextErrorOnTimeout(t *testing.T) {
	var s Set
	s.Go(func() {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.WaitContext(ctx); err == nil {
		t.Error("expected a context deadline error when the task outlives the context")
	}
}
