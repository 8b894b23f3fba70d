package supervise

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	done := make(chan struct{})
	go func() {
		Run(ctx, "test.cancel", func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			<-ctx.Done()
			return nil
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestRunRestartsAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int32

	done := make(chan struct{})
	go func() {
		Run(ctx, "test.restart", func(ctx context.Context) error {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return errors.New("boom")
			}
			cancel()
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not converge")
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int32

	done := make(chan struct{})
	go func() {
		Run(ctx, "test.panic", func(ctx context.Context) error {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				panic("boom")
			}
			cancel()
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not recover from panic and continue")
	}
}
