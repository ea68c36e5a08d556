package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGo_Success(t *testing.T) {
	ctx := context.Background()

	f := Go(ctx, time.Second, "test task", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	value, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 42 {
		t.Errorf("Expected 42, got %d", value)
	}
	if !f.Ready() {
		t.Error("future should be ready after Wait returns")
	}
}

func TestGo_WithError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("test error")

	f := Go(ctx, time.Second, "test task", func(ctx context.Context) (string, error) {
		return "ignored", wantErr
	})

	value, err := f.Wait(ctx)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected %v, got %v", wantErr, err)
	}
	if value != "" {
		t.Errorf("Expected zero value on error, got %q", value)
	}
}

func TestGo_Timeout(t *testing.T) {
	ctx := context.Background()

	f := Go(ctx, 50*time.Millisecond, "test task", func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(time.Second):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestGo_PanicRecovery(t *testing.T) {
	ctx := context.Background()

	f := Go(ctx, time.Second, "test task", func(ctx context.Context) (int, error) {
		panic("test panic")
	})

	_, err := f.Wait(ctx)
	if err == nil {
		t.Fatal("Expected panic to surface as an error")
	}
}

func TestFuture_WaitRespectsCallerContext(t *testing.T) {
	f := NewFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if f.Ready() {
		t.Error("unresolved future reported ready")
	}
}

func TestResolved(t *testing.T) {
	f := Resolved("done", nil)
	if !f.Ready() {
		t.Fatal("Resolved future should be ready")
	}
	value, err := f.Wait(context.Background())
	if err != nil || value != "done" {
		t.Errorf("unexpected result %q, %v", value, err)
	}
}

func TestWorkerPool_Basic(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, 16, "test pool", time.Second, nil)
	defer pool.Shutdown(time.Second)

	executed := atomic.Int32{}
	futures := make([]*Future[int], 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, Submit(pool, func(ctx context.Context) (int, error) {
			executed.Add(1)
			return i, nil
		}))
	}

	for i, f := range futures {
		value, err := f.Wait(ctx)
		if err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
		if value != i {
			t.Errorf("task %d returned %d", i, value)
		}
	}

	if executed.Load() != 10 {
		t.Errorf("Expected 10 executions, got %d", executed.Load())
	}
}

func TestWorkerPool_ErrorsReachFuture(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, 4, "test pool", time.Second, nil)
	defer pool.Shutdown(time.Second)

	f := Submit(pool, func(ctx context.Context) (int, error) {
		return 0, errors.New("test error")
	})

	if _, err := f.Wait(ctx); err == nil {
		t.Error("Expected task error on future")
	}
}

func TestWorkerPool_PanicReachesFuture(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 1, 4, "test pool", time.Second, nil)
	defer pool.Shutdown(time.Second)

	f := Submit(pool, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	if _, err := f.Wait(ctx); err == nil {
		t.Error("Expected panic to surface as an error")
	}

	// pool keeps working after a panic
	g := Submit(pool, func(ctx context.Context) (int, error) { return 1, nil })
	if v, err := g.Wait(ctx); err != nil || v != 1 {
		t.Errorf("pool unusable after panic: %d, %v", v, err)
	}
}

func TestWorkerPool_Shutdown(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, 8, "test pool", time.Second, nil)

	executed := atomic.Int32{}
	for i := 0; i < 5; i++ {
		Submit(pool, func(ctx context.Context) (struct{}, error) {
			time.Sleep(20 * time.Millisecond)
			executed.Add(1)
			return struct{}{}, nil
		})
	}

	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	if executed.Load() != 5 {
		t.Errorf("Expected 5 executions, got %d", executed.Load())
	}

	f := Submit(pool, func(ctx context.Context) (int, error) { return 1, nil })
	if _, err := f.Wait(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after shutdown, got %v", err)
	}

	// second shutdown is a no-op
	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown returned %v", err)
	}
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 1, 1, "test pool", 30*time.Millisecond, nil)
	defer pool.Shutdown(time.Second)

	f := Submit(pool, func(ctx context.Context) (bool, error) {
		select {
		case <-time.After(time.Second):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})

	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected task to time out, got %v", err)
	}
}

func TestWorkerPool_TrySubmitQueueFull(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 1, 1, "test pool", time.Second, nil)
	defer pool.Shutdown(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	busy := TrySubmit(pool, func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	queued := TrySubmit(pool, func(ctx context.Context) (int, error) { return 2, nil })

	rejected := TrySubmit(pool, func(ctx context.Context) (int, error) { return 3, nil })
	if !rejected.Ready() {
		t.Fatal("Expected a full queue to resolve the future immediately")
	}
	if _, err := rejected.Wait(ctx); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	if v, err := busy.Wait(ctx); err != nil || v != 1 {
		t.Errorf("running task: %d, %v", v, err)
	}
	if v, err := queued.Wait(ctx); err != nil || v != 2 {
		t.Errorf("queued task: %d, %v", v, err)
	}
}

func TestWorkerPool_TrySubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, 1, "test pool", time.Second, nil)
	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	f := TrySubmit(pool, func(ctx context.Context) (int, error) { return 1, nil })
	if _, err := f.Wait(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed after shutdown, got %v", err)
	}
}
