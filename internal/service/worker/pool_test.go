package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPerUserSerialization(t *testing.T) {
	pool := NewPool(8)
	ctx := context.Background()

	var inFlight int32
	var maxInFlight int32
	for i := 0; i < 20; i++ {
		pool.Go(ctx, 1, "task", func(context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxInFlight)
				if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}
	pool.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("tasks for one user overlapped: max in flight %d", got)
	}
}

func TestDifferentUsersRunConcurrently(t *testing.T) {
	pool := NewPool(8)
	ctx := context.Background()

	var mu sync.Mutex
	running := make(map[int64]bool)
	overlapped := false

	var start sync.WaitGroup
	start.Add(2)
	for u := int64(1); u <= 2; u++ {
		userID := u
		pool.Go(ctx, userID, "task", func(context.Context) error {
			mu.Lock()
			running[userID] = true
			if len(running) == 2 {
				overlapped = true
			}
			mu.Unlock()

			start.Done()
			start.Wait() // hold until both tasks are in flight

			mu.Lock()
			delete(running, userID)
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()

	if !overlapped {
		t.Fatal("tasks for different users should run concurrently")
	}
}

func TestPanicDoesNotKillPool(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	pool.Go(ctx, 1, "panics", func(context.Context) error {
		panic("boom")
	})

	done := int32(0)
	pool.Go(ctx, 1, "after", func(context.Context) error {
		atomic.StoreInt32(&done, 1)
		return nil
	})
	pool.Wait()

	if atomic.LoadInt32(&done) != 1 {
		t.Fatal("task after a panic did not run")
	}
}

func TestRunSyncBlocksBackgroundTask(t *testing.T) {
	pool := NewPool(4)
	ctx := context.Background()

	order := make(chan string, 2)
	release := make(chan struct{})

	var started sync.WaitGroup
	started.Add(1)
	go func() {
		_ = pool.RunSync(1, func() error {
			started.Done()
			<-release
			order <- "sync"
			return nil
		})
	}()
	started.Wait()

	pool.Go(ctx, 1, "queued", func(context.Context) error {
		order <- "background"
		return nil
	})

	close(release)
	pool.Wait()

	if first := <-order; first != "sync" {
		t.Fatalf("background task ran before the foreground turn finished: %s", first)
	}
}
