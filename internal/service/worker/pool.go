package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mnemo-agent/mnemo/pkg/log"
)

// Pool runs background tasks with a global concurrency cap and strict
// per-user serialization. Read-modify-write cycles on per-user state (the
// memory tracker, the active window) are only safe because tasks for the
// same user never overlap.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

func NewPool(maxConcurrent int64) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		sem:   semaphore.NewWeighted(maxConcurrent),
		users: make(map[int64]*sync.Mutex),
	}
}

func (p *Pool) userLock(userID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.users[userID]
	if !ok {
		l = &sync.Mutex{}
		p.users[userID] = l
	}
	return l
}

// Go schedules fn on the user's queue, fire and forget. Errors and panics
// are logged, never propagated; background maintenance must not take the
// conversation down with it.
func (p *Pool) Go(ctx context.Context, userID int64, name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("task", name).Msg("background task not scheduled")
			return
		}
		defer p.sem.Release(1)

		lock := p.userLock(userID)
		lock.Lock()
		defer lock.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.FromCtx(ctx).Error().Interface("panic", r).Str("task", name).Int64("user_id", userID).Msg("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("task", name).Int64("user_id", userID).Msg("background task failed")
		}
	}()
}

// RunSync executes fn inline while holding the user's queue lock, so
// foreground turns and background tasks never interleave for one user.
func (p *Pool) RunSync(userID int64, fn func() error) error {
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Wait blocks until all scheduled tasks finish. Used on shutdown and by
// tests.
func (p *Pool) Wait() {
	p.wg.Wait()
}
