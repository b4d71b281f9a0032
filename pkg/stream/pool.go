package stream

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of engine inferences running at once.
// Inference is CPU-heavy; without a bound a burst of connections would
// thrash every stream at once instead of finishing some.
//
// Size the pool at roughly twice the expected concurrent stream count
// so identification work interleaves with recognition.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with n slots. n must be positive.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n))}
}

// Run executes fn while holding a pool slot, blocking until a slot is
// free. It returns the context error if ctx is cancelled while
// waiting; once fn starts it always runs to completion.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
