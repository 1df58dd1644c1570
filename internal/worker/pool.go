package worker

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many pipelines run at the same time.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

func (p *Pool) Size() int {
	return p.size
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn on a pool goroutine and waits for it or for ctx, whichever ends first.
// Waiting for a free slot also counts against ctx. When ctx ends first the caller gets ctx.Err()
// while fn keeps its slot until it returns; fn receives the same ctx and should stop early.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		val, err := fn(ctx)
		done <- result[T]{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.val, r.err
		default:
			return zero, ctx.Err()
		}
	}
}
