package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// forEach runs job for every index in [0, total) on at most workers
// goroutines. Results go into caller-owned slots by index, so completion
// order never leaks into output order. The first error cancels the rest.
func forEach(ctx context.Context, total, workers int, onProgress func(current, total int), job func(ctx context.Context, i int) error) error {
	if total == 0 {
		return nil
	}

	// Determine worker count (min of workers setting and total jobs)
	workerCount := workers
	if workerCount <= 0 || total < workerCount {
		workerCount = total
	}

	var done int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	for i := 0; i < total; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := job(gctx, i); err != nil {
				return err
			}
			current := atomic.AddInt64(&done, 1)
			if onProgress != nil {
				onProgress(int(current), total)
			}
			return nil
		})
	}
	return g.Wait()
}
