// Package workerpool runs a function over a slice with bounded concurrency.
package workerpool

import (
	"context"
	"errors"
	"sync"
)

// Each calls fn for every item using at most workers goroutines and passes the
// item position so callers can write results into a preallocated slice.
// A failing item does not stop the others; all errors are joined. Once ctx is
// done no further items are handed out and ctx.Err() is part of the result.
func Each[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, i int, item T) error) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	positions := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range positions {
				if err := fn(ctx, i, items[i]); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}

dispatch:
	for i := range items {
		select {
		case <-ctx.Done():
			break dispatch
		case positions <- i:
		}
	}
	close(positions)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
