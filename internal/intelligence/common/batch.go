package common

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles the item at position i.
type ProcessFunc[T, R any] func(ctx context.Context, i int, item T) (R, error)

// ProcessBatch runs fn over items on at most workers goroutines. Results are
// written by index, so the output order equals the input order and the result
// is identical to a sequential loop. The first error cancels the remaining
// items and is returned.
func ProcessBatch[T, R any](ctx context.Context, items []T, workers int, fn ProcessFunc[T, R]) ([]R, error) {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out, nil
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range items {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i, items[i])
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
