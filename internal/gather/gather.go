// Package gather runs independent subtree operations concurrently and waits
// for all of them, returning the first error.
package gather

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every item concurrently, at most limit at a time
// (limit <= 0 means unbounded). The context passed to fn is cancelled as soon
// as one call fails.
func Each[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, i int, item T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			return fn(ctx, i, item)
		})
	}
	return g.Wait()
}

// Map is Each with one result per item, kept in input order.
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	err := Each(ctx, limit, items, func(ctx context.Context, i int, item T) error {
		r, err := fn(ctx, item)
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
