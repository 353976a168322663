// Package batch runs a function over a list of items with a bounded pool of goroutines, keeping the
// results in input order.
package batch

import (
	"context"
	"runtime"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Options of Map.
type Options struct {
	// Workers is the maximum number of items processed concurrently. Defaults to runtime.GOMAXPROCS(0).
	Workers int

	// FailFast stops scheduling new items after the first failure. Items never run get api.ErrAborted.
	FailFast bool
}

// Result of one item.
type Result[T any] struct {
	Value T
	Err   error
}

// Map calls fn on every item, concurrently, and returns the results in input order.
//
// Without FailFast every item is run and its error is reported in its own Result; the returned error
// is nil unless ctx is cancelled. With FailFast the first error cancels the scheduling of the remaining
// items, the results already completed are kept, and the first error is also returned.
func Map[In, Out any](ctx context.Context, opts Options, items []In, fn func(ctx context.Context, item In) (Out, error)) ([]Result[Out], error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result[Out], len(items))
	for i := range results {
		results[i].Err = api.ErrAborted
	}
	if len(items) == 0 {
		return results, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return nil
			}
			value, err := fn(gCtx, item)
			results[i] = Result[Out]{Value: value, Err: err}
			if err != nil {
				klog.V(2).Infof("batch: item %d failed: %v", i, err)
				if opts.FailFast {
					return errors.WithMessagef(err, "batch item %d", i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, errors.Wrap(err, "batch cancelled")
	}
	return results, nil
}
