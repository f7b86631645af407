// Package parallel runs independent reconstruction tasks on a bounded
// worker pool.
//
// Small batches run sequentially in the caller; the pool only pays off
// once there is more work than processors.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Options tunes Map.
type Options struct {
	// Workers bounds the pool. Zero means GOMAXPROCS.
	Workers int
	// Threshold is the smallest batch that is run on the pool. Zero means
	// GOMAXPROCS.
	Threshold int
}

func (o Options) normalized() Options {
	procs := runtime.GOMAXPROCS(0)
	if o.Workers <= 0 {
		o.Workers = procs
	}
	if o.Threshold <= 0 {
		o.Threshold = procs
	}
	return o
}

// Map calls fn for each item and collects the results by key. Duplicate
// items are processed once. The first error cancels the remaining work
// and is returned.
func Map[K comparable, V any](ctx context.Context, items []K, fn func(context.Context, K) (V, error), opts Options) (map[K]V, error) {
	opts = opts.normalized()
	unique := dedupe(items)
	out := make(map[K]V, len(unique))

	if len(unique) < opts.Threshold {
		for _, item := range unique {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := fn(ctx, item)
			if err != nil {
				return nil, err
			}
			out[item] = v
		}
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, item := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := fn(gctx, item)
			if err != nil {
				return err
			}
			mu.Lock()
			out[item] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Pair runs f and g on a two-worker pool and returns both results.
func Pair[A, B any](ctx context.Context, f func(context.Context) (A, error), g func(context.Context) (B, error)) (A, B, error) {
	var (
		a A
		b B
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(2)
	group.Go(func() error {
		var err error
		a, err = f(gctx)
		return err
	})
	group.Go(func() error {
		var err error
		b, err = g(gctx)
		return err
	})
	if err := group.Wait(); err != nil {
		var zeroA A
		var zeroB B
		return zeroA, zeroB, err
	}
	return a, b, nil
}

func dedupe[K comparable](items []K) []K {
	seen := make(map[K]struct{}, len(items))
	out := make([]K, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
