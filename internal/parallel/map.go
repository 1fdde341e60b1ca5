package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result of a single mapped input.
type Result[D any] struct {
	Value D
	Err   error
}

// Map applies mapFunc to all inputs, running at most limit calls at a time,
// and returns the results in the order of inputs. Once ctx is done, inputs
// not started yet are not mapped and their result carries the context error.
//
//	for i, r := range parallel.Map(ctx, 4, paths, compile) {}
func Map[E, D any](ctx context.Context, limit int, inputs []E, mapFunc func(context.Context, E) (D, error)) []Result[D] {
	ret := make([]Result[D], len(inputs))
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				ret[i].Err = err
				return nil
			}
			d, err := mapFunc(ctx, in)
			ret[i] = Result[D]{Value: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return ret
}
