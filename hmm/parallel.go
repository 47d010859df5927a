package hmm

import "golang.org/x/sync/errgroup"

// forEachBatch calls fn for every batch element in [0, n), spreading
// contiguous chunks over at most m.parallelism goroutines. It returns the
// error of the lowest failing index so results do not depend on scheduling.
func (m *HiddenMarkovModel) forEachBatch(n int, fn func(b int) error) error {
	workers := min(m.parallelism, n)
	if workers <= 1 {
		for b := range n {
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := (n + workers - 1) / workers
	errs := make([]error, workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for w := range workers {
		start, end := w*chunk, min((w+1)*chunk, n)
		g.Go(func() error {
			for b := start; b < end; b++ {
				if err := fn(b); err != nil {
					errs[w] = err
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	// Wait reports whichever chunk failed first in time; prefer the lowest.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
