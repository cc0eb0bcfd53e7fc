package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Go runs fn once per rank of w, each on its own goroutine, and waits for all of
// them. The first failure cancels the shared context and shuts the world down so
// ranks blocked on a message from the failed rank return instead of deadlocking.
func Go(ctx context.Context, w *World, fn func(ctx context.Context, c Comm) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < w.Size(); r++ {
		c := w.Rank(r)
		g.Go(func() error {
			defer c.Close()
			if err := fn(ctx, c); err != nil {
				w.Shutdown()
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
