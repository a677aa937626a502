package resolver

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// coalescer runs one resolution per key no matter how many callers ask.
// The shared call runs on a context detached from every caller, so a
// caller that gives up does not cancel it for the others and the result
// still reaches the cache.
type coalescer struct {
	group singleflight.Group
}

// do waits for the shared result of fn or for ctx to end. fn receives a
// context that keeps the values of the first caller's context and ends
// after limit.
func (c *coalescer) do(ctx context.Context, key string, limit time.Duration, fn func(context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(detached, limit)
		defer cancel()

		return fn(rctx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
