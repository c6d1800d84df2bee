package ip2

import (
	"context"
	"sync"
)

// collection memoizes the result of one fetch-and-scrape call for the
// lifetime of the client. Staleness is explicit: mutations that change the
// remote listing call Refresh, nothing expires on its own. The mutex makes
// the read-check-then-write of the memo safe under concurrent callers.
type collection[T any] struct {
	mu     sync.Mutex
	items  []T
	loaded bool
	fetch  func(ctx context.Context) ([]T, error)
}

func newCollection[T any](fetch func(ctx context.Context) ([]T, error)) *collection[T] {
	return &collection[T]{fetch: fetch}
}

// Get returns the cached items, fetching them on first use.
func (c *collection[T]) Get(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		items, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.items = items
		c.loaded = true
	}
	return c.items, nil
}

// Refresh re-fetches the listing wholesale, replacing the cached items.
func (c *collection[T]) Refresh(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.items = items
	c.loaded = true
	return c.items, nil
}

// Invalidate drops the cached items so the next Get fetches again.
func (c *collection[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.loaded = false
}
