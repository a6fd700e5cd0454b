package usecase

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for a cache key. A nil result means "nothing to cache".
type Loader[T any] func(ctx context.Context) (*T, error)

// Cache lookup outcomes reported to a CacheObserver.
const (
	CacheResultHit    = "hit"
	CacheResultLoad   = "load"
	CacheResultShared = "shared"
	CacheResultError  = "error"
)

// CacheObserver is notified once per Get with the outcome of the lookup.
type CacheObserver interface {
	ObserveCacheLookup(cache, result string)
}

type getOptions struct {
	force bool
}

// GetOption customises a single Get call.
type GetOption func(*getOptions)

// WithForce discards any cached value before the lookup is evaluated.
func WithForce() GetOption {
	return func(o *getOptions) {
		o.force = true
	}
}

type flightEntry[T any] struct {
	value      *T
	generation uint64
}

// SingleFlight deduplicates concurrent loads per key and keeps the last resolved value
// until it is explicitly invalidated.
type SingleFlight[T any] struct {
	name     string
	mu       sync.Mutex
	entries  map[string]*flightEntry[T]
	epoch    uint64
	group    singleflight.Group
	observer CacheObserver
}

// SingleFlightOption configures a SingleFlight cache.
type SingleFlightOption func(*singleFlightConfig)

type singleFlightConfig struct {
	observer CacheObserver
}

// WithCacheObserver attaches an observer that receives lookup outcomes.
func WithCacheObserver(observer CacheObserver) SingleFlightOption {
	return func(cfg *singleFlightConfig) {
		cfg.observer = observer
	}
}

// NewSingleFlight constructs an empty cache. The name labels observer callbacks.
func NewSingleFlight[T any](name string, opts ...SingleFlightOption) *SingleFlight[T] {
	cfg := singleFlightConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &SingleFlight[T]{
		name:     name,
		entries:  make(map[string]*flightEntry[T]),
		observer: cfg.observer,
	}
}

// Get returns the cached value for key, joining an in-flight load or starting one when needed.
//
// Errors returned by loader reach every caller attached to the same load and are never cached.
// A caller whose ctx ends stops waiting, but the shared load runs to completion.
func (c *SingleFlight[T]) Get(ctx context.Context, key string, loader Loader[T], opts ...GetOption) (*T, error) {
	var options getOptions
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	entry := c.entryLocked(key)
	if options.force {
		entry.value = nil
	}
	if entry.value != nil {
		value := entry.value
		c.mu.Unlock()
		c.observe(CacheResultHit)
		return value, nil
	}
	generation := entry.generation
	c.mu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(loadCtx, key, generation, loader)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.observe(CacheResultError)
			return nil, res.Err
		}
		if res.Shared {
			c.observe(CacheResultShared)
		} else {
			c.observe(CacheResultLoad)
		}
		value, _ := res.Val.(*T)
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the cached value without loading.
func (c *SingleFlight[T]) Peek(key string) (*T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.value == nil {
		return nil, false
	}
	return entry.value, true
}

// Invalidate drops the entry for key and detaches any pending load so the next Get re-fetches.
// Entries are recreated with a fresh generation, so a load started earlier cannot repopulate.
func (c *SingleFlight[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.group.Forget(key)
}

func (c *SingleFlight[T]) load(ctx context.Context, key string, generation uint64, loader Loader[T]) (value *T, err error) {
	// A load that finished between the caller's miss and this flight starting already
	// populated the entry.
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && entry.generation == generation && entry.value != nil {
		value = entry.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("cache %s: loader for %q panicked: %v", c.name, key, r)
		}
	}()

	value, err = loader(ctx)
	if err != nil || value == nil {
		return value, err
	}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && entry.generation == generation {
		entry.value = value
	}
	c.mu.Unlock()

	return value, nil
}

func (c *SingleFlight[T]) entryLocked(key string) *flightEntry[T] {
	entry, ok := c.entries[key]
	if !ok {
		c.epoch++
		entry = &flightEntry[T]{generation: c.epoch}
		c.entries[key] = entry
	}
	return entry
}

func (c *SingleFlight[T]) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(c.name, result)
	}
}
