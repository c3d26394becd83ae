// Package query caches fetched results under version-scoped keys.
//
// A Cache belongs to one domain of a beacon.Versions table. Every entry is
// stored under Versions.Key(domain, args...), so bumping the domain changes
// every key at once: the next Get misses and refetches, and entries for the
// superseded version are evicted.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/beacon"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

var (
	fetchID   = pipz.NewIdentity("query:fetch", "Fetch a query result")
	retryID   = pipz.NewIdentity("query:retry", "Retry a failed fetch")
	backoffID = pipz.NewIdentity("query:backoff", "Retry a failed fetch with backoff")
	timeoutID = pipz.NewIdentity("query:timeout", "Bound fetch time")
)

var (
	// CacheHit is emitted when Get is served from the cache.
	CacheHit = capitan.NewSignal("beacon.query.hit", "Query served from cache")

	// CacheMiss is emitted when Get has to fetch.
	CacheMiss = capitan.NewSignal("beacon.query.miss", "Query fetched")

	// CacheEvicted is emitted when a bump evicts superseded entries.
	CacheEvicted = capitan.NewSignal("beacon.query.evicted", "Superseded entries evicted")

	// KeyKey is the cache key.
	KeyKey = capitan.NewStringKey("key")

	// KeyCount is the number of entries evicted.
	KeyCount = capitan.NewIntKey("count")
)

// Fetcher loads the value for args.
type Fetcher[T any] func(ctx context.Context, args []string) (T, error)

// call is the value flowing through the fetch pipeline.
type call[T any] struct {
	args  []string
	value T
}

type entry[T any] struct {
	value   T
	version uint64
	stored  time.Time
}

type settings struct {
	clock    clockz.Clock
	ttl      time.Duration
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// Option configures a Cache.
type Option func(*settings)

// WithTTL expires entries d after they were fetched, even without a bump.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		s.ttl = d
	}
}

// WithClock sets the clock used for TTL expiry.
func WithClock(c clockz.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithRetry retries a failed fetch up to attempts times.
func WithRetry(attempts int) Option {
	return func(s *settings) {
		s.attempts = attempts
	}
}

// WithBackoff retries a failed fetch up to attempts times, doubling delay
// between attempts.
func WithBackoff(attempts int, delay time.Duration) Option {
	return func(s *settings) {
		s.attempts = attempts
		s.backoff = delay
	}
}

// WithTimeout fails a fetch that runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// Cache holds results for one domain.
type Cache[T any] struct {
	versions *beacon.Versions
	domain   string
	pipeline pipz.Chainable[*call[T]]
	clock    clockz.Clock
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]entry[T]

	unsubscribe beacon.Unsubscribe
}

// New creates a Cache for domain that loads misses with fetch. Call Close
// to stop evicting on bumps.
func New[T any](versions *beacon.Versions, domain string, fetch Fetcher[T], opts ...Option) *Cache[T] {
	s := settings{clock: clockz.RealClock}
	for _, opt := range opts {
		opt(&s)
	}

	var pipeline pipz.Chainable[*call[T]] = pipz.Apply(fetchID, func(ctx context.Context, c *call[T]) (*call[T], error) {
		v, err := fetch(ctx, c.args)
		if err != nil {
			return c, err
		}
		c.value = v
		return c, nil
	})
	if s.timeout > 0 {
		pipeline = pipz.NewTimeout(timeoutID, pipeline, s.timeout)
	}
	if s.attempts > 1 {
		if s.backoff > 0 {
			pipeline = pipz.NewBackoff(backoffID, pipeline, s.attempts, s.backoff)
		} else {
			pipeline = pipz.NewRetry(retryID, pipeline, s.attempts)
		}
	}

	c := &Cache[T]{
		versions: versions,
		domain:   domain,
		pipeline: pipeline,
		clock:    s.clock,
		ttl:      s.ttl,
		entries:  make(map[string]entry[T]),
	}
	c.unsubscribe = versions.Subscribe(c.evict)
	return c
}

// Domain returns the version domain this cache follows.
func (c *Cache[T]) Domain() string {
	return c.domain
}

// Key returns the current cache key for args.
func (c *Cache[T]) Key(args ...string) string {
	return c.versions.Key(c.domain, args...)
}

// Get returns the value for args at the domain's current version, fetching
// it on a miss. A value fetched while the domain was bumped is returned but
// not stored.
func (c *Cache[T]) Get(ctx context.Context, args ...string) (T, error) {
	version := c.versions.Version(c.domain)
	key := beacon.FormatKey(c.domain, version, args...)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.ttl > 0 && c.clock.Since(e.stored) >= c.ttl {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		capitan.Emit(ctx, CacheHit, KeyKey.Field(key))
		return e.value, nil
	}

	capitan.Emit(ctx, CacheMiss, KeyKey.Field(key))
	result, err := c.pipeline.Process(ctx, &call[T]{args: args})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch %s failed: %w", key, err)
	}

	c.mu.Lock()
	if c.versions.Version(c.domain) == version {
		c.entries[key] = entry[T]{value: result.value, version: version, stored: c.clock.Now()}
	}
	c.mu.Unlock()

	return result.value, nil
}

// Len returns the number of stored entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops following version bumps. Entries are kept.
func (c *Cache[T]) Close() {
	c.unsubscribe()
}

func (c *Cache[T]) evict(change beacon.VersionChange) {
	if change.Domain != c.domain {
		return
	}

	c.mu.Lock()
	n := 0
	for key, e := range c.entries {
		if e.version < change.Version {
			delete(c.entries, key)
			n++
		}
	}
	c.mu.Unlock()

	if n > 0 {
		capitan.Emit(context.Background(), CacheEvicted,
			beacon.KeyDomain.Field(c.domain),
			KeyCount.Field(n),
		)
	}
}
