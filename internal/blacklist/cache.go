package blacklist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wa_guard/internal/metrics"
	"wa_guard/internal/models"
	"wa_guard/internal/phone"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source is the authoritative blacklist store.
type Source interface {
	ListBlacklist(ctx context.Context, ownerUserID string) ([]models.BlacklistEntry, error)
}

// cacheEntry is replaced wholesale on refresh, never mutated.
type cacheEntry struct {
	byPhone   map[string]models.BlacklistEntry
	fetchedAt time.Time
	failed    bool
}

// Cache is a per-owner read-through cache of blacklist membership.
type Cache struct {
	source         Source
	ttl            time.Duration
	failureBackoff time.Duration
	normalize      func(string) string
	now            func() time.Time
	log            *zap.Logger

	mu     sync.RWMutex
	owners map[string]*cacheEntry
	// gen is bumped by Invalidate. A refresh that started under an older
	// generation does not store its result.
	gen    map[string]uint64
	flight singleflight.Group

	refreshFailures atomic.Uint64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithNormalizer replaces phone.Normalize.
func WithNormalizer(fn func(string) string) Option {
	return func(c *Cache) { c.normalize = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFailureBackoff sets how long a failed refresh is remembered.
func WithFailureBackoff(d time.Duration) Option {
	return func(c *Cache) { c.failureBackoff = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(source Source, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		source:         source,
		ttl:            ttl,
		failureBackoff: 5 * time.Second,
		normalize:      phone.Normalize,
		now:            time.Now,
		log:            zap.NewNop(),
		owners:         make(map[string]*cacheEntry),
		gen:            make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsBlacklisted returns the owner's entry for phone, or nil. A stale or missing
// owner list is refreshed once before answering. A failed refresh answers nil.
func (c *Cache) IsBlacklisted(ctx context.Context, rawPhone, ownerUserID string) *models.BlacklistEntry {
	normalized := c.normalize(rawPhone)
	if normalized == "" {
		return nil
	}

	entry := c.current(ownerUserID)
	if entry == nil || c.expired(entry) {
		entry = c.refresh(ctx, ownerUserID)
	}
	if entry == nil || entry.failed {
		return nil
	}

	if hit, ok := entry.byPhone[normalized]; ok {
		return &hit
	}
	return nil
}

// Invalidate drops the owner's cached list. Call after mutating the blacklist.
func (c *Cache) Invalidate(ownerUserID string) {
	c.mu.Lock()
	delete(c.owners, ownerUserID)
	c.gen[ownerUserID]++
	c.mu.Unlock()
	c.flight.Forget(ownerUserID)
}

// RefreshFailures counts refreshes that failed since start.
func (c *Cache) RefreshFailures() uint64 {
	return c.refreshFailures.Load()
}

func (c *Cache) current(ownerUserID string) *cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[ownerUserID]
}

func (c *Cache) expired(e *cacheEntry) bool {
	age := c.now().Sub(e.fetchedAt)
	if e.failed {
		return age > c.failureBackoff
	}
	return age > c.ttl
}

func (c *Cache) refresh(ctx context.Context, ownerUserID string) *cacheEntry {
	v, _, _ := c.flight.Do(ownerUserID, func() (interface{}, error) {
		// Another caller may have refreshed while we waited for the flight.
		if e := c.current(ownerUserID); e != nil && !c.expired(e) {
			return e, nil
		}

		gen := c.generation(ownerUserID)
		entries, err := c.source.ListBlacklist(ctx, ownerUserID)
		if err != nil {
			c.refreshFailures.Add(1)
			metrics.BlacklistRefreshes.WithLabelValues("error").Inc()
			c.log.Error("blacklist refresh failed, treating owner as having no blacklist",
				zap.String("owner_user_id", ownerUserID), zap.Error(err))
			e := &cacheEntry{fetchedAt: c.now(), failed: true}
			c.store(ownerUserID, gen, e)
			return e, nil
		}

		e := &cacheEntry{
			byPhone:   make(map[string]models.BlacklistEntry, len(entries)),
			fetchedAt: c.now(),
		}
		for _, entry := range entries {
			key := entry.NormalizedPhone
			if key == "" {
				key = c.normalize(entry.RawPhone)
			}
			if key == "" {
				continue
			}
			e.byPhone[key] = entry
		}
		if !c.store(ownerUserID, gen, e) {
			c.log.Debug("blacklist changed during refresh, result not cached", zap.String("owner_user_id", ownerUserID))
		}
		metrics.BlacklistRefreshes.WithLabelValues("ok").Inc()
		c.log.Debug("blacklist refreshed", zap.String("owner_user_id", ownerUserID), zap.Int("entries", len(e.byPhone)))
		return e, nil
	})

	e, _ := v.(*cacheEntry)
	return e
}

func (c *Cache) generation(ownerUserID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen[ownerUserID]
}

// store caches e unless the owner was invalidated after gen was read.
func (c *Cache) store(ownerUserID string, gen uint64, e *cacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[ownerUserID] != gen {
		return false
	}
	c.owners[ownerUserID] = e
	return true
}
