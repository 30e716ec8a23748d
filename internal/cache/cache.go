// Package cache holds the last fetched value of every tile.
//
// Each tile identity owns one slot. A slot publishes immutable entries through
// an atomic pointer, so readers never block and never observe a partial write.
// Writers for the same identity are serialised by a per-slot mutex that is held
// only for the swap itself.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// Clock returns the current time
type Clock func() time.Time

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the wall clock, mostly for tests
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.now = clock
		}
	}
}

type slot struct {
	mu         sync.Mutex
	generation uint64
	entry      atomic.Pointer[model.CacheEntry]
}

// Cache is a per-tile value cache with last-good fallback
type Cache struct {
	logger *zap.Logger
	now    Clock
	slots  sync.Map // model.TileID -> *slot
}

// New creates an empty cache
func New(logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		logger: logger.Named("cache"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) slotFor(id model.TileID) *slot {
	if s, ok := c.slots.Load(id); ok {
		return s.(*slot)
	}
	s, _ := c.slots.LoadOrStore(id, &slot{})
	return s.(*slot)
}

// Get returns the current entry, or the zero entry if nothing was ever written
func (c *Cache) Get(id model.TileID) model.CacheEntry {
	s, ok := c.slots.Load(id)
	if !ok {
		return model.CacheEntry{}
	}
	if e := s.(*slot).entry.Load(); e != nil {
		return *e
	}
	return model.CacheEntry{}
}

// Bind prepares the slot for a newly registered task generation. Writes from
// older generations are dropped from now on.
func (c *Cache) Bind(id model.TileID, generation uint64, ttl time.Duration) {
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation > s.generation {
		s.generation = generation
	}
	next := model.CacheEntry{}
	if cur := s.entry.Load(); cur != nil {
		next = *cur
	}
	next.TTL = ttl
	next.Generation = s.generation
	s.entry.Store(&next)
}

// Put records a successful fetch
func (c *Cache) Put(id model.TileID, value any) {
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.storeValue(s, value)
}

// PutError records a failed fetch. The previous value and its timestamp are kept.
func (c *Cache) PutError(id model.TileID, err error) {
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.storeError(s, err)
}

// Commit records a successful fetch made by the given task generation. It
// returns false when the generation has been superseded and the write was dropped.
func (c *Cache) Commit(id model.TileID, generation uint64, value any) bool {
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation < s.generation {
		c.logger.Debug("Dropped superseded write",
			zap.String("tile", id.String()),
			zap.Uint64("generation", generation),
			zap.Uint64("current", s.generation))
		return false
	}
	c.storeValue(s, value)
	return true
}

// CommitError is the failure counterpart of Commit
func (c *Cache) CommitError(id model.TileID, generation uint64, err error) bool {
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation < s.generation {
		c.logger.Debug("Dropped superseded error",
			zap.String("tile", id.String()),
			zap.Uint64("generation", generation),
			zap.Uint64("current", s.generation))
		return false
	}
	c.storeError(s, err)
	return true
}

// storeValue must be called with s.mu held
func (c *Cache) storeValue(s *slot, value any) {
	next := model.CacheEntry{
		Value:      value,
		FetchedAt:  c.now(),
		Generation: s.generation,
	}
	if cur := s.entry.Load(); cur != nil {
		next.TTL = cur.TTL
	}
	s.entry.Store(&next)
}

// storeError must be called with s.mu held
func (c *Cache) storeError(s *slot, err error) {
	next := model.CacheEntry{Generation: s.generation}
	if cur := s.entry.Load(); cur != nil {
		next = *cur
	}
	next.LastError = err
	next.ErrorAt = c.now()
	next.Failures++
	s.entry.Store(&next)
}

// IsStale reports whether the identity has no value yet or its value is at least ttl old
func (c *Cache) IsStale(id model.TileID, ttl time.Duration) bool {
	e := c.Get(id)
	if !e.HasValue() {
		return true
	}
	return c.now().Sub(e.FetchedAt) >= ttl
}

// Prune discards every slot whose identity is not in keep
func (c *Cache) Prune(keep map[model.TileID]struct{}) int {
	removed := 0
	c.slots.Range(func(key, _ interface{}) bool {
		id := key.(model.TileID)
		if _, ok := keep[id]; !ok {
			c.slots.Delete(id)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("Pruned cache entries", zap.Int("removed", removed))
	}
	return removed
}

// IDs returns every identity that currently owns a slot
func (c *Cache) IDs() []model.TileID {
	var ids []model.TileID
	c.slots.Range(func(key, _ interface{}) bool {
		ids = append(ids, key.(model.TileID))
		return true
	})
	return ids
}
