// Package cache memoizes successful extraction results keyed by the SHA-256
// hash of the document bytes. Entries expire by TTL (checked lazily on read
// and proactively by a periodic sweep) and are evicted least-recently-used
// when the entry-count or byte budget is exceeded.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HashBytes returns the content hash used as the cache and dedup key.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Config bounds the cache.
type Config struct {
	MaxEntries    int
	MaxSizeBytes  int64
	TTL           time.Duration
	SweepInterval time.Duration
}

type entry[T any] struct {
	value        T
	createdAt    time.Time
	lastAccessAt time.Time
	hitCount     int64
	sizeBytes    int64
}

// Stats is the counter snapshot exposed to the monitor.
type Stats struct {
	Entries         int
	SizeBytes       int64
	Hits            int64
	Misses          int64
	Evictions       int64
	AvgAccessMicros float64
}

// Cache is a process-wide, concurrency-safe result cache.
type Cache[T any] struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	lru *lru.Cache[string, *entry[T]]

	sizeBytes   atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	accessNanos atomic.Int64
	accesses    atomic.Int64

	now      func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
}

func New[T any](cfg Config, logger *slog.Logger) *Cache[T] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 100 * 1024 * 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache[T]{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	// The evict callback fires for every removal path (explicit Remove, LRU
	// displacement, Purge), so byte accounting lives here and nowhere else.
	backing, _ := lru.NewWithEvict[string, *entry[T]](cfg.MaxEntries, func(_ string, e *entry[T]) {
		c.sizeBytes.Add(-e.sizeBytes)
	})
	c.lru = backing

	go c.sweepLoop()
	return c
}

// Get returns the cached value for hash, refreshing its recency and hit
// count. Expired entries are deleted and reported as misses.
func (c *Cache[T]) Get(hash string) (T, bool) {
	start := c.now()
	defer func() {
		c.accessNanos.Add(c.now().Sub(start).Nanoseconds())
		c.accesses.Add(1)
	}()

	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(hash)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.now().Sub(e.createdAt) > c.cfg.TTL {
		c.lru.Remove(hash)
		c.misses.Add(1)
		return zero, false
	}
	e.lastAccessAt = c.now()
	e.hitCount++
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under hash. An entry larger than the whole byte budget is
// rejected outright; otherwise LRU entries are evicted until both the count
// and byte ceilings have headroom.
func (c *Cache[T]) Set(hash string, value T, approxSize int64) {
	if approxSize < 0 {
		approxSize = 0
	}
	if approxSize > c.cfg.MaxSizeBytes {
		c.logger.Warn("cache.set.rejected",
			"hash", hash,
			"size_bytes", approxSize,
			"budget_bytes", c.cfg.MaxSizeBytes,
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(hash)
	for c.sizeBytes.Load()+approxSize > c.cfg.MaxSizeBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
		c.evictions.Add(1)
	}

	now := c.now()
	c.lru.Add(hash, &entry[T]{
		value:        value,
		createdAt:    now,
		lastAccessAt: now,
		sizeBytes:    approxSize,
	})
	c.sizeBytes.Add(approxSize)
}

// Stats returns hit/miss counters and the average access latency.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	entries := c.lru.Len()
	c.mu.Unlock()

	s := Stats{
		Entries:   entries,
		SizeBytes: c.sizeBytes.Load(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	if n := c.accesses.Load(); n > 0 {
		s.AvgAccessMicros = float64(c.accessNanos.Load()) / float64(n) / 1e3
	}
	return s
}

// Purge drops all entries.
func (c *Cache[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Close stops the background sweeper.
func (c *Cache[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// sweepLoop proactively removes TTL-expired entries so memory is reclaimed
// even for keys nobody queries again.
func (c *Cache[T]) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[T]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && c.now().Sub(e.createdAt) > c.cfg.TTL {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache.sweep", "removed", removed, "remaining", c.lru.Len())
	}
}
