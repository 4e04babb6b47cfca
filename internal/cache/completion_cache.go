// Package cache keeps recent completions in memory so repeated questions, most
// often the widget's sample questions, skip the upstream call.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/asoloa/ambot/internal/api/middleware"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxSize = 256
	DefaultTTL     = 5 * time.Minute
	// DefaultEvictionInterval is how often RunEviction sweeps expired entries.
	DefaultEvictionInterval = time.Minute
)

// Config sizes a CompletionCache.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type entry struct {
	key       string
	content   string
	createdAt time.Time
	hits      int
}

// CompletionCache is an LRU of completion texts with a per-entry TTL.
// It is safe for concurrent use.
type CompletionCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	cfg     Config
	stats   Stats
	now     func() time.Time
}

// New creates a cache. Non-positive sizes fall back to the defaults.
func New(cfg Config) *CompletionCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &CompletionCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Key derives a cache key from the model and the request parts.
func Key(model string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(model))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Get returns the cached completion for key. Expired entries count as misses.
func (c *CompletionCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		middleware.RecordCompletionCache("miss")
		return "", false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.createdAt) > c.cfg.TTL {
		c.remove(el)
		c.stats.Evictions++
		c.stats.Misses++
		middleware.RecordCompletionCache("miss")
		return "", false
	}

	e.hits++
	c.stats.Hits++
	c.order.MoveToFront(el)
	middleware.RecordCompletionCache("hit")
	log.Debugf("completion cache hit (hits: %d)", e.hits)
	return e.content, true
}

// Set stores content under key, evicting the least recently used entries
// when the cache is full. Empty completions are not cached.
func (c *CompletionCache) Set(key, content string) {
	if content == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.content = content
		e.createdAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.cfg.MaxSize {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, content: content, createdAt: c.now()})
}

// EvictExpired drops every expired entry and returns how many were removed.
func (c *CompletionCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.Sub(el.Value.(*entry).createdAt) > c.cfg.TTL {
			c.remove(el)
			removed++
		}
		el = prev
	}
	c.stats.Evictions += int64(removed)
	return removed
}

// RunEviction sweeps expired entries every interval until ctx is done.
func (c *CompletionCache) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.EvictExpired(); n > 0 {
				log.Debugf("completion cache evicted %d expired entries", n)
			}
		}
	}
}

// Len returns the number of cached entries.
func (c *CompletionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *CompletionCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

func (c *CompletionCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}
