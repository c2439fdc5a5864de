package emoji

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"threadlens/internal/logging"
	"threadlens/internal/metrics"
	"threadlens/internal/model"
	"threadlens/internal/util"
)

const (
	// DefaultCapacity bounds entries per host. Catalogs seen in the wild stay under ~1000.
	DefaultCapacity = 2000
	// DefaultMaxHosts bounds how many instance catalogs are held at once.
	DefaultMaxHosts = 16
)

// CatalogSource fetches one instance's custom emoji catalog.
type CatalogSource interface {
	Emojis(ctx context.Context) ([]model.Emoji, error)
}

// Cache maps short-codes to image URLs, one LRU per instance host. Once more
// than maxHosts hosts are held the oldest populated one is evicted.
// Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	maxHosts int
	hosts    map[string]*lru.Cache
	order    []string // populated hosts, oldest first
	flight   singleflight.Group
}

func NewCache(capacity int) *Cache {
	return NewCacheWithHosts(capacity, DefaultMaxHosts)
}

// NewCacheWithHosts is NewCache with an explicit bound on cached hosts.
func NewCacheWithHosts(capacity, maxHosts int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	return &Cache{capacity: capacity, maxHosts: maxHosts, hosts: make(map[string]*lru.Cache)}
}

// Populate loads host's catalog from src unless the host already has entries.
// Concurrent calls for one host share a single fetch. On failure the host
// stays empty and the error is logged and returned. The shared fetch is not
// cancelled when the caller that started it goes away.
func (c *Cache) Populate(ctx context.Context, host string, src CatalogSource) error {
	host = util.NormalizeHost(host)
	if c.Len(host) > 0 {
		metrics.IncEmojiPopulation("skipped")
		return nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(host, func() (any, error) {
		if c.Len(host) > 0 {
			return nil, nil
		}
		list, err := src.Emojis(flightCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		l, ok := c.hosts[host]
		if !ok {
			l = lru.New(c.capacity)
			c.hosts[host] = l
			c.order = append(c.order, host)
		}
		for _, e := range list {
			l.Add(e.Name, e.URL)
		}
		n := l.Len()
		evicted := c.evictLocked()
		c.mu.Unlock()
		for _, h := range evicted {
			metrics.SetEmojiEntries(h, 0)
			logging.Info("emoji_cache_evicted", map[string]any{"host": h})
		}
		metrics.SetEmojiEntries(host, n)
		logging.Info("emoji_cache_populated", map[string]any{"host": host, "entries": n})
		return nil, nil
	})
	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		metrics.IncEmojiPopulation("error")
		logging.Warn("emoji_cache_populate_failed", map[string]any{"host": host, "error": err})
		return err
	}
	metrics.IncEmojiPopulation("ok")
	return nil
}

// Lookup returns the URL cached for name on host.
func (c *Cache) Lookup(host, name string) (string, bool) {
	host = util.NormalizeHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.hosts[host]
	if !ok {
		return "", false
	}
	v, ok := l.Get(name)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Len reports the number of entries cached for host.
func (c *Cache) Len(host string) int {
	host = util.NormalizeHost(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.hosts[host]; ok {
		return l.Len()
	}
	return 0
}

// Reset drops everything cached for host so the next Populate refetches.
func (c *Cache) Reset(host string) {
	host = util.NormalizeHost(host)
	c.mu.Lock()
	delete(c.hosts, host)
	c.dropLocked(host)
	c.mu.Unlock()
	metrics.SetEmojiEntries(host, 0)
	logging.Info("emoji_cache_reset", map[string]any{"host": host})
}

// Hosts lists hosts with a cache, sorted.
func (c *Cache) Hosts() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.hosts))
	for h := range c.hosts {
		out = append(out, h)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// evictLocked drops the oldest hosts beyond maxHosts and returns them.
func (c *Cache) evictLocked() []string {
	var out []string
	for len(c.order) > c.maxHosts {
		h := c.order[0]
		c.order = c.order[1:]
		delete(c.hosts, h)
		out = append(out, h)
	}
	return out
}

func (c *Cache) dropLocked(host string) {
	for i, h := range c.order {
		if h == host {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
