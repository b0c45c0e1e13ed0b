package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/model"
)

// Cache is a simple in-memory cache with TTL support
type Cache struct {
	mu       sync.RWMutex
	items    map[string]*cacheItem
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheItem struct {
	value      interface{}
	expiration time.Time
}

// NewCache creates a new cache with the specified TTL
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		items:    make(map[string]*cacheItem),
		ttl:      ttl,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	// Start cleanup goroutine
	go c.cleanup()

	return c
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || c.now().After(item.expiration) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return item.value, true
}

// Set stores a value in the cache with the default TTL
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		value:      value,
		expiration: c.now().Add(ttl),
	}
}

// Delete removes a value from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// InvalidatePrefix removes all keys with the given prefix
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

// Stats returns cache statistics
type Stats struct {
	ItemCount int   `json:"item_count"`
	HitCount  int64 `json:"hit_count"`
	MissCount int64 `json:"miss_count"`
}

// Stats retorna contadores de acerto e erro
func (c *Cache) Stats() Stats {
	return Stats{
		ItemCount: c.Size(),
		HitCount:  c.hits.Load(),
		MissCount: c.misses.Load(),
	}
}

// cleanup periodically removes expired items
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopChan:
			return
		}
	}
}

// removeExpired removes all expired items
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// Size returns the number of items in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// PlatformSource é a origem do catálogo de plataformas
type PlatformSource interface {
	ListPlatforms(ctx context.Context) ([]model.Platform, error)
}

const platformsKey = "platforms:all"

// PlatformCatalog mantém o catálogo de plataformas em memória por um TTL
type PlatformCatalog struct {
	source PlatformSource
	cache  *Cache
}

// NewPlatformCatalog cria o catálogo com cache sobre source
func NewPlatformCatalog(source PlatformSource, ttl time.Duration) *PlatformCatalog {
	return &PlatformCatalog{source: source, cache: NewCache(ttl)}
}

// ListPlatforms devolve o catálogo do cache ou recarrega da origem
func (p *PlatformCatalog) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	if v, ok := p.cache.Get(platformsKey); ok {
		return clonePlatforms(v.([]model.Platform)), nil
	}

	platforms, err := p.source.ListPlatforms(ctx)
	if err != nil {
		return nil, err
	}
	p.cache.Set(platformsKey, clonePlatforms(platforms))
	logger.Get(ctx).Debug().Int("platforms", len(platforms)).Msg("Catálogo de plataformas recarregado")

	return clonePlatforms(platforms), nil
}

// Invalidate força a recarga na próxima leitura
func (p *PlatformCatalog) Invalidate() {
	p.cache.Delete(platformsKey)
}

// Stats expõe as estatísticas do cache do catálogo
func (p *PlatformCatalog) Stats() Stats {
	return p.cache.Stats()
}

// Stop encerra a limpeza periódica
func (p *PlatformCatalog) Stop() {
	p.cache.Stop()
}

func clonePlatforms(in []model.Platform) []model.Platform {
	return append([]model.Platform(nil), in...)
}
