package tenantdb

import (
	"sync"

	"github.com/tabular/tabular-backend/pkg/database"
	"github.com/tabular/tabular-backend/pkg/logger"
)

// PoolCache holds one connection pool per tenant database URL.
// Pools are created lazily and live for the process lifetime.
type PoolCache struct {
	mu     sync.RWMutex
	pools  map[string]*database.DB
	logger *logger.Logger

	// connect is swappable for tests
	connect func(url string, log *logger.Logger) (*database.DB, error)
}

// NewPoolCache creates an empty pool cache
func NewPoolCache(log *logger.Logger) *PoolCache {
	return &PoolCache{
		pools:   make(map[string]*database.DB),
		logger:  log.WithComponent("pool_cache"),
		connect: database.Connect,
	}
}

// GetOrCreate returns the pool for the URL, creating it on first use.
// Creation is double-checked: the read lock is dropped before dialing,
// and the map is re-checked under the write lock so concurrent callers
// never build two pools for the same URL.
func (c *PoolCache) GetOrCreate(url string) (*database.DB, error) {
	c.mu.RLock()
	if pool, ok := c.pools[url]; ok {
		c.mu.RUnlock()
		return pool, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if pool, ok := c.pools[url]; ok {
		return pool, nil
	}

	pool, err := c.connect(url, c.logger)
	if err != nil {
		return nil, err
	}

	c.pools[url] = pool
	c.logger.Info().Int("pool_count", len(c.pools)).Msg("tenant pool created")
	return pool, nil
}

// Close closes every cached pool
func (c *PoolCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for url, pool := range c.pools {
		if err := pool.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close tenant pool")
		}
		delete(c.pools, url)
	}
}

// Len returns the number of cached pools
func (c *PoolCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}
