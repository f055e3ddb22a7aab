package tenantcfg

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Loader fetches a tenant's raw configuration from persistence.
type Loader interface {
	LoadTenantConfig(ctx context.Context, tenantID uuid.UUID) (*TenantConfig, error)
}

// Cache memoizes tenant configs per process. Reads take a shared lock;
// refresh swaps an immutable snapshot so in-flight readers keep a
// consistent view.
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	configs map[uuid.UUID]*TenantConfig
}

// NewCache creates a config cache over the given loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:  loader,
		configs: make(map[uuid.UUID]*TenantConfig),
	}
}

// Get returns the tenant's config, loading and memoizing it on first use.
func (c *Cache) Get(ctx context.Context, tenantID uuid.UUID) (*TenantConfig, error) {
	c.mu.RLock()
	cfg, ok := c.configs[tenantID]
	c.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	loaded, err := c.loader.LoadTenantConfig(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "tenantcfg: load %s", tenantID)
	}
	if loaded == nil {
		loaded = Defaults(tenantID)
	}

	c.mu.Lock()
	// Another goroutine may have raced the load; first write wins so all
	// readers observe one snapshot.
	if existing, ok := c.configs[tenantID]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.configs[tenantID] = loaded
	c.mu.Unlock()

	return loaded, nil
}

// Invalidate drops a tenant's cached snapshot; the next Get reloads it.
// Called from the admin write path.
func (c *Cache) Invalidate(tenantID uuid.UUID) {
	c.mu.Lock()
	delete(c.configs, tenantID)
	c.mu.Unlock()
}

// Put installs a config snapshot directly. Used by tests and bootstrap.
func (c *Cache) Put(cfg *TenantConfig) {
	c.mu.Lock()
	c.configs[cfg.TenantID] = cfg
	c.mu.Unlock()
}

// StaticLoader serves fixed configs; the zero value returns defaults for
// every tenant.
type StaticLoader struct {
	Configs map[uuid.UUID]*TenantConfig
}

func (l *StaticLoader) LoadTenantConfig(_ context.Context, tenantID uuid.UUID) (*TenantConfig, error) {
	if l.Configs == nil {
		return Defaults(tenantID), nil
	}
	if cfg, ok := l.Configs[tenantID]; ok {
		return cfg, nil
	}
	return Defaults(tenantID), nil
}
