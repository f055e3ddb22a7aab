package tenantcfg

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLoader returns a fresh snapshot per load so pointer identity
// distinguishes cached reads from reloads.
type countingLoader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLoader) LoadTenantConfig(_ context.Context, tenantID uuid.UUID) (*TenantConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.calls++
	return Defaults(tenantID), nil
}

func (l *countingLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestCache_GetMemoizes(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader)
	tenantID := uuid.New()

	first, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)

	assert.Equal(t, 1, loader.loads())
	assert.Same(t, first, second)
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader)
	tenantID := uuid.New()

	first, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)

	cache.Invalidate(tenantID)

	second, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)

	assert.Equal(t, 2, loader.loads())
	assert.NotSame(t, first, second)
}

func TestCache_PutBypassesLoader(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader)
	tenantID := uuid.New()

	cfg := Defaults(tenantID)
	cfg.WebhookURL = "https://hooks.example.com/risk"
	cache.Put(cfg)

	got, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Same(t, cfg, got)
	assert.Equal(t, 0, loader.loads())
}

func TestCache_ConcurrentGetsShareOneSnapshot(t *testing.T) {
	loader := &countingLoader{}
	cache := NewCache(loader)
	tenantID := uuid.New()

	const readers = 16
	results := make([]*TenantConfig, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := cache.Get(context.Background(), tenantID)
			assert.NoError(t, err)
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	// Racing loads may each hit the loader, but the first installed
	// snapshot wins: every reader must see the same pointer.
	for i := 1; i < readers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestCache_LoadErrorIsNotCached(t *testing.T) {
	loader := &countingLoader{err: eris.New("store unavailable")}
	cache := NewCache(loader)
	tenantID := uuid.New()

	_, err := cache.Get(context.Background(), tenantID)
	require.Error(t, err)

	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()

	cfg, err := cache.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, cfg.TenantID)
	assert.Equal(t, 1, loader.loads())
}
