package githubapp

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"github.com/clintrovert/praxis/internal/dynconfig"
	"github.com/clintrovert/praxis/internal/metrics"
)

const (
	defaultCacheCapacity = 1000
	cacheCapacityKey     = "github.token_cache_capacity"
)

// MintFunc produces a fresh installation token, typically by exchanging an
// app token with GitHub.
type MintFunc func(ctx context.Context) (AuthToken, error)

type cacheEntry struct {
	key   string
	token AuthToken
}

// InstallationTokenCache caches installation-scoped tokens keyed by
// (installationID, appID). Entries live as long as the token stays valid, the
// least recently used entry is evicted when the cache is full, and capacity
// follows dynamic settings. Safe for concurrent use.
type InstallationTokenCache struct {
	clock Clock

	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
}

// NewInstallationTokenCache creates the cache and subscribes to capacity
// changes from dynamic settings.
func NewInstallationTokenCache(settings dynconfig.Provider, clock Clock) *InstallationTokenCache {
	if clock == nil {
		clock = SystemClock
	}
	c := &InstallationTokenCache{
		clock:    clock,
		capacity: settings.GetInt(cacheCapacityKey, defaultCacheCapacity),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
	settings.Subscribe(cacheCapacityKey, func() {
		c.setCapacity(settings.GetInt(cacheCapacityKey, defaultCacheCapacity))
	})
	return c
}

// GetInstallationToken returns a cached token for the installation, minting
// a fresh one when the cached token is missing or about to expire.
func (c *InstallationTokenCache) GetInstallationToken(ctx context.Context, installationID, appID int64, mint MintFunc) (AuthToken, error) {
	key := strconv.FormatInt(installationID, 10) + ":" + strconv.FormatInt(appID, 10)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		if !entry.token.AboutToExpire(c.clock.Now()) {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			metrics.IncTokenCache("hit")
			return entry.token, nil
		}
		c.order.Remove(el)
		delete(c.entries, key)
		metrics.IncTokenCache("expired")
	} else {
		metrics.IncTokenCache("miss")
	}
	c.mu.Unlock()

	// Minting happens outside the lock so one slow exchange does not stall
	// every other job. Two racing mints for the same key are idempotent: the
	// later insert wins.
	token, err := mint(ctx)
	if err != nil {
		return AuthToken{}, err
	}

	c.mu.Lock()
	c.insert(key, token)
	c.mu.Unlock()
	return token, nil
}

// Len returns the number of cached tokens.
func (c *InstallationTokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// insert assumes c.mu is held.
func (c *InstallationTokenCache) insert(key string, token AuthToken) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).token = token
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, token: token})
	c.evictOver(c.capacity)
}

func (c *InstallationTokenCache) setCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictOver(capacity)
}

// evictOver assumes c.mu is held.
func (c *InstallationTokenCache) evictOver(capacity int) {
	for c.order.Len() > capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
