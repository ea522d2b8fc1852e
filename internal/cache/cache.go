package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/belay-dotnet/belay-go/internal/observability"
)

// Status marks whether an entry is still servable.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Entry is one deployed piece of code plus its access bookkeeping.
type Entry struct {
	Code           string        `cbor:"code"`
	DeployedAt     time.Time     `cbor:"deployed_at"`
	LastAccessedAt time.Time     `cbor:"last_accessed_at"`
	AccessCount    uint64        `cbor:"access_count"`
	DeployTime     time.Duration `cbor:"deploy_time"`
	Status         Status        `cbor:"status"`
}

// Config bounds how long and how many deployments stay servable.
type Config struct {
	// MaxAge expires entries by time since deployment regardless of use.
	MaxAge time.Duration
	// IdleFor expires entries not looked up within the window.
	IdleFor time.Duration
	// Capacity evicts least-recently-used entries beyond this count.
	Capacity uint64
}

func DefaultConfig() Config {
	return Config{
		MaxAge:   24 * time.Hour,
		IdleFor:  6 * time.Hour,
		Capacity: 1000,
	}
}

// DeployFunc performs the actual device conversation and returns the code it
// deployed.
type DeployFunc func(ctx context.Context) (string, error)

// Cache is shared read/write across sessions for one device identity; keys
// carry the identity so firmware changes never reuse stale entries.
type Cache struct {
	cfg   Config
	store Storage

	// mu serializes hit bookkeeping; the ttlcache handles its own locking
	mu    sync.Mutex
	items *ttlcache.Cache[Key, *Entry]
}

// New builds a cache; store may be nil for in-memory-only operation.
func New(cfg Config, store Storage) *Cache {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.IdleFor <= 0 {
		cfg.IdleFor = DefaultConfig().IdleFor
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	items := ttlcache.New[Key, *Entry](
		ttlcache.WithTTL[Key, *Entry](cfg.IdleFor),
		ttlcache.WithCapacity[Key, *Entry](cfg.Capacity),
	)
	return &Cache{cfg: cfg, store: store, items: items}
}

// Start launches the background compaction loop; Stop ends it.
func (c *Cache) Start() { go c.items.Start() }
func (c *Cache) Stop()  { c.items.Stop() }

// Len reports the number of live entries.
func (c *Cache) Len() int { return c.items.Len() }

// GetOrDeploy returns the cached entry for key, deploying on a miss. A failed
// deployment inserts nothing and leaves prior state untouched. Concurrent
// misses on one key may deploy twice; the last insert wins.
//
// The returned entry is a point-in-time snapshot; later lookups never mutate
// it.
func (c *Cache) GetOrDeploy(ctx context.Context, key Key, deploy DeployFunc) (*Entry, error) {
	c.mu.Lock()
	if entry, ok := c.lookup(key); ok {
		entry.LastAccessedAt = time.Now()
		entry.AccessCount++
		snapshot := *entry
		c.mu.Unlock()
		observability.RecordCacheLookup(true)
		return &snapshot, nil
	}
	c.mu.Unlock()
	observability.RecordCacheLookup(false)

	started := time.Now()
	code, err := deploy(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	entry := &Entry{
		Code:           code,
		DeployedAt:     now,
		LastAccessedAt: now,
		AccessCount:    1,
		DeployTime:     now.Sub(started),
		Status:         StatusActive,
	}
	c.mu.Lock()
	c.items.Set(key, entry, ttlcache.DefaultTTL)
	snapshot := *entry
	c.mu.Unlock()
	observability.RecordDeployment(snapshot.DeployTime)

	if c.store != nil {
		if err := c.store.Save(key, &snapshot); err != nil {
			log.Warn().Err(err).Str("signature", key.MethodSignature).Msg("cache persistence failed")
		}
	}
	return &snapshot, nil
}

// lookup resolves key against memory, then durable storage, enforcing the
// max-age bound lazily. Caller holds c.mu.
func (c *Cache) lookup(key Key) (*Entry, bool) {
	if item := c.items.Get(key); item != nil {
		entry := item.Value()
		if time.Since(entry.DeployedAt) > c.cfg.MaxAge {
			entry.Status = StatusExpired
			c.items.Delete(key)
			return nil, false
		}
		return entry, true
	}
	if c.store == nil {
		return nil, false
	}
	entry, ok, err := c.store.Load(key)
	if err != nil {
		log.Warn().Err(err).Str("signature", key.MethodSignature).Msg("cache load failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if time.Since(entry.DeployedAt) > c.cfg.MaxAge {
		// persisted entries past expiration are discarded, not promoted
		return nil, false
	}
	c.items.Set(key, entry, ttlcache.DefaultTTL)
	return entry, true
}
