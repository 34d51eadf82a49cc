package registry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/ddevcap/subtracker/store"
)

// HistoryCache memoizes full per-channel series loaded from the history
// store. Entries expire after ttl and the least recently used ones are
// dropped beyond capacity; both are safe because the store is written first
// and is always authoritative.
type HistoryCache struct {
	store store.HistoryStore
	cache *ttlcache.Cache[string, []store.StatSnapshot]

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewHistoryCache creates the cache and starts its expiry loop. A zero
// capacity means unbounded.
func NewHistoryCache(hs store.HistoryStore, ttl time.Duration, capacity uint64) *HistoryCache {
	opts := []ttlcache.Option[string, []store.StatSnapshot]{
		ttlcache.WithTTL[string, []store.StatSnapshot](ttl),
		ttlcache.WithDisableTouchOnHit[string, []store.StatSnapshot](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []store.StatSnapshot](capacity))
	}
	cache := ttlcache.New[string, []store.StatSnapshot](opts...)
	go cache.Start() // expired-item eviction loop
	return &HistoryCache{
		store: hs,
		cache: cache,
		locks: make(map[string]*sync.Mutex),
	}
}

func (h *HistoryCache) lock(id string) func() {
	h.locksMu.Lock()
	mu, ok := h.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		h.locks[id] = mu
	}
	h.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Get returns the full series for id, loading it from the store on a miss.
// The returned slice is a copy.
func (h *HistoryCache) Get(ctx context.Context, id string) ([]store.StatSnapshot, error) {
	unlock := h.lock(id)
	defer unlock()

	if item := h.cache.Get(id); item != nil {
		return slices.Clone(item.Value()), nil
	}
	series, err := h.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	h.cache.Set(id, series, ttlcache.DefaultTTL)
	return slices.Clone(series), nil
}

// Append writes snap to the store and, when the series is resident, to the
// in-memory copy. It returns the snapshot as stored.
func (h *HistoryCache) Append(ctx context.Context, id string, snap store.StatSnapshot) (store.StatSnapshot, error) {
	unlock := h.lock(id)
	defer unlock()

	stored, err := h.store.Append(ctx, id, snap)
	if err != nil {
		return store.StatSnapshot{}, err
	}
	if item := h.cache.Get(id); item != nil {
		series := append(slices.Clone(item.Value()), stored)
		h.cache.Set(id, series, ttlcache.DefaultTTL)
	}
	return stored, nil
}

// Resident reports whether id's series is currently held in memory.
func (h *HistoryCache) Resident(id string) bool {
	return h.cache.Has(id)
}

func (h *HistoryCache) Len() int { return h.cache.Len() }

// EvictAll drops every in-memory series. The next Get reloads from the store.
func (h *HistoryCache) EvictAll() int {
	n := h.cache.Len()
	h.cache.DeleteAll()
	return n
}

// Stop ends the expiry loop.
func (h *HistoryCache) Stop() { h.cache.Stop() }
