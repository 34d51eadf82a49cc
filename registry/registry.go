// Package registry owns the in-memory view of the tracker: the ordered set of
// tracked channels, the latest snapshot per channel, the data-route set and
// the lazily loaded history cache.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ddevcap/subtracker/store"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is one page of the channel listing.
type Page struct {
	Channels []store.StatSnapshot `json:"channels"`
	Total    int                  `json:"total"`
}

// Stats is the global summary served by /api/stats.
type Stats struct {
	TotalChannels    int   `json:"totalChannels"`
	TotalSubscribers int64 `json:"totalSubscribers"`
}

// Registry is constructed once at startup and shared by the scheduler, the
// discovery loop and the HTTP handlers.
type Registry struct {
	mu        sync.RWMutex
	tracked   []string
	index     map[string]struct{}
	snapshots map[string]store.StatSnapshot
	routes    map[string]struct{}

	history *HistoryCache
}

func New(history *HistoryCache) *Registry {
	return &Registry{
		index:     make(map[string]struct{}),
		snapshots: make(map[string]store.StatSnapshot),
		routes:    make(map[string]struct{}),
		history:   history,
	}
}

// History returns the history cache.
func (r *Registry) History() *HistoryCache { return r.history }

// SetTracked replaces the tracked set with ids, dropping duplicates while
// keeping first-seen order. Every channel gets a placeholder snapshot unless
// it already has one.
func (r *Registry) SetTracked(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracked = make([]string, 0, len(ids))
	r.index = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := r.index[id]; dup {
			continue
		}
		r.index[id] = struct{}{}
		r.tracked = append(r.tracked, id)
		if _, ok := r.snapshots[id]; !ok {
			r.snapshots[id] = store.StatSnapshot{ChannelID: id}
		}
	}
	for id := range r.snapshots {
		if _, ok := r.index[id]; !ok {
			delete(r.snapshots, id)
		}
	}
}

// Track appends id to the tracked set. It reports false when id was
// already tracked.
func (r *Registry) Track(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return false
	}
	r.index[id] = struct{}{}
	r.tracked = append(r.tracked, id)
	r.snapshots[id] = store.StatSnapshot{ChannelID: id}
	return true
}

func (r *Registry) IsTracked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[id]
	return ok
}

// Tracked returns a copy of the tracked set in insertion order.
func (r *Registry) Tracked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tracked)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracked)
}

func (r *Registry) Snapshot(id string) (store.StatSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[id]
	return snap, ok
}

// UpsertSnapshot overwrites the latest snapshot of a tracked channel. It
// reports false (and stores nothing) for a channel that is not tracked.
func (r *Registry) UpsertSnapshot(snap store.StatSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[snap.ChannelID]; !ok {
		return false
	}
	r.snapshots[snap.ChannelID] = snap
	return true
}

// Snapshots returns the latest snapshots in tracked order.
func (r *Registry) Snapshots() []store.StatSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.StatSnapshot, 0, len(r.tracked))
	for _, id := range r.tracked {
		out = append(out, r.snapshots[id])
	}
	return out
}

// RegisterRoute marks id as served by the data route. Only the first call
// for an id returns true.
func (r *Registry) RegisterRoute(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[id]; ok {
		return false
	}
	r.routes[id] = struct{}{}
	return true
}

func (r *Registry) HasRoute(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[id]
	return ok
}

// RouteCount returns the number of registered data routes.
func (r *Registry) RouteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// ListSnapshots filters by a case-insensitive substring of the channel ID or
// name, sorts by subscriber count (highest first), then paginates. Total is
// the number of matches before pagination.
func (r *Registry) ListSnapshots(page, limit int, search string) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)
	search = strings.ToLower(strings.TrimSpace(search))

	all := r.Snapshots()
	matched := all[:0]
	for _, snap := range all {
		if search == "" ||
			strings.Contains(strings.ToLower(snap.ChannelID), search) ||
			strings.Contains(strings.ToLower(snap.Name), search) {
			matched = append(matched, snap)
		}
	}
	slices.SortStableFunc(matched, func(a, b store.StatSnapshot) int {
		if c := cmp.Compare(b.Subscribers, a.Subscribers); c != 0 {
			return c
		}
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})

	total := len(matched)
	start := total
	if page-1 <= total/limit {
		start = min((page-1)*limit, total)
	}
	end := min(start+limit, total)
	return Page{Channels: slices.Clone(matched[start:end]), Total: total}
}

func (r *Registry) GlobalStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Stats{TotalChannels: len(r.tracked)}
	for _, snap := range r.snapshots {
		stats.TotalSubscribers += snap.Subscribers
	}
	return stats
}

// Warm fills the snapshot cache from the newest stored snapshot of every
// tracked channel, so a restart serves real numbers before the first sweep.
// Channels without history keep their placeholder.
func (r *Registry) Warm(ctx context.Context, hs store.HistoryStore) (int, error) {
	warmed := 0
	for _, id := range r.Tracked() {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		last, ok, err := hs.Last(ctx, id)
		if err != nil {
			return warmed, fmt.Errorf("registry: warming %s: %w", id, err)
		}
		if ok && r.UpsertSnapshot(last) {
			warmed++
		}
	}
	return warmed, nil
}
