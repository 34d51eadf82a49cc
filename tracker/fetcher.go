package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/store"
	"github.com/ddevcap/subtracker/upstream"
)

// Lookuper resolves the current stats of one channel.
type Lookuper interface {
	Lookup(ctx context.Context, id string) (upstream.Channel, error)
}

// defaultLookupTimeout bounds a shared lookup when no timeout is configured.
const defaultLookupTimeout = 30 * time.Second

// Fetcher performs one upstream lookup for a channel and records the result.
type Fetcher struct {
	reg      *registry.Registry
	source   Lookuper
	cooldown *Cooldown
	clock    clock.Clock
	timeout  time.Duration
	group    singleflight.Group
	inflight sync.WaitGroup

	mu        sync.RWMutex
	listeners []func(store.StatSnapshot)
}

// NewFetcher creates a Fetcher. timeout bounds one shared lookup; a
// non-positive value selects a default.
func NewFetcher(reg *registry.Registry, source Lookuper, cooldown *Cooldown, clk clock.Clock, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	return &Fetcher{reg: reg, source: source, cooldown: cooldown, clock: clk, timeout: timeout}
}

// OnUpdate registers fn to be called after every successful fetch.
func (f *Fetcher) OnUpdate(fn func(store.StatSnapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Fetch looks id up upstream. On success the snapshot cache and the history
// are updated and the stored snapshot is returned. An upstream failure is
// counted against the channel and leaves both caches untouched. Concurrent
// fetches of the same channel share one lookup.
//
// The shared lookup is detached from the caller's cancellation and bounded
// by the fetcher's timeout, so one caller going away neither fails the
// others nor counts against the channel. A cancelled caller returns
// ctx.Err() while the lookup completes for everyone else.
func (f *Fetcher) Fetch(ctx context.Context, id string) (store.StatSnapshot, error) {
	f.inflight.Add(1)
	results := f.group.DoChan(id, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(lookupCtx, id)
	})
	select {
	case <-ctx.Done():
		go func() {
			<-results
			f.inflight.Done()
		}()
		return store.StatSnapshot{}, ctx.Err()
	case r := <-results:
		f.inflight.Done()
		if r.Val == nil {
			return store.StatSnapshot{}, r.Err
		}
		return r.Val.(store.StatSnapshot), r.Err
	}
}

// Wait blocks until every in-flight lookup has finished.
func (f *Fetcher) Wait() { f.inflight.Wait() }

func (f *Fetcher) fetch(ctx context.Context, id string) (any, error) {
	ch, err := f.source.Lookup(ctx, id)
	if err != nil {
		if upstream.IsFailure(err) && !errors.Is(err, context.Canceled) {
			f.cooldown.RecordFailure(id, err)
		} else {
			slog.Debug("lookup aborted, not counted", "channel", id, "error", err)
		}
		return nil, err
	}
	f.cooldown.RecordSuccess(id)

	snap := store.StatSnapshot{
		ChannelID:   id,
		Name:        ch.Name,
		Avatar:      ch.Avatar,
		Subscribers: ch.Subscribers,
		Timestamp:   f.clock.Now().UTC().Truncate(time.Millisecond),
	}
	stored, herr := f.reg.History().Append(ctx, id, snap)
	if herr != nil {
		slog.Error("failed to append history", "channel", id, "error", herr)
		stored = snap
		herr = fmt.Errorf("tracker: recording history for %s: %w", id, herr)
	}
	if !f.reg.UpsertSnapshot(stored) {
		slog.Debug("fetched channel is no longer tracked", "channel", id)
		return stored, herr
	}
	f.publish(stored)
	return stored, herr
}

func (f *Fetcher) publish(snap store.StatSnapshot) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.listeners {
		fn(snap)
	}
}
