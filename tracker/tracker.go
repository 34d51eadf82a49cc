// Package tracker drives the tracked channels: upstream fetches, batched
// sweeps with cool-down, discovery, coalesced saves of the tracked set and
// history cache eviction. Tracker is the facade the HTTP layer talks to.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ddevcap/subtracker/chanid"
	"github.com/ddevcap/subtracker/config"
	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/store"
	"github.com/ddevcap/subtracker/upstream"
)

var (
	// ErrNotTracked means the channel is not in the tracked set.
	ErrNotTracked = errors.New("tracker: channel not tracked")
	// ErrAlreadyTracked is returned when adding a channel twice.
	ErrAlreadyTracked = errors.New("tracker: channel already tracked")
)

// Source is the upstream service.
type Source interface {
	Lookuper
	Searcher
}

// ListStore loads and saves the tracked set.
type ListStore interface {
	Load() ([]string, error)
	ListSaver
}

type Tracker struct {
	cfg      config.Config
	reg      *registry.Registry
	channels ListStore
	history  store.HistoryStore
	source   Source

	cooldown  *Cooldown
	fetcher   *Fetcher
	saver     *SaveCoalescer
	scheduler *Scheduler
	discovery *Discovery
	janitor   *Janitor

	background sync.WaitGroup
	started    bool
}

// New wires the components. clk may be nil for the wall clock.
func New(cfg config.Config, reg *registry.Registry, channels ListStore, history store.HistoryStore,
	source Source, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	cooldown := NewCooldown(clk, cfg.MaxRetries, cfg.RetryDelay)
	fetcher := NewFetcher(reg, source, cooldown, clk, cfg.UpstreamTimeout)
	saver := NewSaveCoalescer(channels, reg.Tracked)
	return &Tracker{
		cfg:       cfg,
		reg:       reg,
		channels:  channels,
		history:   history,
		source:    source,
		cooldown:  cooldown,
		fetcher:   fetcher,
		saver:     saver,
		scheduler: NewScheduler(reg, fetcher, cooldown, clk, cfg.BatchSize, cfg.BatchInterval, cfg.UpdateInterval),
		discovery: NewDiscovery(reg, source, fetcher, saver, clk, cfg.SearchInterval, nil),
		janitor:   NewJanitor(reg.History(), clk, cfg.CacheCleanupInterval),
	}
}

// Bootstrap loads the tracked set, warms the snapshot cache from history
// and registers a data route per channel. A store.ErrStorageCorruption error
// must stop the process.
func (t *Tracker) Bootstrap(ctx context.Context) error {
	ids, err := t.channels.Load()
	if err != nil {
		return err
	}
	t.reg.SetTracked(ids)
	warmed, err := t.reg.Warm(ctx, t.history)
	if err != nil {
		slog.Warn("failed to warm snapshot cache", "error", err)
	}
	for _, id := range t.reg.Tracked() {
		t.reg.RegisterRoute(id)
	}
	slog.Info("tracked channels loaded", "channels", t.reg.Len(), "routes", t.reg.RouteCount(), "warmed", warmed)
	return nil
}

// Start launches the scheduler, the janitor and (when enabled) discovery.
func (t *Tracker) Start(ctx context.Context) {
	t.started = true
	t.scheduler.Start(ctx)
	t.janitor.Start(ctx)
	if t.cfg.DiscoveryEnabled {
		t.discovery.Start(ctx)
	}
}

// Stop stops every background task and waits for in-flight fetches.
func (t *Tracker) Stop() {
	if t.started {
		if t.cfg.DiscoveryEnabled {
			t.discovery.Stop()
		}
		t.scheduler.Stop()
		t.janitor.Stop()
	}
	t.background.Wait()
	t.fetcher.Wait()
}

// OnUpdate registers fn to receive every successful snapshot.
func (t *Tracker) OnUpdate(fn func(store.StatSnapshot)) { t.fetcher.OnUpdate(fn) }

// AddChannel starts tracking raw. The tracked set is saved before it
// returns and a first fetch runs in the background. It returns the
// normalized ID.
func (t *Tracker) AddChannel(ctx context.Context, raw string) (string, error) {
	id, err := chanid.Normalize(raw)
	if err != nil {
		return "", err
	}
	if !t.reg.Track(id) {
		return id, fmt.Errorf("%w: %s", ErrAlreadyTracked, id)
	}
	if err := t.saver.Save(); err != nil {
		slog.Warn("channel tracked but not yet persisted", "channel", id, "error", err)
	}
	t.reg.RegisterRoute(id)

	t.background.Add(1)
	go func() {
		defer t.background.Done()
		fctx := context.WithoutCancel(ctx)
		if _, err := t.fetcher.Fetch(fctx, id); err != nil {
			slog.Debug("initial fetch failed", "channel", id, "error", err)
		}
	}()
	slog.Info("channel added", "channel", id, "total", t.reg.Len())
	return id, nil
}

// ForceUpdate fetches a tracked channel immediately.
func (t *Tracker) ForceUpdate(ctx context.Context, id string) (store.StatSnapshot, error) {
	if !t.reg.IsTracked(id) {
		return store.StatSnapshot{}, fmt.Errorf("%w: %s", ErrNotTracked, id)
	}
	return t.fetcher.Fetch(ctx, id)
}

// History returns the full series of a channel with a data route.
func (t *Tracker) History(ctx context.Context, id string) ([]store.StatSnapshot, error) {
	if !t.reg.HasRoute(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, id)
	}
	return t.reg.History().Get(ctx, id)
}

func (t *Tracker) ListSnapshots(page, limit int, search string) registry.Page {
	return t.reg.ListSnapshots(page, limit, search)
}

func (t *Tracker) GlobalStats() registry.Stats { return t.reg.GlobalStats() }

// Search passes a query through to the upstream search.
func (t *Tracker) Search(ctx context.Context, query string) ([]upstream.SearchResult, error) {
	return t.source.Search(ctx, query)
}

// Snapshot returns the latest snapshot of a tracked channel.
func (t *Tracker) Snapshot(id string) (store.StatSnapshot, bool) { return t.reg.Snapshot(id) }

func (t *Tracker) SchedulerStatus() SweepStatus { return t.scheduler.Status() }

// Statuses returns the channels with outstanding fetch failures.
func (t *Tracker) Statuses() []ChannelStatus { return t.cooldown.Statuses() }

// Ready reports whether the history store is usable.
func (t *Tracker) Ready(ctx context.Context) error { return t.history.Ping(ctx) }

// Writes returns the number of tracked-set writes performed.
func (t *Tracker) Writes() int64 { return t.saver.Writes() }

// Registry returns the shared registry.
func (t *Tracker) Registry() *registry.Registry { return t.reg }

// Sweep runs one scheduler sweep synchronously.
func (t *Tracker) Sweep(ctx context.Context) bool { return t.scheduler.Sweep(ctx) }

// Discover runs one discovery search synchronously.
func (t *Tracker) Discover(ctx context.Context) (int, error) { return t.discovery.RunOnce(ctx) }

// WaitIdle blocks until background fetches started by AddChannel and
// discovery have finished.
func (t *Tracker) WaitIdle() {
	t.background.Wait()
	t.discovery.Wait()
	t.fetcher.Wait()
}
