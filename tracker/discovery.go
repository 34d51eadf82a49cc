package tracker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ddevcap/subtracker/chanid"
	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/upstream"
)

const queryAlphabet = "abcdefghijklmnopqrstuvwxyz@!1234567890"

// Searcher runs a discovery query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]upstream.SearchResult, error)
}

// RandomQuery returns 1 to 3 random characters from the query alphabet.
func RandomQuery() string {
	n := 1 + rand.IntN(3)
	b := make([]byte, n)
	for i := range b {
		b[i] = queryAlphabet[rand.IntN(len(queryAlphabet))]
	}
	return string(b)
}

// Discovery periodically searches upstream with a random query and starts
// tracking every channel it has not seen before.
type Discovery struct {
	reg      *registry.Registry
	searcher Searcher
	fetcher  *Fetcher
	saver    *SaveCoalescer
	clock    clock.Clock
	interval time.Duration
	query    func() string

	fetches sync.WaitGroup
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDiscovery creates a discovery loop. A nil query uses RandomQuery.
func NewDiscovery(reg *registry.Registry, searcher Searcher, fetcher *Fetcher, saver *SaveCoalescer,
	clk clock.Clock, interval time.Duration, query func() string) *Discovery {
	if query == nil {
		query = RandomQuery
	}
	return &Discovery{
		reg:      reg,
		searcher: searcher,
		fetcher:  fetcher,
		saver:    saver,
		clock:    clk,
		interval: interval,
		query:    query,
		done:     make(chan struct{}),
	}
}

// Start runs one search every interval until ctx is cancelled or Stop is
// called.
func (d *Discovery) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	go func() {
		defer close(d.done)
		defer d.fetches.Wait()

		if d.interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := d.clock.Ticker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = d.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for outstanding background fetches.
func (d *Discovery) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// RunOnce performs one search and tracks the unseen results. Each new
// channel gets its data route and a best-effort background fetch; the
// tracked set is saved once for the whole batch. It returns the number of
// channels added.
func (d *Discovery) RunOnce(ctx context.Context) (int, error) {
	q := d.query()
	results, err := d.searcher.Search(ctx, q)
	if err != nil {
		slog.Debug("discovery search failed", "query", q, "error", err)
		return 0, err
	}

	added := 0
	for _, r := range results {
		id, err := chanid.Normalize(r.ID)
		if err != nil {
			slog.Debug("discovery skipped invalid channel id", "id", r.ID, "error", err)
			continue
		}
		if !d.reg.Track(id) {
			continue
		}
		added++
		d.reg.RegisterRoute(id)
		d.fetchInBackground(ctx, id)
	}
	if added == 0 {
		return 0, nil
	}
	if err := d.saver.Save(); err != nil {
		return added, err
	}
	slog.Info("discovery added channels", "query", q, "added", added, "total", d.reg.Len())
	return added, nil
}

// fetchInBackground does not block the loop. A failure is only recorded in
// the channel's failure counter; the next sweep retries it.
func (d *Discovery) fetchInBackground(ctx context.Context, id string) {
	d.fetches.Add(1)
	go func() {
		defer d.fetches.Done()
		if _, err := d.fetcher.Fetch(ctx, id); err != nil {
			slog.Debug("initial fetch failed", "channel", id, "error", err)
		}
	}()
}

// Wait blocks until every background fetch started so far has finished.
func (d *Discovery) Wait() { d.fetches.Wait() }
