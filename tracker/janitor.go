package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ddevcap/subtracker/registry"
)

// Janitor drops the in-memory history cache on a fixed timer, independent of
// request traffic. Series are reloaded from the history store on next use.
type Janitor struct {
	history  *registry.HistoryCache
	clock    clock.Clock
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewJanitor(history *registry.HistoryCache, clk clock.Clock, interval time.Duration) *Janitor {
	return &Janitor{
		history:  history,
		clock:    clk,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the eviction loop. A non-positive interval disables it.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	go func() {
		defer close(j.done)
		if j.interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := j.clock.Ticker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.cleanup()
			}
		}
	}()
}

// Stop signals the loop to stop and waits for it.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Janitor) cleanup() {
	if n := j.history.EvictAll(); n > 0 {
		slog.Info("history cache cleared", "entries", n)
	}
}
