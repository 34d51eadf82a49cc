package tracker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/ddevcap/subtracker/registry"
)

// SweepStatus describes the scheduler for /api/scheduler.
type SweepStatus struct {
	Running       bool      `json:"running"`
	Sweeps        int       `json:"sweeps"`
	Skipped       int       `json:"skipped"`
	LastStart     time.Time `json:"lastStart"`
	LastEnd       time.Time `json:"lastEnd"`
	LastBatches   int       `json:"lastBatches"`
	LastFetched   int       `json:"lastFetched"`
	LastFailed    int       `json:"lastFailed"`
	LastExcluded  int       `json:"lastExcluded"`
	BatchSize     int       `json:"batchSize"`
	BatchInterval string    `json:"batchInterval"`
	Interval      string    `json:"interval"`
}

// Scheduler periodically walks every tracked channel in fixed-size batches.
// Each batch is fetched concurrently and fully settled before the
// inter-batch pause; a sweep that comes due while another is still running
// is skipped.
type Scheduler struct {
	reg           *registry.Registry
	fetcher       *Fetcher
	cooldown      *Cooldown
	clock         clock.Clock
	batchSize     int
	batchInterval time.Duration
	interval      time.Duration

	running atomic.Bool
	mu      sync.Mutex
	status  SweepStatus

	sweeps sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(reg *registry.Registry, fetcher *Fetcher, cooldown *Cooldown, clk clock.Clock,
	batchSize int, batchInterval, interval time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Scheduler{
		reg:           reg,
		fetcher:       fetcher,
		cooldown:      cooldown,
		clock:         clk,
		batchSize:     batchSize,
		batchInterval: batchInterval,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

// Start runs a sweep immediately, then one every interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)
		defer s.sweeps.Wait()

		s.launch(ctx)
		if s.interval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := s.clock.Ticker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.launch(ctx)
			}
		}
	}()
}

// Stop cancels the running sweep (between fetches) and waits for it.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) launch(ctx context.Context) {
	s.sweeps.Add(1)
	go func() {
		defer s.sweeps.Done()
		s.Sweep(ctx)
	}()
}

// Sweep runs one full pass and reports whether it ran. It returns false
// without doing anything when another sweep is in progress.
func (s *Scheduler) Sweep(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.status.Skipped++
		s.mu.Unlock()
		slog.Warn("previous sweep still running, skipping")
		return false
	}
	defer s.running.Store(false)

	start := s.clock.Now()
	all := s.reg.Tracked()
	ids := slices.DeleteFunc(slices.Clone(all), func(id string) bool {
		return !s.cooldown.Eligible(id)
	})
	excluded := len(all) - len(ids)

	var fetched, failed atomic.Int64
	batches := 0
	for batch := range slices.Chunk(ids, s.batchSize) {
		if batches > 0 && !s.pause(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		batches++

		var g errgroup.Group
		for _, id := range batch {
			g.Go(func() error {
				if _, err := s.fetcher.Fetch(ctx, id); err != nil {
					failed.Add(1)
					slog.Debug("fetch failed", "channel", id, "failures", s.cooldown.Failures(id), "error", err)
					return nil
				}
				fetched.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}

	end := s.clock.Now()
	s.mu.Lock()
	s.status.Sweeps++
	s.status.LastStart = start
	s.status.LastEnd = end
	s.status.LastBatches = batches
	s.status.LastFetched = int(fetched.Load())
	s.status.LastFailed = int(failed.Load())
	s.status.LastExcluded = excluded
	s.mu.Unlock()

	slog.Info("sweep finished",
		"channels", len(ids), "batches", batches,
		"fetched", fetched.Load(), "failed", failed.Load(),
		"cooling_down", excluded, "duration", end.Sub(start))
	return true
}

// pause waits batchInterval on the scheduler clock. It returns false if ctx
// ends first.
func (s *Scheduler) pause(ctx context.Context) bool {
	if s.batchInterval <= 0 {
		return true
	}
	t := s.clock.Timer(s.batchInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Status returns a copy of the current scheduler state.
func (s *Scheduler) Status() SweepStatus {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Running = s.running.Load()
	st.BatchSize = s.batchSize
	st.BatchInterval = s.batchInterval.String()
	st.Interval = s.interval.String()
	return st
}
