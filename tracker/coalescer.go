package tracker

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// ListSaver persists the whole tracked set.
type ListSaver interface {
	Save(ids []string) error
}

// SaveCoalescer serialises writes of the tracked set. At most one write is
// in flight; requests arriving meanwhile collapse into a single pending
// write that captures the state current when it runs.
type SaveCoalescer struct {
	saver   ListSaver
	current func() []string

	mu      sync.Mutex
	saving  bool
	pending bool

	writes atomic.Int64
}

func NewSaveCoalescer(saver ListSaver, current func() []string) *SaveCoalescer {
	return &SaveCoalescer{saver: saver, current: current}
}

// Save requests a write. If a write is already in flight it marks one as
// pending and returns nil immediately; otherwise the caller performs the
// write (and any that become pending meanwhile) and gets the last error.
func (c *SaveCoalescer) Save() error {
	c.mu.Lock()
	if c.saving {
		c.pending = true
		c.mu.Unlock()
		return nil
	}
	c.saving = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()

		ids := c.current()
		err := c.saver.Save(ids)
		c.writes.Add(1)
		if err != nil {
			slog.Error("failed to save tracked channels", "channels", len(ids), "error", err)
		}

		c.mu.Lock()
		if !c.pending {
			c.saving = false
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
	}
}

// Writes returns the number of physical writes attempted so far.
func (c *SaveCoalescer) Writes() int64 { return c.writes.Load() }
