package tracker

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// channelStatus is the failure bookkeeping for one channel.
type channelStatus struct {
	failureCount int
	lastErr      string
	lastAttempt  time.Time
	coolUntil    time.Time
}

// Cooldown counts consecutive fetch failures per channel. Once a channel
// reaches the threshold it is left out of sweeps for window; the counter
// keeps running, so every further failure restarts the window until a
// success resets it. Channels are never dropped for failing.
type Cooldown struct {
	clock     clock.Clock
	threshold int
	window    time.Duration

	mu       sync.Mutex
	statuses map[string]*channelStatus
}

// NewCooldown creates a Cooldown. A threshold <= 0 disables cool-down; the
// counter is still kept.
func NewCooldown(clk clock.Clock, threshold int, window time.Duration) *Cooldown {
	return &Cooldown{
		clock:     clk,
		threshold: threshold,
		window:    window,
		statuses:  make(map[string]*channelStatus),
	}
}

// RecordFailure counts a failed fetch and reports whether the channel is now
// cooling down.
func (c *Cooldown) RecordFailure(id string, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.statuses[id]
	if !ok {
		s = &channelStatus{}
		c.statuses[id] = s
	}
	now := c.clock.Now()
	s.failureCount++
	s.lastAttempt = now
	if err != nil {
		s.lastErr = err.Error()
	}
	if c.threshold <= 0 || s.failureCount < c.threshold || c.window <= 0 {
		return false
	}
	s.coolUntil = now.Add(c.window)
	slog.Warn("channel cooling down after repeated failures",
		"channel", id, "failures", s.failureCount, "until", s.coolUntil, "error", s.lastErr)
	return true
}

// RecordSuccess resets the failure counter and ends any cool-down.
func (c *Cooldown) RecordSuccess(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.statuses[id]
	if !ok {
		return
	}
	if s.failureCount >= c.threshold && c.threshold > 0 {
		slog.Info("channel recovered", "channel", id, "failures", s.failureCount)
	}
	delete(c.statuses, id)
}

// Eligible reports whether id may be fetched by a sweep now.
func (c *Cooldown) Eligible(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return !ok || !c.clock.Now().Before(s.coolUntil)
}

// Failures returns the consecutive failure count of id.
func (c *Cooldown) Failures(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.statuses[id]; ok {
		return s.failureCount
	}
	return 0
}

// ChannelStatus is the failure state of one channel as served by
// /api/scheduler.
type ChannelStatus struct {
	ChannelID    string     `json:"channelId"`
	FailureCount int        `json:"failureCount"`
	LastError    string     `json:"lastError,omitempty"`
	LastAttempt  time.Time  `json:"lastAttempt"`
	CoolingDown  bool       `json:"coolingDown"`
	CoolUntil    *time.Time `json:"coolUntil,omitempty"`
}

// Statuses returns every channel with at least one outstanding failure,
// ordered by channel ID.
func (c *Cooldown) Statuses() []ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	result := make([]ChannelStatus, 0, len(c.statuses))
	for id, s := range c.statuses {
		st := ChannelStatus{
			ChannelID:    id,
			FailureCount: s.failureCount,
			LastError:    s.lastErr,
			LastAttempt:  s.lastAttempt,
			CoolingDown:  now.Before(s.coolUntil),
		}
		if st.CoolingDown {
			until := s.coolUntil
			st.CoolUntil = &until
		}
		result = append(result, st)
	}
	slices.SortFunc(result, func(a, b ChannelStatus) int { return strings.Compare(a.ChannelID, b.ChannelID) })
	return result
}
