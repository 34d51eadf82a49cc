// Package store is the durable layer of the tracker: the tracked-channel list
// with its one-generation backup, and the append-only per-channel history.
package store

import "time"

// StatSnapshot is one observation of a channel. The JSON shape is what the
// dashboard and the /data/:id route serve.
type StatSnapshot struct {
	ChannelID   string    `json:"channelId"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"`
	Subscribers int64     `json:"subscribers"`
	Timestamp   time.Time `json:"timestamp"`
}

// clampAfter returns snap with its timestamp raised to last's when it would
// otherwise go backwards, so a series never decreases in time.
func clampAfter(last, snap StatSnapshot) StatSnapshot {
	if snap.Timestamp.Before(last.Timestamp) {
		snap.Timestamp = last.Timestamp
	}
	return snap
}
