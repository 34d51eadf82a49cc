package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ddevcap/subtracker/config"
	"github.com/ddevcap/subtracker/tracker"
)

// SeedChannels tracks cfg.SeedChannels when the tracked set is empty, so a
// fresh install has something to sweep before discovery finds anything. It
// is a no-op when channels are already tracked, so it is safe to call on
// every startup. It returns the number of channels added.
func SeedChannels(ctx context.Context, tr *tracker.Tracker, cfg config.Config) int {
	if len(cfg.SeedChannels) == 0 {
		return 0
	}
	if tr.GlobalStats().TotalChannels > 0 {
		// Channels already tracked; nothing to do.
		return 0
	}

	added := 0
	for _, raw := range cfg.SeedChannels {
		_, err := tr.AddChannel(ctx, raw)
		switch {
		case err == nil:
			added++
		case errors.Is(err, tracker.ErrAlreadyTracked):
		default:
			slog.Warn("seed: skipping channel", "id", raw, "error", err)
		}
	}
	slog.Info("seed: tracked initial channels", "count", added)
	return added
}
