package bridge

import (
	"context"
	"time"
)

// Report logs the live session count and counters every interval until ctx is
// done. A tick is only logged when something changed since the previous one.
func (b *Bridge) Report(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	prevSessions, prevCreated := -1, uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := b.Sessions()
			c := Counters()
			if n == prevSessions && c["sessions_created"] == prevCreated {
				continue
			}
			prevSessions, prevCreated = n, c["sessions_created"]
			b.logger.Infow("Bridge stats",
				"sessions", n,
				"created", c["sessions_created"],
				"answers", c["answers_returned"],
				"fallbacks", c["fallbacks_returned"],
				"packets_relayed", c["packets_relayed"],
				"packets_dropped", c["packets_dropped"],
			)
		}
	}
}
