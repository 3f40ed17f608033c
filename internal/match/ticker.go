package match

import (
	"context"
	"time"

	"github.com/kifulabs/shinpan/internal/clock"
)

// RunTicker samples the advisory clock cache at the given interval and hands
// each sample to publish, giving observers a countdown between commits. It
// returns when ctx is done. The cache is display-only; nothing here touches
// the committed record.
func RunTicker(ctx context.Context, live *clock.Live, interval time.Duration, publish func(white, black float64)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !live.Ticking() {
				continue
			}
			white, black := live.Now()
			publish(white, black)
		}
	}
}
