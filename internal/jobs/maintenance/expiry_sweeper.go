package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"warden/internal/config"
	"warden/internal/engine"
	"warden/internal/support"
)

const expiryLockKey = "warden:leader:expiry_sweep"

// StartExpirySweepRoutine physically deletes trusted and provisional rows
// whose TTL has lapsed. Reads already filter expired rows, so the sweep only
// reclaims storage. Blocks until ctx is canceled.
func StartExpirySweepRoutine(ctx context.Context, eng *engine.Engine) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(config.GetExpiryInterval())

	updateSignal := make(chan struct{}, 1)
	updates := config.ExpiryIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					continue
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	err := support.RunWithLeader(ctx, expiryLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runExpiryLoop(leaderCtx, eng, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Expiry sweep routine stopped", "error", err)
	}
}

func runExpiryLoop(ctx context.Context, eng *engine.Engine, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	current := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	runExpirySweep(ctx, eng)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runExpirySweep(ctx, eng)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 || newInterval == current {
				continue
			}
			drainTicker(ticker)
			current = newInterval
			ticker.Reset(current)
			log.Info("Expiry sweep interval updated", "interval", current)
		}
	}
}

func runExpirySweep(ctx context.Context, eng *engine.Engine) {
	start := time.Now()

	removed := eng.SweepExpired(ctx)
	if removed == 0 {
		return
	}

	log.Info("Expiry sweep completed", "removed", removed, "duration", time.Since(start))
}
