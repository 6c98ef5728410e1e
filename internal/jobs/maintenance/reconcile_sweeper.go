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

const reconcileLockKey = "warden:leader:tier_reconcile"

// StartReconcileRoutine periodically scans the tier tables for addresses
// present in more than one tier and keeps only the highest-priority row.
// Transitions are transactional, so this loop is a safety net for rows that
// predate the engine or were written by external tooling. Blocks until ctx
// is canceled.
func StartReconcileRoutine(ctx context.Context, eng *engine.Engine) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	intervalValue.Store(config.GetReconcileInterval())

	updateSignal := make(chan struct{}, 1)
	updates := config.ReconcileIntervalUpdates()

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

	err := support.RunWithLeader(ctx, reconcileLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runReconcileLoop(leaderCtx, eng, &intervalValue, updateSignal)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Tier reconcile routine stopped", "error", err)
	}
}

func runReconcileLoop(ctx context.Context, eng *engine.Engine, intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	current := intervalValue.Load().(time.Duration)

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	runReconcile(ctx, eng)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runReconcile(ctx, eng)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 || newInterval == current {
				continue
			}
			drainTicker(ticker)
			current = newInterval
			ticker.Reset(current)
			log.Info("Tier reconcile interval updated", "interval", current)
		}
	}
}

func runReconcile(ctx context.Context, eng *engine.Engine) {
	start := time.Now()

	result := eng.Reconcile(ctx)
	if result.Removed == 0 {
		return
	}

	log.Info(
		"Tier reconcile completed",
		"duplicates", len(result.Duplicates),
		"removed", result.Removed,
		"duration", time.Since(start),
	)
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
