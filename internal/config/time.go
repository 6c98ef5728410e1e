package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultReconcileInterval = 6 * time.Hour
	defaultExpiryInterval    = time.Hour
)

var (
	reconcileInterval          atomic.Value
	expiryInterval             atomic.Value
	reconcileIntervalListeners []chan time.Duration
	expiryIntervalListeners    []chan time.Duration
	listenersMu                sync.Mutex
)

func init() {
	reconcileInterval.Store(defaultReconcileInterval)
	expiryInterval.Store(defaultExpiryInterval)
}

func SetSweepIntervals() {
	cfg := GetConfig()
	setReconcileInterval(calculateReconcileInterval(cfg))
	setExpiryInterval(calculateExpiryInterval(cfg))
}

// CalculateBetweenTime converts a Timer block to a duration with a one
// second floor.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetReconcileInterval() time.Duration {
	return reconcileInterval.Load().(time.Duration)
}

// ReconcileIntervalUpdates returns a channel that yields the current
// interval immediately and every later change.
func ReconcileIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	reconcileIntervalListeners = append(reconcileIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetReconcileInterval()
	return ch
}

func setReconcileInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}

	current := GetReconcileInterval()
	if current == interval {
		return
	}

	reconcileInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range reconcileIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateReconcileInterval(cfg Config) time.Duration {
	timer := cfg.Sweeper.ReconcileTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultReconcileInterval
	}
	return CalculateBetweenTime(timer)
}

func GetExpiryInterval() time.Duration {
	return expiryInterval.Load().(time.Duration)
}

func ExpiryIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	expiryIntervalListeners = append(expiryIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetExpiryInterval()
	return ch
}

func setExpiryInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultExpiryInterval
	}

	current := GetExpiryInterval()
	if current == interval {
		return
	}

	expiryInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range expiryIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateExpiryInterval(cfg Config) time.Duration {
	timer := cfg.Sweeper.ExpiryTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultExpiryInterval
	}
	return CalculateBetweenTime(timer)
}
