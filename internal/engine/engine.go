package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"warden/internal/cache"
	"warden/internal/database"
	"warden/internal/domain"
	"warden/internal/support"
	"warden/internal/trustednet"
)

// DefaultReadyTimeout bounds how long a storage-dependent call waits for the
// store to come up before degrading to its safe default.
const DefaultReadyTimeout = 5 * time.Second

// TierStatus is the read view of a trusted or provisional classification.
// Active is computed against the clock at read time, so an expired row that
// has not been swept yet reports Active=false.
type TierStatus struct {
	Active       bool
	Confidence   int
	ExpiresAt    time.Time
	RequestCount uint64
	LastSeen     time.Time
}

// Engine is the access-control facade: tiered classification fronted by
// per-tier TTL caches, CIDR trusted-network overrides and a daily lookup
// budget. Classification reads never surface storage errors; they degrade to
// "not blocked / not trusted / not provisional" and a known cached blocked
// result keeps blocking even when storage is down.
type Engine struct {
	storePtr     atomic.Pointer[database.Store]
	registry     *trustednet.Registry
	caches       map[domain.Tier]*cache.TTLCache
	flight       singleflight.Group
	ready        chan struct{}
	readyOnce    sync.Once
	readyTimeout time.Duration
	now          func() time.Time
}

type Config struct {
	CacheCapacity int
	CacheTTL      time.Duration
	ReadyTimeout  time.Duration
	Clock         func() time.Time
	Registry      *trustednet.Registry
}

// New builds an engine instance. Storage is attached separately so the
// engine can exist (and fail open) before the durable store initializes.
func New(cfg Config) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}

	registry := cfg.Registry
	if registry == nil {
		registry = trustednet.NewRegistry(nil, trustednet.WithClock(now))
	}

	clock := cache.WithClock(now)
	e := &Engine{
		registry: registry,
		caches: map[domain.Tier]*cache.TTLCache{
			domain.TierBlocked:     cache.New(cfg.CacheCapacity, cfg.CacheTTL, clock),
			domain.TierTrusted:     cache.New(cfg.CacheCapacity, cfg.CacheTTL, clock),
			domain.TierProvisional: cache.New(cfg.CacheCapacity, cfg.CacheTTL, clock),
		},
		ready:        make(chan struct{}),
		readyTimeout: readyTimeout,
		now:          now,
	}
	return e
}

// AttachStore wires the durable store and signals readiness to every
// waiting call.
func (e *Engine) AttachStore(store *database.Store) {
	if store == nil {
		return
	}
	e.storePtr.Store(store)
	e.registry.AttachStore(store)
	e.readyOnce.Do(func() { close(e.ready) })
}

// Ready reports whether the durable store has been attached.
func (e *Engine) Ready() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// store waits for readiness with a bounded timeout and returns nil when the
// store never came up, letting the caller resolve its safe default.
func (e *Engine) store() *database.Store {
	select {
	case <-e.ready:
		return e.storePtr.Load()
	default:
	}
	select {
	case <-e.ready:
		return e.storePtr.Load()
	case <-time.After(e.readyTimeout):
		return nil
	}
}

func (e *Engine) invalidate(ip string) {
	for _, c := range e.caches {
		c.Delete(ip)
	}
}

// IsBlocked answers from the blocked cache first. The cache check runs
// before the readiness wait so a known blocked address keeps blocking while
// storage is degraded.
func (e *Engine) IsBlocked(ctx context.Context, ip string) bool {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false
	}

	if cached, ok := e.caches[domain.TierBlocked].Get(normalized); ok {
		blocked, _ := cached.(bool)
		return blocked
	}

	store := e.store()
	if store == nil {
		return false
	}

	result, err, _ := e.flight.Do("blocked:"+normalized, func() (interface{}, error) {
		record, err := store.GetBlocked(ctx, normalized)
		if err != nil {
			return false, err
		}
		blocked := record != nil
		e.caches[domain.TierBlocked].Set(normalized, blocked)
		return blocked, nil
	})
	if err != nil {
		log.Warn("Blocked lookup degraded", "ip", normalized, "error", err)
		return false
	}
	blocked, _ := result.(bool)
	return blocked
}

// Block classifies the IP as blocked. Reserved addresses are refused without
// a write.
func (e *Engine) Block(ctx context.Context, ip, reason string) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.Block(ctx, ip, reason)
	if err != nil {
		log.Error("Block failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// Unblock removes a blocked classification.
func (e *Engine) Unblock(ctx context.Context, ip string) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.Unblock(ctx, ip)
	if err != nil {
		log.Error("Unblock failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// AddTrusted classifies the IP as trusted with the given score, reports and
// TTL in days (default 15).
func (e *Engine) AddTrusted(ctx context.Context, ip string, confidence, reports, ttlDays int, meta domain.ReputationMeta) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.AddTrusted(ctx, ip, confidence, reports, ttlDays, meta)
	if err != nil {
		log.Error("AddTrusted failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// AddProvisional classifies the IP as provisional with the given score,
// reports and TTL in days (default 7).
func (e *Engine) AddProvisional(ctx context.Context, ip string, confidence, reports, ttlDays int, meta domain.ReputationMeta) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.AddProvisional(ctx, ip, confidence, reports, ttlDays, meta)
	if err != nil {
		log.Error("AddProvisional failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// RemoveTrusted deletes a trusted classification.
func (e *Engine) RemoveTrusted(ctx context.Context, ip string) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.RemoveTrusted(ctx, ip)
	if err != nil {
		log.Error("RemoveTrusted failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// RemoveProvisional deletes a provisional classification.
func (e *Engine) RemoveProvisional(ctx context.Context, ip string) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.RemoveProvisional(ctx, ip)
	if err != nil {
		log.Error("RemoveProvisional failed", "ip", ip, "error", err)
		return false
	}
	if ok {
		e.invalidate(support.NormalizeIPv4(ip))
	}
	return ok
}

// IsTrusted returns the trusted status of the IP, cache-aside.
func (e *Engine) IsTrusted(ctx context.Context, ip string) TierStatus {
	return e.tierStatus(ctx, domain.TierTrusted, ip)
}

// IsProvisional returns the provisional status of the IP, cache-aside.
func (e *Engine) IsProvisional(ctx context.Context, ip string) TierStatus {
	return e.tierStatus(ctx, domain.TierProvisional, ip)
}

func (e *Engine) tierStatus(ctx context.Context, tier domain.Tier, ip string) TierStatus {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return TierStatus{}
	}

	if cached, ok := e.caches[tier].Get(normalized); ok {
		status, _ := cached.(TierStatus)
		return e.activate(status)
	}

	store := e.store()
	if store == nil {
		return TierStatus{}
	}

	result, err, _ := e.flight.Do(string(tier)+":"+normalized, func() (interface{}, error) {
		var status TierStatus
		switch tier {
		case domain.TierTrusted:
			record, err := store.GetTrusted(ctx, normalized)
			if err != nil {
				return TierStatus{}, err
			}
			if record != nil {
				status = TierStatus{
					Confidence:   record.Confidence,
					ExpiresAt:    record.ExpiresAt,
					RequestCount: record.RequestCount,
					LastSeen:     record.LastSeen,
				}
			}
		case domain.TierProvisional:
			record, err := store.GetProvisional(ctx, normalized)
			if err != nil {
				return TierStatus{}, err
			}
			if record != nil {
				status = TierStatus{
					Confidence:   record.Confidence,
					ExpiresAt:    record.ExpiresAt,
					RequestCount: record.RequestCount,
					LastSeen:     record.LastSeen,
				}
			}
		}
		e.caches[tier].Set(normalized, status)
		return status, nil
	})
	if err != nil {
		log.Warn("Tier lookup degraded", "tier", tier, "ip", normalized, "error", err)
		return TierStatus{}
	}
	status, _ := result.(TierStatus)
	return e.activate(status)
}

// activate computes Active at read time so soft-expired rows stop counting
// the moment the clock passes ExpiresAt, cached or not.
func (e *Engine) activate(status TierStatus) TierStatus {
	status.Active = !status.ExpiresAt.IsZero() && status.ExpiresAt.After(e.now().UTC())
	return status
}

// Classify resolves the IP's current tier.
func (e *Engine) Classify(ctx context.Context, ip string) (domain.Tier, bool) {
	store := e.store()
	if store == nil {
		return "", false
	}
	tier, found, err := store.Classify(ctx, ip)
	if err != nil {
		log.Warn("Classify degraded", "ip", ip, "error", err)
		return "", false
	}
	return tier, found
}

// RecordSighting bumps counters on whichever tier holds the IP.
func (e *Engine) RecordSighting(ctx context.Context, ip string) {
	store := e.store()
	if store == nil {
		return
	}
	if err := store.RecordSighting(ctx, ip); err != nil {
		log.Warn("RecordSighting failed", "ip", ip, "error", err)
		return
	}
	e.invalidate(support.NormalizeIPv4(ip))
}

// List returns records of one tier, newest first.
func (e *Engine) List(ctx context.Context, tier domain.Tier, limit, offset int) []database.IPRecord {
	store := e.store()
	if store == nil {
		return nil
	}
	records, err := store.List(ctx, tier, limit, offset)
	if err != nil {
		log.Warn("List degraded", "tier", tier, "error", err)
		return nil
	}
	return records
}

// Count returns the physical row count of a tier.
func (e *Engine) Count(ctx context.Context, tier domain.Tier) int64 {
	store := e.store()
	if store == nil {
		return 0
	}
	count, err := store.Count(ctx, tier)
	if err != nil {
		log.Warn("Count degraded", "tier", tier, "error", err)
		return 0
	}
	return count
}

// ListMigrations returns audit entries newest first.
func (e *Engine) ListMigrations(ctx context.Context, limit, offset int, ip string) []domain.MigrationLog {
	store := e.store()
	if store == nil {
		return nil
	}
	entries, err := store.ListMigrations(ctx, limit, offset, ip)
	if err != nil {
		log.Warn("ListMigrations degraded", "error", err)
		return nil
	}
	return entries
}

// CountMigrations counts audit entries.
func (e *Engine) CountMigrations(ctx context.Context, ip string) int64 {
	store := e.store()
	if store == nil {
		return 0
	}
	count, err := store.CountMigrations(ctx, ip)
	if err != nil {
		log.Warn("CountMigrations degraded", "error", err)
		return 0
	}
	return count
}

// Reconcile runs a duplicate-resolution pass. Concurrent calls coalesce
// into one sweep.
func (e *Engine) Reconcile(ctx context.Context) *database.ReconcileResult {
	store := e.store()
	if store == nil {
		return &database.ReconcileResult{}
	}

	result, err, _ := e.flight.Do("reconcile", func() (interface{}, error) {
		return store.Reconcile(ctx)
	})
	if err != nil {
		log.Error("Reconcile failed", "error", err)
		return &database.ReconcileResult{}
	}

	outcome, _ := result.(*database.ReconcileResult)
	if outcome == nil {
		outcome = &database.ReconcileResult{}
	}
	if outcome.Removed > 0 {
		// Repaired rows may be cached under their losing tier.
		for _, dup := range outcome.Duplicates {
			e.invalidate(dup.IP)
		}
	}
	return outcome
}

// SweepExpired deletes soft-expired trusted/provisional rows.
func (e *Engine) SweepExpired(ctx context.Context) int64 {
	store := e.store()
	if store == nil {
		return 0
	}
	removed, err := store.SweepExpired(ctx)
	if err != nil {
		log.Error("Expiry sweep failed", "error", err)
		return 0
	}
	return removed
}

// CheckTrusted consults the trusted network registry. This works even before
// storage readiness via the hardcoded fallback ranges.
func (e *Engine) CheckTrusted(ctx context.Context, ip string) string {
	return e.registry.CheckTrusted(ctx, ip)
}

// AddTrustedRange stores a CIDR allow-list entry. Validation failures are
// surfaced: this is an administrative call, not a hot-path read.
func (e *Engine) AddTrustedRange(ctx context.Context, cidr, category, description string) (uint64, error) {
	store := e.store()
	if store == nil {
		return 0, database.ErrStorageUnavailable
	}
	id, err := store.AddTrustedRange(ctx, cidr, category, description)
	if err != nil {
		return 0, err
	}
	e.registry.Invalidate()
	return id, nil
}

// RemoveTrustedRange deletes a range by id.
func (e *Engine) RemoveTrustedRange(ctx context.Context, id uint64) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.RemoveTrustedRange(ctx, id)
	if err != nil {
		log.Error("RemoveTrustedRange failed", "id", id, "error", err)
		return false
	}
	if ok {
		e.registry.Invalidate()
	}
	return ok
}

// ToggleTrustedRange flips a range's enabled flag.
func (e *Engine) ToggleTrustedRange(ctx context.Context, id uint64, enabled bool) bool {
	store := e.store()
	if store == nil {
		return false
	}
	ok, err := store.ToggleTrustedRange(ctx, id, enabled)
	if err != nil {
		log.Error("ToggleTrustedRange failed", "id", id, "error", err)
		return false
	}
	if ok {
		e.registry.Invalidate()
	}
	return ok
}

// ListTrustedRanges returns ranges in storage order.
func (e *Engine) ListTrustedRanges(ctx context.Context, category string, enabledOnly bool) []domain.TrustedRange {
	store := e.store()
	if store == nil {
		return nil
	}
	ranges, err := store.ListTrustedRanges(ctx, category, enabledOnly)
	if err != nil {
		log.Warn("ListTrustedRanges degraded", "error", err)
		return nil
	}
	return ranges
}

// CountRangesByCategory returns per-category range totals.
func (e *Engine) CountRangesByCategory(ctx context.Context) map[string]database.RangeCategoryCount {
	store := e.store()
	if store == nil {
		return map[string]database.RangeCategoryCount{}
	}
	counts, err := store.CountRangesByCategory(ctx)
	if err != nil {
		log.Warn("CountRangesByCategory degraded", "error", err)
		return map[string]database.RangeCategoryCount{}
	}
	return counts
}

// InitQuota seeds daily limits for reputation endpoints.
func (e *Engine) InitQuota(ctx context.Context, limits map[string]int) error {
	store := e.store()
	if store == nil {
		return database.ErrStorageUnavailable
	}
	return store.InitQuota(ctx, limits)
}

// CanUse checks the daily budget of an endpoint. Unavailable storage and
// unknown endpoints both fail open.
func (e *Engine) CanUse(ctx context.Context, endpoint string) database.QuotaDecision {
	store := e.store()
	if store == nil {
		return database.QuotaDecision{Allowed: true, Remaining: -1}
	}
	decision, err := store.CanUse(ctx, endpoint)
	if err != nil {
		log.Warn("Quota check degraded", "endpoint", endpoint, "error", err)
		return database.QuotaDecision{Allowed: true, Remaining: -1}
	}
	return decision
}

// RecordUsage spends one unit of an endpoint's daily budget.
func (e *Engine) RecordUsage(ctx context.Context, endpoint string) {
	store := e.store()
	if store == nil {
		return
	}
	if err := store.RecordUsage(ctx, endpoint); err != nil {
		log.Warn("RecordUsage failed", "endpoint", endpoint, "error", err)
	}
}

// QuotaStats reports configured endpoints with day-adjusted usage.
func (e *Engine) QuotaStats(ctx context.Context) map[string]database.QuotaStat {
	store := e.store()
	if store == nil {
		return map[string]database.QuotaStat{}
	}
	stats, err := store.QuotaStats(ctx)
	if err != nil {
		log.Warn("QuotaStats degraded", "error", err)
		return map[string]database.QuotaStat{}
	}
	return stats
}

// CacheStats returns per-tier cache counters.
func (e *Engine) CacheStats() map[domain.Tier]cache.Stats {
	stats := make(map[domain.Tier]cache.Stats, len(e.caches))
	for tier, c := range e.caches {
		stats[tier] = c.Stats()
	}
	return stats
}

// ClearCaches drops every cached classification.
func (e *Engine) ClearCaches() {
	for _, c := range e.caches {
		c.Clear()
	}
}
