package trustednet

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"warden/internal/database"
	"warden/internal/domain"
	"warden/internal/support"
)

const (
	// DefaultCacheTTL bounds how long the enabled-range snapshot is served
	// before the store is consulted again. The matcher runs on every inbound
	// request, so this read must stay cheap.
	DefaultCacheTTL = 5 * time.Minute

	// FallbackCategory is the one category that must keep matching even when
	// the registry store is unavailable, e.g. during startup.
	FallbackCategory = "telegram"
)

// Telegram's published webhook source networks. Used only when the store
// cannot serve the enabled ranges.
var fallbackCIDRs = []string{
	"149.154.160.0/20",
	"91.108.4.0/22",
}

type snapshot struct {
	ranges   []domain.TrustedRange
	loadedAt time.Time
	fallback bool
}

// Registry answers "is this address inside a trusted network" from a cached
// copy of the enabled CIDR ranges. Matching is IPv4-only and first-match in
// storage order; overlapping ranges resolve to whichever was inserted first.
type Registry struct {
	store   *database.Store
	ttl     time.Duration
	now     func() time.Time
	current atomic.Value
	flight  singleflight.Group
}

type Option func(*Registry)

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry builds a registry over the given store. A nil store is valid:
// every lookup then falls back to the hardcoded ranges so critical webhook
// validation never waits on storage readiness.
func NewRegistry(store *database.Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachStore late-binds the store once storage initialization finished.
func (r *Registry) AttachStore(store *database.Store) {
	r.store = store
	r.Invalidate()
}

// CheckTrusted returns the category of the first enabled range containing
// the address, or "" when none matches. Malformed input matches nothing.
func (r *Registry) CheckTrusted(ctx context.Context, ip string) string {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return ""
	}
	u := support.IPToUint32(net.ParseIP(normalized))

	for _, rng := range r.enabledRanges(ctx) {
		if u >= rng.StartIP && u <= rng.EndIP {
			return rng.Category
		}
	}
	return ""
}

// IPInCIDR reports whether the address falls inside the CIDR. It sits on the
// hot classification path, so malformed input returns false instead of an
// error.
func IPInCIDR(ip, cidr string) bool {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false
	}
	_, start, end, err := support.ParseCIDRv4(cidr)
	if err != nil {
		return false
	}
	u := support.IPToUint32(net.ParseIP(normalized))
	return u >= start && u <= end
}

// Invalidate drops the cached snapshot so the next read reloads.
func (r *Registry) Invalidate() {
	r.current.Store(snapshot{})
}

func (r *Registry) enabledRanges(ctx context.Context) []domain.TrustedRange {
	if snap, ok := r.current.Load().(snapshot); ok && !snap.loadedAt.IsZero() {
		if r.now().Sub(snap.loadedAt) < r.ttl {
			return snap.ranges
		}
	}

	result, _, _ := r.flight.Do("reload", func() (interface{}, error) {
		return r.reload(ctx), nil
	})
	snap, _ := result.(snapshot)
	return snap.ranges
}

func (r *Registry) reload(ctx context.Context) snapshot {
	if r.store == nil {
		snap := snapshot{ranges: fallbackRanges(), loadedAt: r.now(), fallback: true}
		r.current.Store(snap)
		return snap
	}

	stored, err := r.store.ListTrustedRanges(ctx, "", true)
	if err != nil {
		log.Warn("Trusted range reload failed, serving fallback", "error", err)
		// Keep an earlier good snapshot if there is one.
		if snap, ok := r.current.Load().(snapshot); ok && !snap.loadedAt.IsZero() && !snap.fallback {
			return snap
		}
		snap := snapshot{ranges: fallbackRanges(), loadedAt: r.now(), fallback: true}
		r.current.Store(snap)
		return snap
	}

	ranges := make([]domain.TrustedRange, 0, len(stored))
	for _, rng := range stored {
		normalized, start, end, err := support.ParseCIDRv4(rng.CIDR)
		if err != nil {
			log.Warn("Skipping malformed stored range", "id", rng.ID, "cidr", rng.CIDR)
			continue
		}
		rng.CIDR = normalized
		rng.StartIP = start
		rng.EndIP = end
		ranges = append(ranges, rng)
	}

	snap := snapshot{ranges: ranges, loadedAt: r.now()}
	r.current.Store(snap)
	return snap
}

func fallbackRanges() []domain.TrustedRange {
	ranges := make([]domain.TrustedRange, 0, len(fallbackCIDRs))
	for _, cidr := range fallbackCIDRs {
		normalized, start, end, err := support.ParseCIDRv4(cidr)
		if err != nil {
			continue
		}
		ranges = append(ranges, domain.TrustedRange{
			CIDR:     normalized,
			Category: FallbackCategory,
			Enabled:  true,
			StartIP:  start,
			EndIP:    end,
		})
	}
	return ranges
}
