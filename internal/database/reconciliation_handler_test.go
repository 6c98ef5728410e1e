package database

import (
	"context"
	"testing"
	"time"

	"warden/internal/domain"
)

// seedDuplicate writes tier rows directly, bypassing the transactional
// operations, to simulate drift from external writers.
func seedDuplicate(t *testing.T, store *Store, ip string, tiers ...domain.Tier) {
	t.Helper()

	now := store.now().UTC()
	expires := now.Add(24 * time.Hour)

	for _, tier := range tiers {
		var err error
		switch tier {
		case domain.TierBlocked:
			err = store.db.Create(&domain.BlockedIP{IP: ip, BlockedAt: now, LastSeen: now, CreatedAt: now}).Error
		case domain.TierTrusted:
			err = store.db.Create(&domain.TrustedIP{IP: ip, LastSeen: now, CreatedAt: now, ExpiresAt: expires}).Error
		case domain.TierProvisional:
			err = store.db.Create(&domain.ProvisionalIP{IP: ip, LastSeen: now, CreatedAt: now, ExpiresAt: expires}).Error
		}
		if err != nil {
			t.Fatalf("seed %s row for %s: %v", tier, ip, err)
		}
	}
}

func TestReconcileKeepsHighestPriorityTier(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	seedDuplicate(t, store, "203.0.113.100", domain.TierBlocked, domain.TierTrusted)
	seedDuplicate(t, store, "203.0.113.101", domain.TierProvisional, domain.TierTrusted)

	duplicates, err := store.FindDuplicates(ctx)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(duplicates) != 2 {
		t.Fatalf("found %d duplicates, want 2", len(duplicates))
	}

	result, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Removed != 2 {
		t.Fatalf("removed %d rows, want 2", result.Removed)
	}

	tier, found, err := store.Classify(ctx, "203.0.113.100")
	if err != nil || !found || tier != domain.TierBlocked {
		t.Fatalf("Classify(100) = (%s, %v, %v), want blocked", tier, found, err)
	}

	tier, found, err = store.Classify(ctx, "203.0.113.101")
	if err != nil || !found || tier != domain.TierProvisional {
		t.Fatalf("Classify(101) = (%s, %v, %v), want provisional", tier, found, err)
	}

	remaining, err := store.FindDuplicates(ctx)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("%d duplicates survived reconcile", len(remaining))
	}
}

func TestFindDuplicatesIgnoresExpiredRows(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	seedDuplicate(t, store, "203.0.113.110", domain.TierBlocked, domain.TierTrusted)

	clock.Advance(48 * time.Hour)

	duplicates, err := store.FindDuplicates(ctx)
	if err != nil {
		t.Fatalf("FindDuplicates returned error: %v", err)
	}
	if len(duplicates) != 0 {
		t.Fatalf("expired trusted row counted as duplicate: %#v", duplicates)
	}
}

func TestSweepExpiredLeavesBlockedAlone(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	if ok, err := store.Block(ctx, "203.0.113.120", "test"); err != nil || !ok {
		t.Fatalf("Block failed: ok=%v err=%v", ok, err)
	}
	if ok, err := store.AddProvisional(ctx, "203.0.113.121", 50, 1, 1, domain.ReputationMeta{}); err != nil || !ok {
		t.Fatalf("AddProvisional failed: ok=%v err=%v", ok, err)
	}

	clock.Advance(30 * 24 * time.Hour)

	removed, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d rows, want 1", removed)
	}

	blocked, err := store.GetBlocked(ctx, "203.0.113.120")
	if err != nil || blocked == nil {
		t.Fatalf("blocked row swept: record=%v err=%v", blocked, err)
	}
}
