package database

import (
	"context"
	"errors"
	"testing"
)

func TestAddTrustedRangeValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := store.AddTrustedRange(ctx, "149.154.160.0/20", "telegram", "webhook sources")
	if err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}
	if id == 0 {
		t.Fatal("AddTrustedRange returned id 0")
	}

	if _, err := store.AddTrustedRange(ctx, "not-a-cidr", "telegram", ""); !errors.Is(err, ErrInvalidCIDR) {
		t.Fatalf("malformed CIDR error = %v, want ErrInvalidCIDR", err)
	}
	if _, err := store.AddTrustedRange(ctx, "2001:db8::/32", "telegram", ""); !errors.Is(err, ErrInvalidCIDR) {
		t.Fatalf("IPv6 CIDR error = %v, want ErrInvalidCIDR", err)
	}
	if _, err := store.AddTrustedRange(ctx, "91.108.4.0/22", "", ""); err == nil {
		t.Fatal("empty category accepted")
	}
}

func TestAddTrustedRangeNormalizesCIDR(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	// Host bits are stripped to the canonical network address.
	if _, err := store.AddTrustedRange(ctx, "149.154.167.99/20", "telegram", ""); err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}

	ranges, err := store.ListTrustedRanges(ctx, "", false)
	if err != nil {
		t.Fatalf("ListTrustedRanges returned error: %v", err)
	}
	if len(ranges) != 1 || ranges[0].CIDR != "149.154.160.0/20" {
		t.Fatalf("stored CIDR = %v, want 149.154.160.0/20", ranges)
	}
}

func TestToggleAndRemoveTrustedRange(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := store.AddTrustedRange(ctx, "91.108.4.0/22", "telegram", "")
	if err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}

	ok, err := store.ToggleTrustedRange(ctx, id, false)
	if err != nil || !ok {
		t.Fatalf("ToggleTrustedRange failed: ok=%v err=%v", ok, err)
	}

	enabled, err := store.ListTrustedRanges(ctx, "", true)
	if err != nil {
		t.Fatalf("ListTrustedRanges returned error: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("disabled range still listed as enabled: %#v", enabled)
	}

	ok, err = store.RemoveTrustedRange(ctx, id)
	if err != nil || !ok {
		t.Fatalf("RemoveTrustedRange failed: ok=%v err=%v", ok, err)
	}

	ok, err = store.RemoveTrustedRange(ctx, id)
	if err != nil {
		t.Fatalf("second RemoveTrustedRange returned error: %v", err)
	}
	if ok {
		t.Fatal("second RemoveTrustedRange reported a removal")
	}
}

func TestListTrustedRangesInsertionOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	for _, cidr := range []string{"149.154.160.0/20", "91.108.4.0/22", "8.8.8.0/24"} {
		if _, err := store.AddTrustedRange(ctx, cidr, "infra", ""); err != nil {
			t.Fatalf("AddTrustedRange(%s) returned error: %v", cidr, err)
		}
	}

	ranges, err := store.ListTrustedRanges(ctx, "", false)
	if err != nil {
		t.Fatalf("ListTrustedRanges returned error: %v", err)
	}
	if len(ranges) != 3 {
		t.Fatalf("listed %d ranges, want 3", len(ranges))
	}
	if ranges[0].CIDR != "149.154.160.0/20" || ranges[2].CIDR != "8.8.8.0/24" {
		t.Fatalf("unexpected order: %s, %s, %s", ranges[0].CIDR, ranges[1].CIDR, ranges[2].CIDR)
	}
}

func TestCountRangesByCategory(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := store.AddTrustedRange(ctx, "149.154.160.0/20", "telegram", "")
	if err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}
	if _, err := store.AddTrustedRange(ctx, "91.108.4.0/22", "telegram", ""); err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}
	if _, err := store.AddTrustedRange(ctx, "8.8.8.0/24", "infra", ""); err != nil {
		t.Fatalf("AddTrustedRange returned error: %v", err)
	}
	if ok, err := store.ToggleTrustedRange(ctx, id, false); err != nil || !ok {
		t.Fatalf("ToggleTrustedRange failed: ok=%v err=%v", ok, err)
	}

	counts, err := store.CountRangesByCategory(ctx)
	if err != nil {
		t.Fatalf("CountRangesByCategory returned error: %v", err)
	}

	telegram := counts["telegram"]
	if telegram.Total != 2 || telegram.Enabled != 1 {
		t.Fatalf("telegram counts = %+v, want total 2 enabled 1", telegram)
	}
	infra := counts["infra"]
	if infra.Total != 1 || infra.Enabled != 1 {
		t.Fatalf("infra counts = %+v, want total 1 enabled 1", infra)
	}
}
