package database

import (
	"context"

	"warden/internal/domain"
)

// DuplicateIP describes an address found in more than one tier table.
type DuplicateIP struct {
	IP            string
	InBlocked     bool
	InProvisional bool
	InTrusted     bool
}

// ReconcileResult reports what a reconciliation pass repaired.
type ReconcileResult struct {
	Removed    int
	Duplicates []DuplicateIP
}

// FindDuplicates returns IPs present in more than one tier. Provisional and
// trusted rows only count while non-expired; blocked rows always count.
func (s *Store) FindDuplicates(ctx context.Context) ([]DuplicateIP, error) {
	now := s.now().UTC()
	db := s.conn(ctx)

	var blocked []string
	if err := db.Model(&domain.BlockedIP{}).Pluck("ip", &blocked).Error; err != nil {
		return nil, err
	}

	var provisional []string
	if err := db.Model(&domain.ProvisionalIP{}).
		Where("expires_at > ?", now).Pluck("ip", &provisional).Error; err != nil {
		return nil, err
	}

	var trusted []string
	if err := db.Model(&domain.TrustedIP{}).
		Where("expires_at > ?", now).Pluck("ip", &trusted).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]*DuplicateIP)
	mark := func(ips []string, set func(*DuplicateIP)) {
		for _, ip := range ips {
			dup, ok := seen[ip]
			if !ok {
				dup = &DuplicateIP{IP: ip}
				seen[ip] = dup
			}
			set(dup)
		}
	}
	mark(blocked, func(d *DuplicateIP) { d.InBlocked = true })
	mark(provisional, func(d *DuplicateIP) { d.InProvisional = true })
	mark(trusted, func(d *DuplicateIP) { d.InTrusted = true })

	var duplicates []DuplicateIP
	for _, dup := range seen {
		tiers := 0
		if dup.InBlocked {
			tiers++
		}
		if dup.InProvisional {
			tiers++
		}
		if dup.InTrusted {
			tiers++
		}
		if tiers > 1 {
			duplicates = append(duplicates, *dup)
		}
	}
	return duplicates, nil
}

// Reconcile restores tier exclusivity: for every duplicated IP the highest
// priority tier wins (blocked > provisional > trusted) and the rows in the
// losing tiers are deleted. Tier transitions commit in one transaction;
// this sweep only repairs rows written by external tooling or older data.
func (s *Store) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	duplicates, err := s.FindDuplicates(ctx)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Duplicates: duplicates}
	if len(duplicates) == 0 {
		return result, nil
	}

	db := s.conn(ctx)
	for _, dup := range duplicates {
		switch {
		case dup.InBlocked:
			if dup.InProvisional {
				res := db.Where("ip = ?", dup.IP).Delete(&domain.ProvisionalIP{})
				if res.Error != nil {
					return result, res.Error
				}
				result.Removed += int(res.RowsAffected)
			}
			if dup.InTrusted {
				res := db.Where("ip = ?", dup.IP).Delete(&domain.TrustedIP{})
				if res.Error != nil {
					return result, res.Error
				}
				result.Removed += int(res.RowsAffected)
			}
		case dup.InProvisional:
			if dup.InTrusted {
				res := db.Where("ip = ?", dup.IP).Delete(&domain.TrustedIP{})
				if res.Error != nil {
					return result, res.Error
				}
				result.Removed += int(res.RowsAffected)
			}
		}
	}
	return result, nil
}

// SweepExpired deletes trusted and provisional rows past their ExpiresAt.
// Blocked rows are never auto-expired.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	db := s.conn(ctx)

	var removed int64
	res := db.Where("expires_at <= ?", now).Delete(&domain.TrustedIP{})
	if res.Error != nil {
		return removed, res.Error
	}
	removed += res.RowsAffected

	res = db.Where("expires_at <= ?", now).Delete(&domain.ProvisionalIP{})
	if res.Error != nil {
		return removed, res.Error
	}
	removed += res.RowsAffected

	return removed, nil
}
