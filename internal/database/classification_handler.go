package database

import (
	"context"
	"fmt"
	"time"

	"warden/internal/domain"
	"warden/internal/support"

	"gorm.io/gorm"
)

const (
	DefaultTrustedTTLDays     = 15
	DefaultProvisionalTTLDays = 7
)

// IPRecord is the flattened read view over the three tier tables.
type IPRecord struct {
	IP           string
	Tier         domain.Tier
	Reason       string
	Confidence   int
	Reports      int
	RequestCount uint64
	LastSeen     time.Time
	CreatedAt    time.Time
	// ExpiresAt is zero for blocked records, which never expire.
	ExpiresAt time.Time
	Meta      domain.ReputationMeta
}

type tierState struct {
	tier       domain.Tier
	confidence int
	reports    int
}

// Classify returns the tier currently holding the IP, respecting soft
// expiry for trusted and provisional rows.
func (s *Store) Classify(ctx context.Context, ip string) (domain.Tier, bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return "", false, nil
	}
	now := s.now().UTC()
	db := s.conn(ctx)

	var count int64
	if err := db.Model(&domain.BlockedIP{}).Where("ip = ?", normalized).Count(&count).Error; err != nil {
		return "", false, err
	}
	if count > 0 {
		return domain.TierBlocked, true, nil
	}

	if err := db.Model(&domain.ProvisionalIP{}).
		Where("ip = ? AND expires_at > ?", normalized, now).Count(&count).Error; err != nil {
		return "", false, err
	}
	if count > 0 {
		return domain.TierProvisional, true, nil
	}

	if err := db.Model(&domain.TrustedIP{}).
		Where("ip = ? AND expires_at > ?", normalized, now).Count(&count).Error; err != nil {
		return "", false, err
	}
	if count > 0 {
		return domain.TierTrusted, true, nil
	}

	return "", false, nil
}

// Block moves the IP into the blocked tier. Reserved addresses (private,
// loopback, link-local) are rejected without touching storage, regardless of
// caller-side filtering.
func (s *Store) Block(ctx context.Context, ip, reason string) (bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false, nil
	}
	if support.IsReservedIPv4(normalized) {
		return false, nil
	}

	now := s.now().UTC()
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := resolveTier(tx, normalized)
		if err != nil {
			return err
		}
		if err := deleteOtherTiers(tx, normalized, domain.TierBlocked); err != nil {
			return err
		}

		var existing domain.BlockedIP
		res := tx.Where("ip = ?", normalized).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			updates := map[string]any{
				"reason":        reason,
				"last_seen":     now,
				"request_count": gorm.Expr("request_count + 1"),
			}
			if err := tx.Model(&domain.BlockedIP{}).Where("ip = ?", normalized).Updates(updates).Error; err != nil {
				return err
			}
		} else {
			record := domain.BlockedIP{
				IP:           normalized,
				Reason:       reason,
				BlockedAt:    now,
				LastSeen:     now,
				RequestCount: 1,
				CreatedAt:    now,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}

		if prev == nil || prev.tier != domain.TierBlocked {
			return appendMigration(tx, normalized, prev, domain.TierBlocked, 0, 0, reason, now)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unblock removes the IP from the blocked tier. Blocked rows are only ever
// removed explicitly, never by the expiry sweeper.
func (s *Store) Unblock(ctx context.Context, ip string) (bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false, nil
	}
	res := s.conn(ctx).Where("ip = ?", normalized).Delete(&domain.BlockedIP{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AddTrusted moves the IP into the trusted tier with the given confidence
// score, report count and TTL. A renewed classification overwrites ExpiresAt
// in place and preserves CreatedAt.
func (s *Store) AddTrusted(ctx context.Context, ip string, confidence, reports, ttlDays int, meta domain.ReputationMeta) (bool, error) {
	if ttlDays <= 0 {
		ttlDays = DefaultTrustedTTLDays
	}
	return s.addScored(ctx, ip, domain.TierTrusted, confidence, reports, ttlDays, meta)
}

// AddProvisional moves the IP into the provisional tier.
func (s *Store) AddProvisional(ctx context.Context, ip string, confidence, reports, ttlDays int, meta domain.ReputationMeta) (bool, error) {
	if ttlDays <= 0 {
		ttlDays = DefaultProvisionalTTLDays
	}
	return s.addScored(ctx, ip, domain.TierProvisional, confidence, reports, ttlDays, meta)
}

func (s *Store) addScored(ctx context.Context, ip string, target domain.Tier, confidence, reports, ttlDays int, meta domain.ReputationMeta) (bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false, nil
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, ttlDays)

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		prev, err := resolveTier(tx, normalized)
		if err != nil {
			return err
		}
		if err := deleteOtherTiers(tx, normalized, target); err != nil {
			return err
		}

		if err := upsertScored(tx, normalized, target, confidence, reports, now, expiresAt, meta); err != nil {
			return err
		}

		if prev == nil || prev.tier != target {
			return appendMigration(tx, normalized, prev, target, confidence, reports, "", now)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func upsertScored(tx *gorm.DB, ip string, target domain.Tier, confidence, reports int, now, expiresAt time.Time, meta domain.ReputationMeta) error {
	updates := map[string]any{
		"confidence":     confidence,
		"reports":        reports,
		"last_seen":      now,
		"expires_at":     expiresAt,
		"request_count":  gorm.Expr("request_count + 1"),
		"country":        meta.Country,
		"isp":            meta.ISP,
		"domain":         meta.Domain,
		"usage_type":     meta.UsageType,
		"is_anonymizer":  meta.IsAnonymizer,
		"distinct_users": meta.DistinctUsers,
	}

	switch target {
	case domain.TierTrusted:
		var existing domain.TrustedIP
		res := tx.Where("ip = ?", ip).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return tx.Model(&domain.TrustedIP{}).Where("ip = ?", ip).Updates(updates).Error
		}
		return tx.Create(&domain.TrustedIP{
			IP:             ip,
			Confidence:     confidence,
			Reports:        reports,
			RequestCount:   1,
			LastSeen:       now,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			ReputationMeta: meta,
		}).Error
	case domain.TierProvisional:
		var existing domain.ProvisionalIP
		res := tx.Where("ip = ?", ip).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return tx.Model(&domain.ProvisionalIP{}).Where("ip = ?", ip).Updates(updates).Error
		}
		return tx.Create(&domain.ProvisionalIP{
			IP:             ip,
			Confidence:     confidence,
			Reports:        reports,
			RequestCount:   1,
			LastSeen:       now,
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
			ReputationMeta: meta,
		}).Error
	}
	return fmt.Errorf("unsupported scored tier %q", target)
}

// RemoveTrusted deletes the IP from the trusted tier.
func (s *Store) RemoveTrusted(ctx context.Context, ip string) (bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false, nil
	}
	res := s.conn(ctx).Where("ip = ?", normalized).Delete(&domain.TrustedIP{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RemoveProvisional deletes the IP from the provisional tier.
func (s *Store) RemoveProvisional(ctx context.Context, ip string) (bool, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return false, nil
	}
	res := s.conn(ctx).Where("ip = ?", normalized).Delete(&domain.ProvisionalIP{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordSighting bumps the request counter and last-seen timestamp on
// whichever tier currently holds the IP. A miss is not an error.
func (s *Store) RecordSighting(ctx context.Context, ip string) error {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return nil
	}
	now := s.now().UTC()
	db := s.conn(ctx)

	updates := map[string]any{
		"last_seen":     now,
		"request_count": gorm.Expr("request_count + 1"),
	}

	res := db.Model(&domain.BlockedIP{}).Where("ip = ?", normalized).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	res = db.Model(&domain.ProvisionalIP{}).Where("ip = ?", normalized).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	return db.Model(&domain.TrustedIP{}).Where("ip = ?", normalized).Updates(updates).Error
}

// GetBlocked returns the blocked row for the IP, or nil when absent.
func (s *Store) GetBlocked(ctx context.Context, ip string) (*domain.BlockedIP, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return nil, nil
	}
	var record domain.BlockedIP
	res := s.conn(ctx).Where("ip = ?", normalized).Limit(1).Find(&record)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetTrusted returns the trusted row for the IP even when it is past
// ExpiresAt; callers decide whether an expired row counts as active.
func (s *Store) GetTrusted(ctx context.Context, ip string) (*domain.TrustedIP, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return nil, nil
	}
	var record domain.TrustedIP
	res := s.conn(ctx).Where("ip = ?", normalized).Limit(1).Find(&record)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// GetProvisional returns the provisional row for the IP even when expired.
func (s *Store) GetProvisional(ctx context.Context, ip string) (*domain.ProvisionalIP, error) {
	normalized := support.NormalizeIPv4(ip)
	if normalized == "" {
		return nil, nil
	}
	var record domain.ProvisionalIP
	res := s.conn(ctx).Where("ip = ?", normalized).Limit(1).Find(&record)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// List returns records of one tier, newest first. Trusted and provisional
// results exclude soft-expired rows.
func (s *Store) List(ctx context.Context, tier domain.Tier, limit, offset int) ([]IPRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	now := s.now().UTC()
	db := s.conn(ctx)

	switch tier {
	case domain.TierBlocked:
		var rows []domain.BlockedIP
		if err := db.Order("blocked_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
			return nil, err
		}
		records := make([]IPRecord, 0, len(rows))
		for _, row := range rows {
			records = append(records, IPRecord{
				IP:           row.IP,
				Tier:         domain.TierBlocked,
				Reason:       row.Reason,
				RequestCount: row.RequestCount,
				LastSeen:     row.LastSeen,
				CreatedAt:    row.CreatedAt,
				Meta:         row.ReputationMeta,
			})
		}
		return records, nil
	case domain.TierTrusted:
		var rows []domain.TrustedIP
		if err := db.Where("expires_at > ?", now).
			Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
			return nil, err
		}
		records := make([]IPRecord, 0, len(rows))
		for _, row := range rows {
			records = append(records, IPRecord{
				IP:           row.IP,
				Tier:         domain.TierTrusted,
				Confidence:   row.Confidence,
				Reports:      row.Reports,
				RequestCount: row.RequestCount,
				LastSeen:     row.LastSeen,
				CreatedAt:    row.CreatedAt,
				ExpiresAt:    row.ExpiresAt,
				Meta:         row.ReputationMeta,
			})
		}
		return records, nil
	case domain.TierProvisional:
		var rows []domain.ProvisionalIP
		if err := db.Where("expires_at > ?", now).
			Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
			return nil, err
		}
		records := make([]IPRecord, 0, len(rows))
		for _, row := range rows {
			records = append(records, IPRecord{
				IP:           row.IP,
				Tier:         domain.TierProvisional,
				Confidence:   row.Confidence,
				Reports:      row.Reports,
				RequestCount: row.RequestCount,
				LastSeen:     row.LastSeen,
				CreatedAt:    row.CreatedAt,
				ExpiresAt:    row.ExpiresAt,
				Meta:         row.ReputationMeta,
			})
		}
		return records, nil
	}
	return nil, fmt.Errorf("unknown tier %q", tier)
}

// Count returns the physical row count of a tier table. Soft-expired rows
// are included until the expiry sweeper deletes them.
func (s *Store) Count(ctx context.Context, tier domain.Tier) (int64, error) {
	db := s.conn(ctx)
	var count int64
	var err error
	switch tier {
	case domain.TierBlocked:
		err = db.Model(&domain.BlockedIP{}).Count(&count).Error
	case domain.TierTrusted:
		err = db.Model(&domain.TrustedIP{}).Count(&count).Error
	case domain.TierProvisional:
		err = db.Model(&domain.ProvisionalIP{}).Count(&count).Error
	default:
		return 0, fmt.Errorf("unknown tier %q", tier)
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// resolveTier finds which tier table currently has a row for the IP,
// checking blocked first, then provisional, then trusted. Row presence is
// what counts here; expired rows still yield their old score for the audit
// trail.
func resolveTier(tx *gorm.DB, ip string) (*tierState, error) {
	var blocked domain.BlockedIP
	res := tx.Where("ip = ?", ip).Limit(1).Find(&blocked)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &tierState{tier: domain.TierBlocked}, nil
	}

	var provisional domain.ProvisionalIP
	res = tx.Where("ip = ?", ip).Limit(1).Find(&provisional)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &tierState{tier: domain.TierProvisional, confidence: provisional.Confidence, reports: provisional.Reports}, nil
	}

	var trusted domain.TrustedIP
	res = tx.Where("ip = ?", ip).Limit(1).Find(&trusted)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &tierState{tier: domain.TierTrusted, confidence: trusted.Confidence, reports: trusted.Reports}, nil
	}

	return nil, nil
}

func deleteOtherTiers(tx *gorm.DB, ip string, keep domain.Tier) error {
	if keep != domain.TierBlocked {
		if err := tx.Where("ip = ?", ip).Delete(&domain.BlockedIP{}).Error; err != nil {
			return err
		}
	}
	if keep != domain.TierTrusted {
		if err := tx.Where("ip = ?", ip).Delete(&domain.TrustedIP{}).Error; err != nil {
			return err
		}
	}
	if keep != domain.TierProvisional {
		if err := tx.Where("ip = ?", ip).Delete(&domain.ProvisionalIP{}).Error; err != nil {
			return err
		}
	}
	return nil
}
