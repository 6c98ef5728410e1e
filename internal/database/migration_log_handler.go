package database

import (
	"context"
	"time"

	"warden/internal/domain"

	"gorm.io/gorm"
)

// appendMigration writes one immutable audit row for a tier change. Rows in
// migration_logs are never updated or deleted.
func appendMigration(tx *gorm.DB, ip string, prev *tierState, to domain.Tier, newConfidence, newReports int, reason string, now time.Time) error {
	entry := domain.MigrationLog{
		IP:            ip,
		ToTier:        to,
		NewConfidence: newConfidence,
		NewReports:    newReports,
		Reason:        reason,
		CreatedAt:     now,
	}
	if prev != nil {
		from := prev.tier
		entry.FromTier = &from
		entry.OldConfidence = prev.confidence
		entry.OldReports = prev.reports
	}
	return tx.Create(&entry).Error
}

// ListMigrations returns audit entries newest first, optionally filtered to
// one IP.
func (s *Store) ListMigrations(ctx context.Context, limit, offset int, ip string) ([]domain.MigrationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := s.conn(ctx).Model(&domain.MigrationLog{})
	if ip != "" {
		query = query.Where("ip = ?", ip)
	}

	var entries []domain.MigrationLog
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountMigrations counts audit entries, optionally filtered to one IP.
func (s *Store) CountMigrations(ctx context.Context, ip string) (int64, error) {
	query := s.conn(ctx).Model(&domain.MigrationLog{})
	if ip != "" {
		query = query.Where("ip = ?", ip)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
