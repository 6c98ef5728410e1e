package database

import (
	"context"
	"errors"
	"fmt"

	"warden/internal/domain"
	"warden/internal/support"
)

// ErrInvalidCIDR is returned by mutating range operations when the given
// network is not a valid IPv4 CIDR.
var ErrInvalidCIDR = errors.New("invalid IPv4 CIDR")

// RangeCategoryCount summarizes ranges of one category.
type RangeCategoryCount struct {
	Total   int
	Enabled int
}

// AddTrustedRange validates and stores a CIDR allow-list entry. Unlike the
// hot-path matcher, admin mutations reject malformed input with an error.
func (s *Store) AddTrustedRange(ctx context.Context, cidr, category, description string) (uint64, error) {
	normalized, _, _, err := support.ParseCIDRv4(cidr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCIDR, cidr)
	}
	if category == "" {
		return 0, errors.New("trusted range category cannot be empty")
	}

	record := domain.TrustedRange{
		CIDR:        normalized,
		Category:    category,
		Description: description,
		Enabled:     true,
	}
	if err := s.conn(ctx).Create(&record).Error; err != nil {
		return 0, err
	}
	return record.ID, nil
}

// RemoveTrustedRange deletes a range by id.
func (s *Store) RemoveTrustedRange(ctx context.Context, id uint64) (bool, error) {
	res := s.conn(ctx).Delete(&domain.TrustedRange{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ToggleTrustedRange enables or disables a range without deleting it.
func (s *Store) ToggleTrustedRange(ctx context.Context, id uint64, enabled bool) (bool, error) {
	res := s.conn(ctx).Model(&domain.TrustedRange{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListTrustedRanges returns ranges in storage order (insertion order by id),
// which is also the order the matcher consults them in.
func (s *Store) ListTrustedRanges(ctx context.Context, category string, enabledOnly bool) ([]domain.TrustedRange, error) {
	query := s.conn(ctx).Model(&domain.TrustedRange{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}

	var ranges []domain.TrustedRange
	if err := query.Order("id ASC").Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// CountRangesByCategory returns per-category totals.
func (s *Store) CountRangesByCategory(ctx context.Context) (map[string]RangeCategoryCount, error) {
	var rows []struct {
		Category string
		Total    int
		Enabled  int
	}
	err := s.conn(ctx).Model(&domain.TrustedRange{}).
		Select("category, COUNT(*) AS total, SUM(CASE WHEN enabled THEN 1 ELSE 0 END) AS enabled").
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]RangeCategoryCount, len(rows))
	for _, row := range rows {
		counts[row.Category] = RangeCategoryCount{Total: row.Total, Enabled: row.Enabled}
	}
	return counts, nil
}
