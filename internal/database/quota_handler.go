package database

import (
	"context"

	"warden/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const quotaDayFormat = "2006-01-02"

// QuotaDecision is the outcome of a budget check.
type QuotaDecision struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// QuotaStat summarizes one endpoint's budget for reporting.
type QuotaStat struct {
	Limit           int
	Used            int
	Remaining       int
	UtilizationRate float64
}

// InitQuota seeds or updates daily limits. Existing usage counters are left
// untouched so a restart never grants a fresh budget.
func (s *Store) InitQuota(ctx context.Context, limits map[string]int) error {
	if len(limits) == 0 {
		return nil
	}

	today := s.now().UTC().Format(quotaDayFormat)
	counters := make([]domain.QuotaCounter, 0, len(limits))
	for endpoint, limit := range limits {
		if endpoint == "" || limit < 0 {
			continue
		}
		counters = append(counters, domain.QuotaCounter{
			Endpoint:     endpoint,
			DailyLimit:   limit,
			DailyUsed:    0,
			LastResetDay: today,
		})
	}
	if len(counters) == 0 {
		return nil
	}

	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.Assignments(map[string]any{"daily_limit": gorm.Expr("EXCLUDED.daily_limit")}),
	}).Create(&counters).Error
}

// CanUse is a pure read: a counter whose LastResetDay is before today is
// treated as virtually zeroed without writing anything. Unknown endpoints
// fail open.
func (s *Store) CanUse(ctx context.Context, endpoint string) (QuotaDecision, error) {
	var counter domain.QuotaCounter
	res := s.conn(ctx).Where("endpoint = ?", endpoint).Limit(1).Find(&counter)
	if res.Error != nil {
		return QuotaDecision{}, res.Error
	}
	if res.RowsAffected == 0 {
		// No quota configured for this endpoint; a missing row must not
		// block reputation lookups.
		return QuotaDecision{Allowed: true, Remaining: -1}, nil
	}

	today := s.now().UTC().Format(quotaDayFormat)
	used := counter.DailyUsed
	if counter.LastResetDay < today {
		used = 0
	}

	remaining := counter.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	return QuotaDecision{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     counter.DailyLimit,
	}, nil
}

// RecordUsage applies the single conditional mutation that doubles as the
// reset mechanism: on the first call of a new calendar day the counter
// restarts at 1, otherwise it increments, capped at the daily limit. There
// is no scheduled reset job.
func (s *Store) RecordUsage(ctx context.Context, endpoint string) error {
	today := s.now().UTC().Format(quotaDayFormat)

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var counter domain.QuotaCounter
		res := tx.Where("endpoint = ?", endpoint).Limit(1).Find(&counter)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Untracked endpoint: nothing to count against.
			return nil
		}

		if counter.LastResetDay < today {
			counter.DailyUsed = 1
			counter.LastResetDay = today
		} else if counter.DailyUsed < counter.DailyLimit {
			counter.DailyUsed++
		}

		return tx.Model(&domain.QuotaCounter{}).
			Where("endpoint = ?", endpoint).
			Updates(map[string]any{
				"daily_used":     counter.DailyUsed,
				"last_reset_day": counter.LastResetDay,
			}).Error
	})
}

// QuotaStats reports all configured endpoints with their day-adjusted usage.
func (s *Store) QuotaStats(ctx context.Context) (map[string]QuotaStat, error) {
	var counters []domain.QuotaCounter
	if err := s.conn(ctx).Find(&counters).Error; err != nil {
		return nil, err
	}

	today := s.now().UTC().Format(quotaDayFormat)
	stats := make(map[string]QuotaStat, len(counters))
	for _, counter := range counters {
		used := counter.DailyUsed
		if counter.LastResetDay < today {
			used = 0
		}
		remaining := counter.DailyLimit - used
		if remaining < 0 {
			remaining = 0
		}
		rate := 0.0
		if counter.DailyLimit > 0 {
			rate = float64(used) / float64(counter.DailyLimit)
		}
		stats[counter.Endpoint] = QuotaStat{
			Limit:           counter.DailyLimit,
			Used:            used,
			Remaining:       remaining,
			UtilizationRate: rate,
		}
	}
	return stats, nil
}
