package domain

import "time"

// MigrationLog is the append-only audit trail of tier changes. Rows are never
// updated or deleted.
type MigrationLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	IP string `gorm:"size:45;index;not null"`

	// FromTier is nil when the IP had no prior classification.
	FromTier *Tier `gorm:"size:16"`
	ToTier   Tier  `gorm:"size:16;not null"`

	OldConfidence int
	NewConfidence int
	OldReports    int
	NewReports    int

	Reason string `gorm:"size:512;not null;default:''"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}
