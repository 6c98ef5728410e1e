package domain

import "time"

// TrustedIP stores addresses with a good reputation. Rows are soft-expired:
// a row past ExpiresAt is logically inactive but stays on disk until the
// expiry sweeper deletes it.
type TrustedIP struct {
	IP string `gorm:"primaryKey;size:45"`

	// Confidence is the reputation score in 0..100 (lower is cleaner).
	Confidence   int    `gorm:"not null;default:0"`
	Reports      int    `gorm:"not null;default:0"`
	RequestCount uint64 `gorm:"not null;default:0"`
	LastSeen     time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`

	ReputationMeta `gorm:"embedded"`
}
