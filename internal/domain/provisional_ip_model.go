package domain

import "time"

// ProvisionalIP stores addresses flagged for observation. Same soft-expiry
// semantics as TrustedIP, with a shorter default TTL.
type ProvisionalIP struct {
	IP string `gorm:"primaryKey;size:45"`

	Confidence   int    `gorm:"not null;default:0"`
	Reports      int    `gorm:"not null;default:0"`
	RequestCount uint64 `gorm:"not null;default:0"`
	LastSeen     time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`

	ReputationMeta `gorm:"embedded"`
}
