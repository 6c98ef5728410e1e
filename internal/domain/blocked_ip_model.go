package domain

import "time"

// BlockedIP stores addresses that are denied outright. Rows never expire on
// their own and are only removed by an explicit unblock.
type BlockedIP struct {
	// IP holds the IPv4 address string (normalized, e.g. 192.0.2.1).
	IP string `gorm:"primaryKey;size:45"`

	Reason       string `gorm:"size:512;not null;default:''"`
	BlockedAt    time.Time
	LastSeen     time.Time
	RequestCount uint64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`

	ReputationMeta `gorm:"embedded"`
}
