package domain

import "time"

// TrustedRange stores an IPv4 CIDR allow-list entry tagged with a category
// (e.g. a messaging provider's published webhook-source ranges).
type TrustedRange struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// CIDR holds the normalized network string (e.g. 192.0.2.0/24).
	CIDR        string `gorm:"size:45;not null"`
	Category    string `gorm:"size:64;index;not null"`
	Description string `gorm:"size:512;not null;default:''"`
	Enabled     bool   `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// Computed bounds used in-memory; not persisted.
	StartIP uint32 `gorm:"-"`
	EndIP   uint32 `gorm:"-"`
}
