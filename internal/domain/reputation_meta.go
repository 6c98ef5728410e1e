package domain

// ReputationMeta carries optional metadata returned by reputation lookups.
// All fields are best-effort; an empty struct is a valid value.
type ReputationMeta struct {
	Country       string `gorm:"size:64"`
	ISP           string `gorm:"size:255"`
	Domain        string `gorm:"size:255"`
	UsageType     string `gorm:"size:64"`
	IsAnonymizer  bool
	DistinctUsers int
}
