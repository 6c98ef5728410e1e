package domain

// QuotaCounter tracks the daily call budget of one external reputation
// endpoint. LastResetDay holds a calendar day in YYYY-MM-DD form; the counter
// resets lazily on the first recordUsage of a new day, never by a scheduled
// job.
type QuotaCounter struct {
	Endpoint string `gorm:"primaryKey;size:64"`

	DailyLimit   int    `gorm:"not null;default:0"`
	DailyUsed    int    `gorm:"not null;default:0"`
	LastResetDay string `gorm:"size:10;not null;default:''"`
}
