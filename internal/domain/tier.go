package domain

// Tier identifies which classification bucket currently holds an IP.
type Tier string

const (
	TierBlocked     Tier = "blocked"
	TierTrusted     Tier = "trusted"
	TierProvisional Tier = "provisional"
)

// TierPriority orders tiers for duplicate resolution: blocked wins over
// provisional, provisional wins over trusted.
func TierPriority(t Tier) int {
	switch t {
	case TierBlocked:
		return 3
	case TierProvisional:
		return 2
	case TierTrusted:
		return 1
	}
	return 0
}
