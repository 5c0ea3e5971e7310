package strategy

// Tier is the conviction band a score falls into.
type Tier string

const (
	TierMinimal  Tier = "MINIMAL"
	TierLow      Tier = "LOW"
	TierModerate Tier = "MODERATE"
	TierHigh     Tier = "HIGH"
	TierExtreme  Tier = "EXTREME"
)

var tierThresholds = []struct {
	min  float64
	tier Tier
}{
	{100, TierExtreme},
	{50, TierHigh},
	{20, TierModerate},
	{10, TierLow},
}

// ClassifyConviction maps a score onto a tier. Thresholds are ascending so a
// higher score never lands in a lower tier.
func ClassifyConviction(score float64) Tier {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return TierMinimal
}

// Rank orders tiers for comparisons.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierModerate:
		return 2
	case TierHigh:
		return 3
	case TierExtreme:
		return 4
	default:
		return 0
	}
}
