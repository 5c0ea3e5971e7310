package strategy

// Directionality rewards agreement. It averages the dominant side's share of
// volume and of users and maps [0.5, 1] onto [0, 1]. The dominant side is
// chosen by volume and its user count is used for the user share.
func Directionality(bullVol, bearVol float64, bullUsers, bearUsers int) float64 {
	domVol, domUsers := bullVol, bullUsers
	if bearVol > bullVol {
		domVol, domUsers = bearVol, bearUsers
	}

	volPct := 0.0
	if total := bullVol + bearVol; total > 0 {
		volPct = domVol / total
	}
	userPct := 0.0
	if total := bullUsers + bearUsers; total > 0 {
		userPct = float64(domUsers) / float64(total)
	}

	avg := (volPct + userPct) / 2
	return clamp(2*(avg-0.5), 0, 1)
}

// AggregateDirectionality applies Directionality to a market aggregate.
func AggregateDirectionality(a *MarketAggregate) float64 {
	if a == nil {
		return 0
	}
	return Directionality(a.BullishVolume, a.BearishVolume, len(a.BullishUsers), len(a.BearishUsers))
}
