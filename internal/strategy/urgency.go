package strategy

import (
	"math"
	"time"

	"polysignal/internal/market"
)

const (
	// DefaultUrgencyTau puts the curve near 2.96 at 12h, 2.49 at 7d,
	// 1.57 at 30d and 1.0 at 180d.
	DefaultUrgencyTau = 24 * 24 * time.Hour

	urgencyMin = 1.0
	urgencyMax = 3.0
)

// Urgency grows as expiry approaches: 1 + 2*exp(-days/tau), bounded to
// [1, 3]. A past expiry returns the maximum.
func Urgency(hoursToExpiry float64, tau time.Duration) float64 {
	if hoursToExpiry <= 0 {
		return urgencyMax
	}
	if tau <= 0 {
		tau = DefaultUrgencyTau
	}
	days := hoursToExpiry / 24
	tauDays := tau.Hours() / 24
	return clamp(urgencyMin+2*math.Exp(-days/tauDays), urgencyMin, urgencyMax)
}

// ExpiryUrgency parses an ISO-8601 end date. An absent or malformed date is
// neutral.
func ExpiryUrgency(endDate string, now time.Time, tau time.Duration) float64 {
	end, ok := market.ParseISOTime(endDate)
	if !ok {
		return urgencyMin
	}
	return Urgency(end.Sub(now).Hours(), tau)
}

// SnapshotUrgency is ExpiryUrgency for an optional snapshot.
func SnapshotUrgency(s *market.Snapshot, now time.Time, tau time.Duration) float64 {
	if s == nil {
		return urgencyMin
	}
	return ExpiryUrgency(s.EndDate, now, tau)
}
