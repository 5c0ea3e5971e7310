package strategy

import "polysignal/internal/market"

// TradeVolumeMultiplier compares one bet to the wallet's average:
// 0.5 + 0.5*ratio, clamped to [0, 2]. Trading at the average gives 1.
func TradeVolumeMultiplier(volume, avgVolume float64) float64 {
	if avgVolume <= 0 {
		return 1
	}
	return clamp(0.5+0.5*(volume/avgVolume), 0, 2)
}

// VolumeRatio is the unweighted mean of TradeVolumeMultiplier over trades
// whose wallet has a profile. With no such trade it is neutral.
func VolumeRatio(trades []market.Trade, profiles map[string]UserVolumeProfile) float64 {
	var sum float64
	var n int
	for _, t := range trades {
		p, ok := profiles[t.Wallet]
		if !ok || p.AvgVolume <= 0 {
			continue
		}
		sum += TradeVolumeMultiplier(t.Volume(), p.AvgVolume)
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}
