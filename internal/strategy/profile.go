package strategy

import "polysignal/internal/market"

// UserVolumeProfile is a tracked wallet's baseline bet size within one trade set.
type UserVolumeProfile struct {
	Wallet      string
	AvgVolume   float64
	TotalVolume float64
	TradeCount  int
}

// BuildProfiles averages the volume of every tracked trade, whatever its
// direction. Wallets without trades get no entry.
func BuildProfiles(trades []market.Trade, tracked WalletSet) map[string]UserVolumeProfile {
	profiles := make(map[string]UserVolumeProfile)
	for _, t := range trades {
		if !tracked.Has(t.Wallet) {
			continue
		}
		p := profiles[t.Wallet]
		p.Wallet = t.Wallet
		p.TotalVolume += t.Volume()
		p.TradeCount++
		profiles[t.Wallet] = p
	}
	for w, p := range profiles {
		p.AvgVolume = p.TotalVolume / float64(p.TradeCount)
		profiles[w] = p
	}
	return profiles
}
