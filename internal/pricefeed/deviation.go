package pricefeed

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ThresholdBps converts a human-entered percentage (0.5 means 0.5%)
// to basis points, rounded to the nearest whole bp.
func ThresholdBps(thresholdPercent decimal.Decimal) int64 {
	return thresholdPercent.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// DeviationBps computes |current-last| * 10000 / last in integer
// arithmetic. last must be positive.
func DeviationBps(current, last *big.Int) *big.Int {
	diff := new(big.Int).Sub(current, last)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	return diff.Quo(diff, last)
}

// HasSignificantDeviation reports whether any fetched market moved by
// at least thresholdPercent against its last submitted price. Markets
// without a prior submission are ignored here; the first submission is
// let through by cadence, not by deviation.
func HasSignificantDeviation(current []Price, lastSubmitted map[string]*big.Int, thresholdPercent decimal.Decimal) bool {
	threshold := big.NewInt(ThresholdBps(thresholdPercent))
	for _, p := range current {
		last, ok := lastSubmitted[p.MarketID]
		if !ok || last == nil || last.Sign() <= 0 {
			continue
		}
		if DeviationBps(p.Price, last).Cmp(threshold) >= 0 {
			return true
		}
	}
	return false
}
