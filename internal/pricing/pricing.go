// Package pricing quotes a booking from a lot's tiered price table.
package pricing

import (
	"sort"

	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

// Price returns the amount for a stay of durationMinutes. The stay is rounded
// up to whole hours. One hour or less uses the 1h tier, or the overtime rate
// when the lot has none. Longer stays use the smallest tier covering them; past
// the largest tier every extra hour costs overtimeRate.
func Price(durationMinutes int, tiers []domain.PriceTier, overtimeRate decimal.Decimal) decimal.Decimal {
	hours := (durationMinutes + 59) / 60
	if hours < 1 {
		hours = 1
	}
	sorted := normalize(tiers)

	if hours == 1 {
		for _, t := range sorted {
			if t.Hours == 1 {
				return t.Price
			}
		}
		return overtimeRate
	}

	for _, t := range sorted {
		if t.Hours >= hours {
			return t.Price
		}
	}

	if len(sorted) == 0 {
		return overtimeRate.Mul(decimal.NewFromInt(int64(hours)))
	}
	top := sorted[len(sorted)-1]
	extra := decimal.NewFromInt(int64(hours - top.Hours))
	return top.Price.Add(extra.Mul(overtimeRate))
}

// ForLot quotes a stay against lot's own table and overtime rate.
func ForLot(lot domain.ParkingLot, durationMinutes int) decimal.Decimal {
	return Price(durationMinutes, lot.PriceTiers, lot.OvertimeRate)
}

// normalize sorts tiers by hour count and drops later tiers claiming an hour
// count already seen, so the first one entered wins.
func normalize(tiers []domain.PriceTier) []domain.PriceTier {
	out := make([]domain.PriceTier, 0, len(tiers))
	seen := make(map[int]bool, len(tiers))
	for _, t := range tiers {
		if seen[t.Hours] {
			continue
		}
		seen[t.Hours] = true
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Hours < out[j].Hours })
	return out
}
