package domain

import (
	"fmt"
	"math"
)

const (
	basisPointsPerUnit = 10000

	// MaxTransactionAmount keeps amount*rate inside int64 with headroom.
	MaxTransactionAmount int64 = 100_000_000_000_00
)

// CalculateCommission returns the platform commission for amount at rateBps
// (basis points, 1500 == 15%) and the specialist payout. The commission is
// rounded half away from zero; the payout is derived from it so the two always
// sum to amount.
func CalculateCommission(amount, rateBps int64) (commission int64, payout int64, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if amount > MaxTransactionAmount {
		return 0, 0, fmt.Errorf("%w: amount exceeds maximum", ErrInvalidArgument)
	}
	if rateBps < 0 || rateBps > basisPointsPerUnit {
		return 0, 0, fmt.Errorf("%w: commission rate out of range", ErrInvalidArgument)
	}
	commission = divRoundHalfAway(amount*rateBps, basisPointsPerUnit)
	return commission, amount - commission, nil
}

func divRoundHalfAway(numerator, denominator int64) int64 {
	sign := int64(1)
	if numerator < 0 {
		sign = -1
		numerator = -numerator
	}
	return sign * ((numerator + denominator/2) / denominator)
}

// RatePercent renders basis points as a percentage for display.
func RatePercent(rateBps int64) float64 {
	return float64(rateBps) / 100
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
