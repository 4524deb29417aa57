package domain

import (
	"errors"
	"testing"
)

func TestCalculateCommission(t *testing.T) {
	cases := []struct {
		name       string
		amount     int64
		rateBps    int64
		commission int64
		payout     int64
	}{
		{name: "bronze", amount: 500, rateBps: 1500, commission: 75, payout: 425},
		{name: "platinum", amount: 1000, rateBps: 800, commission: 80, payout: 920},
		{name: "half rounds away from zero", amount: 1, rateBps: 5000, commission: 1, payout: 0},
		{name: "below half rounds down", amount: 3, rateBps: 1500, commission: 0, payout: 3},
		{name: "zero rate", amount: 999, rateBps: 0, commission: 0, payout: 999},
		{name: "full rate", amount: 999, rateBps: 10000, commission: 999, payout: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			commission, payout, err := CalculateCommission(tc.amount, tc.rateBps)
			if err != nil {
				t.Fatalf("CalculateCommission error: %v", err)
			}
			if commission != tc.commission || payout != tc.payout {
				t.Fatalf("expected %d/%d, got %d/%d", tc.commission, tc.payout, commission, payout)
			}
			if commission+payout != tc.amount {
				t.Fatalf("commission and payout must sum to amount")
			}
		})
	}
}

func TestCalculateCommissionRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		amount, rate int64
	}{
		{0, 1500}, {-5, 1500}, {MaxTransactionAmount + 1, 1500}, {100, -1}, {100, 10001},
	} {
		if _, _, err := CalculateCommission(tc.amount, tc.rate); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("amount=%d rate=%d: expected ErrInvalidArgument, got %v", tc.amount, tc.rate, err)
		}
	}
}
