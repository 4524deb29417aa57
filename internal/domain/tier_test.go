package domain

import (
	"testing"
	"time"
)

func TestClassifyTier(t *testing.T) {
	table := DefaultTierTable()
	cases := []struct {
		name   string
		jobs   int
		rating float64
		volume int64
		want   Tier
		rate   int64
	}{
		{name: "platinum", jobs: 150, rating: 4.9, volume: 10000, want: TierPlatinum, rate: 800},
		{name: "gold exact thresholds", jobs: 50, rating: 4.5, volume: 2500, want: TierGold, rate: 1000},
		{name: "platinum jobs but gold rating", jobs: 200, rating: 4.6, volume: 9000, want: TierGold, rate: 1000},
		{name: "silver", jobs: 25, rating: 4.1, volume: 1200, want: TierSilver, rate: 1200},
		{name: "low volume falls to bronze", jobs: 25, rating: 4.1, volume: 999, want: TierBronze, rate: 1500},
		{name: "new specialist", jobs: 0, rating: 0, volume: 0, want: TierBronze, rate: 1500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := ClassifyTier(table, tc.jobs, tc.rating, tc.volume)
			if rule.Tier != tc.want || rule.RateBps != tc.rate {
				t.Fatalf("expected %s@%d, got %s@%d", tc.want, tc.rate, rule.Tier, rule.RateBps)
			}
		})
	}
}

func TestNewSpecialistTierCopiesPerks(t *testing.T) {
	rule := DefaultTierTable()[0]
	tier := NewSpecialistTier("s1", 100, 4.8, 5000, rule, time.Now())
	tier.Perks[0] = "mutated"
	if DefaultTierTable()[0].Perks[0] == "mutated" || rule.Perks[0] == "mutated" {
		t.Fatalf("tier perks must not alias the rule")
	}
	if tier.RatePercent != 8 {
		t.Fatalf("expected 8%%, got %v", tier.RatePercent)
	}

	fallback := BronzeFallback("s2", time.Now())
	if !fallback.Fallback || fallback.Tier != TierBronze || fallback.Perks == nil {
		t.Fatalf("unexpected fallback tier %+v", fallback)
	}
}
