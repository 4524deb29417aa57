package domain

import "time"

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// TierRule is one row of the tier threshold table. A specialist qualifies when
// every minimum is met.
type TierRule struct {
	Tier              Tier     `json:"tier" yaml:"tier"`
	MinCompletedJobs  int      `json:"min_completed_jobs" yaml:"min_completed_jobs"`
	MinAvgRating      float64  `json:"min_avg_rating" yaml:"min_avg_rating"`
	MinTrailingVolume int64    `json:"min_trailing_volume" yaml:"min_trailing_volume"`
	RateBps           int64    `json:"rate_bps" yaml:"rate_bps"`
	Perks             []string `json:"perks" yaml:"perks"`
}

func (r TierRule) qualifies(jobs int, rating float64, volume int64) bool {
	return jobs >= r.MinCompletedJobs && rating >= r.MinAvgRating && volume >= r.MinTrailingVolume
}

// BronzeRule is the default tier applied when nothing else qualifies or the
// lookup fails.
var BronzeRule = TierRule{Tier: TierBronze, RateBps: 1500, Perks: []string{}}

// DefaultTierTable is ordered from the highest tier down.
func DefaultTierTable() []TierRule {
	return []TierRule{
		{
			Tier: TierPlatinum, MinCompletedJobs: 100, MinAvgRating: 4.8, MinTrailingVolume: 5000, RateBps: 800,
			Perks: []string{"priority_support", "featured_placement", "instant_payout", "dedicated_account_manager"},
		},
		{
			Tier: TierGold, MinCompletedJobs: 50, MinAvgRating: 4.5, MinTrailingVolume: 2500, RateBps: 1000,
			Perks: []string{"priority_support", "featured_placement"},
		},
		{
			Tier: TierSilver, MinCompletedJobs: 20, MinAvgRating: 4.0, MinTrailingVolume: 1000, RateBps: 1200,
			Perks: []string{"priority_support"},
		},
	}
}

// ClassifyTier returns the first rule in table that the specialist meets, or
// BronzeRule.
func ClassifyTier(table []TierRule, jobs int, rating float64, volume int64) TierRule {
	for _, rule := range table {
		if rule.qualifies(jobs, rating, volume) {
			return rule
		}
	}
	return BronzeRule
}

type SpecialistTier struct {
	SpecialistID      string    `json:"specialist_id"`
	CompletedJobs     int       `json:"completed_jobs"`
	AvgRating         float64   `json:"avg_rating"`
	Trailing30dVolume int64     `json:"trailing_30d_volume"`
	Tier              Tier      `json:"tier"`
	RateBps           int64     `json:"rate_bps"`
	RatePercent       float64   `json:"rate_percent"`
	Perks             []string  `json:"perks"`
	ComputedAt        time.Time `json:"computed_at"`
	Fallback          bool      `json:"fallback,omitempty"`
}

func NewSpecialistTier(specialistID string, jobs int, rating float64, volume int64, rule TierRule, at time.Time) SpecialistTier {
	perks := append([]string(nil), rule.Perks...)
	if perks == nil {
		perks = []string{}
	}
	return SpecialistTier{
		SpecialistID:      specialistID,
		CompletedJobs:     jobs,
		AvgRating:         rating,
		Trailing30dVolume: volume,
		Tier:              rule.Tier,
		RateBps:           rule.RateBps,
		RatePercent:       RatePercent(rule.RateBps),
		Perks:             perks,
		ComputedAt:        at.UTC(),
	}
}

// BronzeFallback is returned when tier computation fails.
func BronzeFallback(specialistID string, at time.Time) SpecialistTier {
	t := NewSpecialistTier(specialistID, 0, 0, 0, BronzeRule, at)
	t.Fallback = true
	return t
}
