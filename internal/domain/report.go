package domain

import (
	"math"
	"sort"
	"time"
)

const topEarnersLimit = 10

type SpecialistEarning struct {
	SpecialistID string `json:"specialist_id"`
	Total        int64  `json:"total"`
	Count        int    `json:"count"`
}

type DailyCommission struct {
	Date  string `json:"date"`
	Total int64  `json:"total"`
	Count int    `json:"count"`
}

type MonthlyCommissionReport struct {
	Period               string              `json:"period"`
	TotalCommissions     int64               `json:"total_commissions"`
	TotalTransactions    int64               `json:"total_transactions"`
	Average              float64             `json:"average"`
	ByType               map[string]int64    `json:"by_type"`
	BySpecialist         map[string]int64    `json:"by_specialist"`
	TopEarners           []SpecialistEarning `json:"top_earners"`
	Median               float64             `json:"median"`
	StdDev               float64             `json:"std_dev"`
	Daily                []DailyCommission   `json:"daily"`
	PreviousTotal        *int64              `json:"previous_total,omitempty"`
	MonthOverMonthGrowth *float64            `json:"month_over_month_growth_pct,omitempty"`
	GeneratedAt          time.Time           `json:"generated_at"`
}

// BuildMonthlyReport aggregates the commissions of one period. previousTotal is
// the prior period's total when known; growth is omitted when it is nil or zero.
func BuildMonthlyReport(period string, commissions []Commission, previousTotal *int64, now time.Time) (MonthlyCommissionReport, error) {
	start, end, err := PeriodBounds(period)
	if err != nil {
		return MonthlyCommissionReport{}, err
	}
	report := MonthlyCommissionReport{
		Period:        period,
		ByType:        map[string]int64{},
		BySpecialist:  map[string]int64{},
		TopEarners:    []SpecialistEarning{},
		PreviousTotal: previousTotal,
		GeneratedAt:   now.UTC(),
	}

	dayIndex := map[string]int{}
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		dayIndex[key] = len(report.Daily)
		report.Daily = append(report.Daily, DailyCommission{Date: key})
	}

	earners := map[string]*SpecialistEarning{}
	amounts := make([]int64, 0, len(commissions))
	for _, c := range commissions {
		report.TotalCommissions += c.Amount
		report.TotalTransactions++
		report.ByType[string(c.Type)] += c.Amount
		report.BySpecialist[c.SpecialistID] += c.Amount
		amounts = append(amounts, c.Amount)

		e, ok := earners[c.SpecialistID]
		if !ok {
			e = &SpecialistEarning{SpecialistID: c.SpecialistID}
			earners[c.SpecialistID] = e
		}
		e.Total += c.Amount
		e.Count++

		if idx, ok := dayIndex[c.CreatedAt.UTC().Format("2006-01-02")]; ok {
			report.Daily[idx].Total += c.Amount
			report.Daily[idx].Count++
		}
	}

	for _, e := range earners {
		report.TopEarners = append(report.TopEarners, *e)
	}
	sort.Slice(report.TopEarners, func(i, j int) bool {
		if report.TopEarners[i].Total != report.TopEarners[j].Total {
			return report.TopEarners[i].Total > report.TopEarners[j].Total
		}
		return report.TopEarners[i].SpecialistID < report.TopEarners[j].SpecialistID
	})
	if len(report.TopEarners) > topEarnersLimit {
		report.TopEarners = report.TopEarners[:topEarnersLimit]
	}

	if report.TotalTransactions > 0 {
		report.Average = roundTo(float64(report.TotalCommissions)/float64(report.TotalTransactions), 2)
	}
	report.Median = median(amounts)
	report.StdDev = roundTo(stdDev(amounts), 2)

	if previousTotal != nil && *previousTotal > 0 {
		growth := roundTo(float64(report.TotalCommissions-*previousTotal)/float64(*previousTotal)*100, 2)
		report.MonthOverMonthGrowth = &growth
	}
	return report, nil
}

func median(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}

// stdDev is the population standard deviation.
func stdDev(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
