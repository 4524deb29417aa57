package domain

import (
	"errors"
	"testing"
	"time"
)

func commissionAt(specialist string, amount int64, at time.Time) Commission {
	return Commission{SpecialistID: specialist, Amount: amount, Type: CommissionTypeEscrowRelease, CreatedAt: at}
}

func TestBuildMonthlyReport(t *testing.T) {
	day1 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	day28 := time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)
	commissions := []Commission{
		commissionAt("s1", 100, day1),
		commissionAt("s2", 300, day1),
		commissionAt("s1", 200, day28),
		{SpecialistID: "s3", Amount: 400, Type: CommissionTypeDisputeRelease, CreatedAt: day28},
	}
	previous := int64(800)

	report, err := BuildMonthlyReport("2026-02", commissions, &previous, time.Now())
	if err != nil {
		t.Fatalf("BuildMonthlyReport error: %v", err)
	}
	if report.TotalCommissions != 1000 || report.TotalTransactions != 4 {
		t.Fatalf("unexpected totals %d/%d", report.TotalCommissions, report.TotalTransactions)
	}
	if report.Average != 250 || report.Median != 250 {
		t.Fatalf("unexpected average/median %v/%v", report.Average, report.Median)
	}
	if report.StdDev != 111.8 {
		t.Fatalf("unexpected std dev %v", report.StdDev)
	}
	if len(report.Daily) != 28 || report.Daily[0].Total != 400 || report.Daily[27].Count != 2 {
		t.Fatalf("unexpected daily breakdown %+v", report.Daily)
	}
	if report.TopEarners[0].SpecialistID != "s3" || report.TopEarners[1].SpecialistID != "s1" {
		t.Fatalf("unexpected top earners %+v", report.TopEarners)
	}
	if report.ByType[string(CommissionTypeDisputeRelease)] != 400 {
		t.Fatalf("unexpected by-type totals %+v", report.ByType)
	}
	if report.MonthOverMonthGrowth == nil || *report.MonthOverMonthGrowth != 25 {
		t.Fatalf("expected 25%% growth, got %v", report.MonthOverMonthGrowth)
	}
}

func TestBuildMonthlyReportEmptyPeriod(t *testing.T) {
	zero := int64(0)
	report, err := BuildMonthlyReport("2026-04", nil, &zero, time.Now())
	if err != nil {
		t.Fatalf("BuildMonthlyReport error: %v", err)
	}
	if report.TotalCommissions != 0 || report.Average != 0 || report.MonthOverMonthGrowth != nil {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if len(report.Daily) != 30 || report.TopEarners == nil {
		t.Fatalf("expected a zeroed daily series and empty earners")
	}

	if _, err := BuildMonthlyReport("2026-13", nil, nil, time.Now()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid period error, got %v", err)
	}
}

func TestCommissionSummaryApply(t *testing.T) {
	s := NewCommissionSummary("2026-02")
	s.Apply(commissionAt("s1", 75, time.Now()), time.Now())
	s.Apply(commissionAt("s2", 80, time.Now()), time.Now())
	if s.TotalCommissions != 155 || s.TotalTransactions != 2 || s.Average != 77.5 {
		t.Fatalf("unexpected summary %+v", s)
	}
	prev, err := PreviousPeriod("2026-01")
	if err != nil || prev != "2025-12" {
		t.Fatalf("PreviousPeriod = %q, %v", prev, err)
	}
}
