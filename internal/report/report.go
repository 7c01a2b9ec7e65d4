// Package report aggregates completed bills into sales reports. It only
// reads what the billing pipelines produced and never mutates anything.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasbon/backend/internal/cache"
	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
)

const dateLayout = "2006-01-02"

type Service struct {
	repo     store.Repository
	reports  cache.SalesReportCache
	cacheTTL time.Duration
	now      func() time.Time
}

func New(repo store.Repository, reports cache.SalesReportCache, cacheTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopSalesReportCache{}
	}
	return &Service{
		repo:     repo,
		reports:  reports,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sales aggregates completed bills into per-day buckets over the requested
// window. Periods: daily (today), weekly (trailing 7 days), monthly
// (calendar month to date), custom (startDate..endDate inclusive).
func (s *Service) Sales(ctx context.Context, period string, startDate string, endDate string) (domain.SalesReport, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = domain.ReportPeriodDaily
	}

	from, to, err := s.resolveWindow(period, startDate, endDate)
	if err != nil {
		return domain.SalesReport{}, err
	}

	key := fmt.Sprintf("sales:%s:%s:%s", period, from.Format(dateLayout), to.Format(dateLayout))
	if cached, hit, err := s.reports.Get(ctx, key); err != nil {
		log.Printf("[report] WARN: cache read failed key=%s: %v", key, err)
	} else if hit {
		return *cached, nil
	}

	bills, err := s.repo.ListCompletedBillsInRange(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := domain.SalesReport{
		Period:      period,
		StartDate:   from.Format(dateLayout),
		EndDate:     to.Add(-24 * time.Hour).Format(dateLayout),
		TotalSales:  decimal.Zero,
		TotalCost:   decimal.Zero,
		TotalProfit: decimal.Zero,
		TotalTax:    decimal.Zero,
		Buckets:     make([]domain.SalesBucket, 0, 31),
	}

	byDay := make(map[string]int)
	for _, bill := range bills {
		label := bill.CreatedAt.Format(dateLayout)
		idx, exists := byDay[label]
		if !exists {
			idx = len(report.Buckets)
			byDay[label] = idx
			report.Buckets = append(report.Buckets, domain.SalesBucket{
				Label:       label,
				TotalSales:  decimal.Zero,
				TotalCost:   decimal.Zero,
				TotalProfit: decimal.Zero,
				TotalTax:    decimal.Zero,
			})
		}

		profit := bill.GrandTotal.Sub(bill.GrandTotalCost)
		bucket := &report.Buckets[idx]
		bucket.BillCount++
		bucket.TotalSales = bucket.TotalSales.Add(bill.GrandTotal)
		bucket.TotalCost = bucket.TotalCost.Add(bill.GrandTotalCost)
		bucket.TotalProfit = bucket.TotalProfit.Add(profit)
		bucket.TotalTax = bucket.TotalTax.Add(bill.TaxTotal)

		report.BillCount++
		report.TotalSales = report.TotalSales.Add(bill.GrandTotal)
		report.TotalCost = report.TotalCost.Add(bill.GrandTotalCost)
		report.TotalProfit = report.TotalProfit.Add(profit)
		report.TotalTax = report.TotalTax.Add(bill.TaxTotal)
	}

	if err := s.reports.Set(ctx, key, &report, s.cacheTTL); err != nil {
		log.Printf("[report] WARN: cache write failed key=%s: %v", key, err)
	}
	return report, nil
}

func (s *Service) resolveWindow(period string, startDate string, endDate string) (time.Time, time.Time, error) {
	today := startOfDay(s.now())

	switch period {
	case domain.ReportPeriodDaily:
		return today, today.Add(24 * time.Hour), nil
	case domain.ReportPeriodWeekly:
		return today.Add(-6 * 24 * time.Hour), today.Add(24 * time.Hour), nil
	case domain.ReportPeriodMonthly:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first, today.Add(24 * time.Hour), nil
	case domain.ReportPeriodCustom:
		from, err := time.ParseInLocation(dateLayout, strings.TrimSpace(startDate), time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate must be YYYY-MM-DD", store.ErrValidation)
		}
		until, err := time.ParseInLocation(dateLayout, strings.TrimSpace(endDate), time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate must be YYYY-MM-DD", store.ErrValidation)
		}
		if until.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate precedes startDate", store.ErrValidation)
		}
		return from, until.Add(24 * time.Hour), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", store.ErrValidation, period)
	}
}

// WriteCSV renders a report as CSV, one row per bucket plus a totals row.
func WriteCSV(w io.Writer, report domain.SalesReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "billCount", "totalSales", "totalCost", "totalProfit", "totalTax"}); err != nil {
		return err
	}
	for _, bucket := range report.Buckets {
		row := []string{
			bucket.Label,
			fmt.Sprintf("%d", bucket.BillCount),
			bucket.TotalSales.StringFixed(2),
			bucket.TotalCost.StringFixed(2),
			bucket.TotalProfit.StringFixed(2),
			bucket.TotalTax.StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	totals := []string{
		"total",
		fmt.Sprintf("%d", report.BillCount),
		report.TotalSales.StringFixed(2),
		report.TotalCost.StringFixed(2),
		report.TotalProfit.StringFixed(2),
		report.TotalTax.StringFixed(2),
	}
	if err := cw.Write(totals); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
