package cache

import (
	"context"
	"time"

	"kasbon/backend/internal/domain"
)

// SalesReportCache keeps aggregated sales reports out of the hot path. A
// miss is (nil, false, nil); errors are reserved for transport failures.
type SalesReportCache interface {
	Get(ctx context.Context, key string) (*domain.SalesReport, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesReport, ttl time.Duration) error
}

type NoopSalesReportCache struct{}

func (NoopSalesReportCache) Get(_ context.Context, _ string) (*domain.SalesReport, bool, error) {
	return nil, false, nil
}

func (NoopSalesReportCache) Set(_ context.Context, _ string, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}
