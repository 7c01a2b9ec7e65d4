// Package catalog manages the item and customer master data that the billing
// pipelines read from. It never touches stock or balance directly.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"kasbon/backend/internal/billing"
	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
)

type Service struct {
	repo store.Repository
}

func New(repo store.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

// ListLowStockItems returns items at or below their restock threshold.
func (s *Service) ListLowStockItems(ctx context.Context) ([]domain.Item, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if item.LowStockThreshold > 0 && item.Stock <= item.LowStockThreshold {
			low = append(low, item)
		}
	}
	return low, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: item id is required", store.ErrValidation)
	}
	return s.repo.GetItemByID(ctx, id)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, ok := billing.ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if !req.SellingPrice.IsPositive() || req.CostPrice.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: sellingPrice must be positive and costPrice non-negative", store.ErrValidation)
	}
	if req.Stock < 0 || req.LowStockThreshold < 0 {
		return domain.Item{}, fmt.Errorf("%w: stock and lowStockThreshold must be non-negative", store.ErrValidation)
	}
	if req.TaxRate.IsNegative() {
		return domain.Item{}, fmt.Errorf("%w: taxRate must be non-negative", store.ErrValidation)
	}

	created, err := s.repo.CreateItem(ctx, domain.Item{
		Name:              req.Name,
		Barcode:           req.Barcode,
		CostPrice:         req.CostPrice,
		SellingPrice:      req.SellingPrice,
		Stock:             req.Stock,
		TaxRate:           req.TaxRate,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		return domain.Item{}, err
	}
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, ok := billing.ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Item{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Item{}, fmt.Errorf("%w: item id is required", store.ErrValidation)
	}

	existing, err := s.repo.GetItemByID(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: costPrice must be non-negative", store.ErrValidation)
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.SellingPrice != nil {
		if !req.SellingPrice.IsPositive() {
			return domain.Item{}, fmt.Errorf("%w: sellingPrice must be positive", store.ErrValidation)
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.TaxRate != nil {
		if req.TaxRate.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: taxRate must be non-negative", store.ErrValidation)
		}
		updated.TaxRate = *req.TaxRate
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Item{}, fmt.Errorf("%w: lowStockThreshold must be non-negative", store.ErrValidation)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	actor, ok := billing.ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: item id is required", store.ErrValidation)
	}
	return s.repo.DeleteItem(ctx, id)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}
	return s.repo.GetCustomerByID(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.AccountNumber = strings.ToUpper(strings.TrimSpace(req.AccountNumber))
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.AccountNumber == "" {
		return domain.Customer{}, fmt.Errorf("%w: accountNumber is required", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:          req.Name,
		Phone:         strings.TrimSpace(req.Phone),
		Address:       strings.TrimSpace(req.Address),
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}

	existing, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

// DeleteCustomer removes the customer and their ledger entries. Admin only;
// bills and refunds are retained for reporting.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	actor, ok := billing.ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}
	return s.repo.DeleteCustomer(ctx, id)
}
