package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
)

// epsilon is the tolerance used when comparing client-submitted totals to
// server-recomputed ones. Client totals are advisory only.
var epsilon = decimal.New(1, -2) // 0.01

var hundred = decimal.NewFromInt(100)

// validatedBill is the outcome of recomputing a bill request from catalog
// data. Every money amount in it is server-derived; nothing is taken from
// the client beyond quantities, item references and percentages.
type validatedBill struct {
	customer       *domain.Customer
	lines          []domain.BillLine
	subtotal       decimal.Decimal
	grandTotal     decimal.Decimal
	grandTotalCost decimal.Decimal
	taxTotal       decimal.Decimal
}

func (s *Service) validateBill(ctx context.Context, req domain.BillCreateRequest) (*validatedBill, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customerId is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: bill must contain at least one item", store.ErrValidation)
	}
	if !req.Subtotal.IsPositive() {
		return nil, fmt.Errorf("%w: subtotal must be a positive number", store.ErrValidation)
	}
	if !req.GrandTotal.IsPositive() {
		return nil, fmt.Errorf("%w: grandTotal must be a positive number", store.ErrValidation)
	}
	if req.Markup.IsNegative() || req.Markup.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: markup must be between 0 and 100", store.ErrValidation)
	}
	if req.Discount.IsNegative() || req.Discount.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: discount must be between 0 and 100", store.ErrValidation)
	}
	if req.PaymentType != domain.PaymentTypeCash && req.PaymentType != domain.PaymentTypeCredit {
		return nil, fmt.Errorf("%w: paymentType must be cash or credit", store.ErrValidation)
	}
	if req.PartialPayment.IsNegative() {
		return nil, fmt.Errorf("%w: partialPayment must not be negative", store.ErrValidation)
	}

	customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		return nil, err
	}

	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.BillLine, 0, len(req.Items))
	requested := make(map[string]int, len(req.Items))
	subtotal := decimal.Zero
	grandTotalCost := decimal.Zero
	taxTotal := decimal.Zero
	for i, line := range req.Items {
		if strings.TrimSpace(line.ItemID) == "" {
			return nil, fmt.Errorf("%w: line %d: itemId is required", store.ErrValidation, i+1)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d: quantity is required and must be positive", store.ErrValidation, i+1)
		}
		if !line.UnitPrice.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: unitPrice is required", store.ErrValidation, i+1)
		}
		if !line.CustomPrice.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: customPrice is required", store.ErrValidation, i+1)
		}
		if !line.Total.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: total is required", store.ErrValidation, i+1)
		}

		item, exists := items[line.ItemID]
		if !exists {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		// Quantities for the same item must be checked as a sum, or two
		// lines could each pass against the same stock snapshot.
		requested[line.ItemID] += line.Quantity
		if item.Stock < requested[line.ItemID] {
			return nil, fmt.Errorf("%w: item %s has %d in stock, requested %d",
				store.ErrInsufficientStock, item.ID, item.Stock, requested[line.ItemID])
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		// unitCost is snapshotted here and never re-derived, even if the
		// item's costPrice changes later.
		unitCost := item.CostPrice
		total := line.CustomPrice.Mul(qty)
		totalCost := unitCost.Mul(qty)

		lines = append(lines, domain.BillLine{
			ItemID:      line.ItemID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			CustomPrice: line.CustomPrice,
			UnitCost:    unitCost,
			Total:       total,
			TotalCost:   totalCost,
		})
		subtotal = subtotal.Add(total)
		grandTotalCost = grandTotalCost.Add(totalCost)
		taxTotal = taxTotal.Add(total.Mul(item.TaxRate).Div(hundred))
	}

	if subtotal.Sub(req.Subtotal).Abs().GreaterThan(epsilon) {
		return nil, fmt.Errorf("%w: subtotal mismatch: client sent %s, server computed %s",
			store.ErrValidation, req.Subtotal.StringFixed(2), subtotal.StringFixed(2))
	}

	grandTotal := applyMarkupDiscount(subtotal, req.Markup, req.Discount)
	if grandTotal.Sub(req.GrandTotal).Abs().GreaterThan(epsilon) {
		return nil, fmt.Errorf("%w: grandTotal mismatch: client sent %s, server computed %s",
			store.ErrValidation, req.GrandTotal.StringFixed(2), grandTotal.StringFixed(2))
	}

	return &validatedBill{
		customer:       customer,
		lines:          lines,
		subtotal:       subtotal,
		grandTotal:     grandTotal,
		grandTotalCost: grandTotalCost.Round(2),
		taxTotal:       taxTotal.Round(2),
	}, nil
}

// applyMarkupDiscount derives the grand total: markup first, discount second,
// both as percentages of the running amount, rounded to cents.
func applyMarkupDiscount(subtotal, markup, discount decimal.Decimal) decimal.Decimal {
	marked := subtotal.Mul(hundred.Add(markup)).Div(hundred)
	return marked.Mul(hundred.Sub(discount)).Div(hundred).Round(2)
}
