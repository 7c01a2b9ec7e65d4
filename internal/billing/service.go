package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
	"kasbon/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates the billing pipelines. It recomputes every money and
// quantity total from catalog data, then hands the store one all-or-nothing
// write per pipeline so stock, balance, bill record and ledger can never
// drift apart.
type Service struct {
	repo store.Repository
}

func New(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// CreateBill runs the bill pipeline: validate (no side effects on failure),
// then persist bill + stock decrements + balance delta + ledger entries as
// one unit. A repeated idempotency key returns the original bill unchanged.
func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.BillResponse, error) {
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if existing, err := s.repo.FindBillByIdempotencyKey(ctx, key); err == nil {
			entries, err := s.repo.ListTransactionsByBill(ctx, existing.ID)
			if err != nil {
				return domain.BillResponse{}, err
			}
			return domain.BillResponse{Bill: *existing, Transactions: entries, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.BillResponse{}, err
		}
	}

	validated, err := s.validateBill(ctx, req)
	if err != nil {
		return domain.BillResponse{}, err
	}

	now := time.Now().UTC()
	status := domain.BillStatusPending
	if req.PartialPayment.GreaterThanOrEqual(validated.grandTotal) {
		status = domain.BillStatusCompleted
	}

	bill := domain.Bill{
		ID:             xid.New("bill"),
		CustomerID:     validated.customer.ID,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		Items:          validated.lines,
		Subtotal:       validated.subtotal,
		Markup:         req.Markup,
		Discount:       req.Discount,
		GrandTotal:     validated.grandTotal,
		GrandTotalCost: validated.grandTotalCost,
		TaxTotal:       validated.taxTotal,
		PaymentType:    req.PaymentType,
		PartialPayment: req.PartialPayment,
		Status:         status,
		CreatedAt:      now,
	}

	entries := []domain.Transaction{{
		ID:          xid.New("tx"),
		CustomerID:  bill.CustomerID,
		BillID:      bill.ID,
		Amount:      bill.GrandTotal,
		Type:        domain.TxTypeBill,
		Description: fmt.Sprintf("bill for %d item(s)", len(bill.Items)),
		CreatedAt:   now,
	}}

	var payment *domain.Payment
	if req.PartialPayment.IsPositive() {
		payment = &domain.Payment{
			ID:            xid.New("pay"),
			CustomerID:    bill.CustomerID,
			BillID:        bill.ID,
			Amount:        req.PartialPayment,
			PaymentMethod: req.PaymentType,
			Description:   "payment at bill creation",
			CreatedAt:     now,
		}
		entries = append(entries, domain.Transaction{
			ID:          xid.New("tx"),
			CustomerID:  bill.CustomerID,
			BillID:      bill.ID,
			PaymentID:   payment.ID,
			Amount:      req.PartialPayment.Neg(),
			Type:        domain.TxTypePayment,
			Description: "payment at bill creation",
			CreatedAt:   now,
		})
	}

	created, createdEntries, err := s.repo.CreateBill(ctx, bill, payment, entries)
	if err != nil {
		return domain.BillResponse{}, err
	}

	log.Printf("[billing] bill created id=%s customer=%s total=%s status=%s",
		created.ID, created.CustomerID, created.GrandTotal.StringFixed(2), created.Status)

	return domain.BillResponse{Bill: *created, Transactions: createdEntries}, nil
}

// Refund reverses a bill once: stock back in, customer balance back down,
// bill marked refunded, one ledger entry. Requested quantities are bounded
// by the original bill lines and the refund amount is recomputed from them.
func (s *Service) Refund(ctx context.Context, req domain.RefundCreateRequest) (domain.RefundResponse, error) {
	if strings.TrimSpace(req.BillID) == "" {
		return domain.RefundResponse{}, fmt.Errorf("%w: billId is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.RefundResponse{}, fmt.Errorf("%w: refund must name at least one item", store.ErrValidation)
	}

	bill, err := s.repo.GetBillByID(ctx, req.BillID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RefundResponse{}, fmt.Errorf("%w: bill %s", store.ErrNotFound, req.BillID)
		}
		return domain.RefundResponse{}, err
	}
	if bill.Status == domain.BillStatusRefunded {
		return domain.RefundResponse{}, fmt.Errorf("%w: bill %s is already refunded", store.ErrValidation, bill.ID)
	}

	customer, err := s.repo.GetCustomerByID(ctx, bill.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RefundResponse{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, bill.CustomerID)
		}
		return domain.RefundResponse{}, err
	}

	linesByItem := make(map[string]domain.BillLine, len(bill.Items))
	for _, line := range bill.Items {
		linesByItem[line.ItemID] = line
	}

	refundedValue := decimal.Zero
	requested := make(map[string]int, len(req.Items))
	items := make([]domain.RefundLine, 0, len(req.Items))
	for _, line := range req.Items {
		if strings.TrimSpace(line.ItemID) == "" || line.Quantity < 1 {
			return domain.RefundResponse{}, fmt.Errorf("%w: refund lines need itemId and a positive quantity", store.ErrValidation)
		}
		original, exists := linesByItem[line.ItemID]
		if !exists {
			return domain.RefundResponse{}, fmt.Errorf("%w: item %s is not on bill %s", store.ErrValidation, line.ItemID, bill.ID)
		}
		// The bound holds across repeated lines for the same item, not just
		// per line, so stock can never be restored beyond what was sold.
		requested[line.ItemID] += line.Quantity
		if requested[line.ItemID] > original.Quantity {
			return domain.RefundResponse{}, fmt.Errorf("%w: item %s: refund quantity %d exceeds billed quantity %d",
				store.ErrValidation, line.ItemID, requested[line.ItemID], original.Quantity)
		}
		refundedValue = refundedValue.Add(original.CustomPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, domain.RefundLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	// The refund amount follows the same markup/discount derivation as the
	// grand total, so refunding every line returns exactly the grand total.
	amount := applyMarkupDiscount(refundedValue, bill.Markup, bill.Discount)
	if amount.GreaterThan(bill.GrandTotal) {
		amount = bill.GrandTotal
	}

	now := time.Now().UTC()
	refund := domain.Refund{
		ID:         xid.New("refund"),
		BillID:     bill.ID,
		CustomerID: customer.ID,
		Amount:     amount,
		Items:      items,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  now,
	}
	entry := domain.Transaction{
		ID:          xid.New("tx"),
		CustomerID:  customer.ID,
		BillID:      bill.ID,
		Amount:      amount.Neg(),
		Type:        domain.TxTypeRefund,
		Description: fmt.Sprintf("refund for bill %s", bill.ID),
		CreatedAt:   now,
	}

	created, createdEntry, err := s.repo.CreateRefund(ctx, refund, entry)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	log.Printf("[billing] refund created id=%s bill=%s amount=%s",
		created.ID, created.BillID, created.Amount.StringFixed(2))

	return domain.RefundResponse{Refund: *created, Transaction: *createdEntry}, nil
}

// RecordPayment settles part of a customer's running balance. It is not tied
// to a specific bill.
func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentCreateRequest) (domain.PaymentResponse, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return domain.PaymentResponse{}, fmt.Errorf("%w: customerId is required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = domain.PaymentTypeCash
	}

	customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PaymentResponse{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		return domain.PaymentResponse{}, err
	}

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:            xid.New("pay"),
		CustomerID:    customer.ID,
		Amount:        req.Amount,
		PaymentMethod: method,
		Description:   strings.TrimSpace(req.Description),
		CreatedAt:     now,
	}
	entry := domain.Transaction{
		ID:          xid.New("tx"),
		CustomerID:  customer.ID,
		PaymentID:   payment.ID,
		Amount:      req.Amount.Neg(),
		Type:        domain.TxTypePayment,
		Description: payment.Description,
		CreatedAt:   now,
	}

	created, createdEntry, err := s.repo.CreatePayment(ctx, payment, entry)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	log.Printf("[billing] payment recorded id=%s customer=%s amount=%s",
		created.ID, created.CustomerID, created.Amount.StringFixed(2))

	return domain.PaymentResponse{Payment: *created, Transaction: *createdEntry}, nil
}

// GetBill returns a bill with customer and item names joined on, plus the
// refund when the bill has one.
func (s *Service) GetBill(ctx context.Context, id string) (domain.BillDetail, error) {
	bill, err := s.repo.GetBillByID(ctx, id)
	if err != nil {
		return domain.BillDetail{}, err
	}
	detail, err := s.toBillDetail(ctx, *bill)
	if err != nil {
		return domain.BillDetail{}, err
	}
	if bill.Status == domain.BillStatusRefunded {
		refund, err := s.repo.GetRefundByBillID(ctx, bill.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.BillDetail{}, err
		}
		detail.Refund = refund
	}
	return detail, nil
}

// ListBills returns recent bills, optionally for a single customer, with
// names joined on.
func (s *Service) ListBills(ctx context.Context, customerID string, limit int) ([]domain.BillDetail, error) {
	if limit < 1 {
		limit = 100
	}
	bills, err := s.repo.ListBills(ctx, strings.TrimSpace(customerID), limit)
	if err != nil {
		return nil, err
	}
	details := make([]domain.BillDetail, 0, len(bills))
	for _, bill := range bills {
		detail, err := s.toBillDetail(ctx, bill)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, nil
}

func (s *Service) toBillDetail(ctx context.Context, bill domain.Bill) (domain.BillDetail, error) {
	detail := domain.BillDetail{Bill: bill, Lines: make([]domain.BillLineDetail, 0, len(bill.Items))}

	customer, err := s.repo.GetCustomerByID(ctx, bill.CustomerID)
	if err == nil {
		detail.CustomerName = customer.Name
		detail.AccountNumber = customer.AccountNumber
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.BillDetail{}, err
	}

	ids := make([]string, 0, len(bill.Items))
	for _, line := range bill.Items {
		ids = append(ids, line.ItemID)
	}
	items, err := s.repo.GetItemsByIDs(ctx, ids)
	if err != nil {
		return domain.BillDetail{}, err
	}
	for _, line := range bill.Items {
		lineDetail := domain.BillLineDetail{BillLine: line}
		if item, ok := items[line.ItemID]; ok {
			lineDetail.ItemName = item.Name
		}
		detail.Lines = append(detail.Lines, lineDetail)
	}
	return detail, nil
}

// ListTransactions reads the ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, customerID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListTransactions(ctx, strings.TrimSpace(customerID), from, to, limit)
}
