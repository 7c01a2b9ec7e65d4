package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
)

func TestBillPipelineKeepsRecordsConsistent(t *testing.T) {
	databaseURL := os.Getenv("KASBON_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASBON_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	itemID := fmt.Sprintf("item-it-%d", stamp)
	customerID := fmt.Sprintf("cust-it-%d", stamp)
	billID := fmt.Sprintf("bill-it-%d", stamp)
	refundID := fmt.Sprintf("refund-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM refund_lines WHERE refund_id = $1`, refundID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM refunds WHERE id = $1`, refundID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bill_lines WHERE bill_id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	})

	dec := decimal.RequireFromString
	if _, err := s.CreateItem(ctx, domain.Item{
		ID: itemID, Name: "Integration Item", CostPrice: dec("10"), SellingPrice: dec("20"), Stock: 5,
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{
		ID: customerID, Name: "Integration Customer",
		AccountNumber: fmt.Sprintf("ACC-IT-%d", stamp), Balance: decimal.Zero,
	}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	now := time.Now().UTC()
	bill := domain.Bill{
		ID:             billID,
		CustomerID:     customerID,
		IdempotencyKey: idempotencyKey,
		Items: []domain.BillLine{{
			ItemID: itemID, Quantity: 2, UnitPrice: dec("20"), CustomPrice: dec("25"),
			UnitCost: dec("10"), Total: dec("50"), TotalCost: dec("20"),
		}},
		Subtotal:       dec("50"),
		Markup:         dec("10"),
		Discount:       dec("0"),
		GrandTotal:     dec("55"),
		GrandTotalCost: dec("20"),
		TaxTotal:       dec("0"),
		PaymentType:    domain.PaymentTypeCredit,
		PartialPayment: decimal.Zero,
		Status:         domain.BillStatusPending,
		CreatedAt:      now,
	}
	entries := []domain.Transaction{{
		ID: fmt.Sprintf("tx-it-%d", stamp), CustomerID: customerID, BillID: billID,
		Amount: dec("55"), Type: domain.TxTypeBill, CreatedAt: now,
	}}

	if _, _, err := s.CreateBill(ctx, bill, nil, entries); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	item, err := s.GetItemByID(ctx, itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Stock != 3 {
		t.Fatalf("stock after bill = %d, want 3", item.Stock)
	}
	customer, err := s.GetCustomerByID(ctx, customerID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.Balance.Equal(dec("55")) {
		t.Fatalf("balance after bill = %s, want 55", customer.Balance)
	}

	// Replaying the same idempotency key must not decrement stock again.
	replay := bill
	replay.ID = billID + "-replay"
	got, _, err := s.CreateBill(ctx, replay, nil, entries)
	if err != nil {
		t.Fatalf("replay bill: %v", err)
	}
	if got.ID != billID {
		t.Fatalf("replay returned %s, want %s", got.ID, billID)
	}
	item, _ = s.GetItemByID(ctx, itemID)
	if item.Stock != 3 {
		t.Fatalf("stock after replay = %d, want 3", item.Stock)
	}

	// Over-stock bills must fail without touching anything.
	overdraw := bill
	overdraw.ID = billID + "-overdraw"
	overdraw.IdempotencyKey = ""
	overdraw.Items = []domain.BillLine{{
		ItemID: itemID, Quantity: 99, UnitPrice: dec("20"), CustomPrice: dec("25"),
		UnitCost: dec("10"), Total: dec("2475"), TotalCost: dec("990"),
	}}
	if _, _, err := s.CreateBill(ctx, overdraw, nil, nil); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("overdraw err = %v, want insufficient stock", err)
	}
	item, _ = s.GetItemByID(ctx, itemID)
	if item.Stock != 3 {
		t.Fatalf("stock after rejected bill = %d, want 3", item.Stock)
	}

	refund := domain.Refund{
		ID: refundID, BillID: billID, CustomerID: customerID,
		Amount: dec("55"), Items: []domain.RefundLine{{ItemID: itemID, Quantity: 2}},
		Reason: "integration test refund", CreatedAt: time.Now().UTC(),
	}
	entry := domain.Transaction{
		ID: fmt.Sprintf("tx-it-refund-%d", stamp), CustomerID: customerID, BillID: billID,
		Amount: dec("-55"), Type: domain.TxTypeRefund, CreatedAt: time.Now().UTC(),
	}
	if _, _, err := s.CreateRefund(ctx, refund, entry); err != nil {
		t.Fatalf("refund: %v", err)
	}

	item, _ = s.GetItemByID(ctx, itemID)
	if item.Stock != 5 {
		t.Fatalf("stock after refund = %d, want 5", item.Stock)
	}
	customer, _ = s.GetCustomerByID(ctx, customerID)
	if !customer.Balance.IsZero() {
		t.Fatalf("balance after refund = %s, want 0", customer.Balance)
	}
	stored, err := s.GetBillByID(ctx, billID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if stored.Status != domain.BillStatusRefunded {
		t.Fatalf("bill status = %s, want refunded", stored.Status)
	}

	if _, _, err := s.CreateRefund(ctx, refund, entry); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("second refund err = %v, want validation error", err)
	}
}
