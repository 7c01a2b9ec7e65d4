package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := New()

	_, err := s.CreateItem(context.Background(), domain.Item{
		ID: "item-a", Name: "A", CostPrice: dec("5"), SellingPrice: dec("10"), Stock: 4,
	})
	if err != nil {
		t.Fatalf("seed item-a: %v", err)
	}
	_, err = s.CreateItem(context.Background(), domain.Item{
		ID: "item-b", Name: "B", CostPrice: dec("3"), SellingPrice: dec("6"), Stock: 10,
	})
	if err != nil {
		t.Fatalf("seed item-b: %v", err)
	}
	_, err = s.CreateCustomer(context.Background(), domain.Customer{
		ID: "cust-a", Name: "Cust", AccountNumber: "ACC-1", Balance: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return s
}

// A bill with one satisfiable line and one over-stock line must leave every
// record untouched, including the stock of the satisfiable line.
func TestCreateBillIsAllOrNothing(t *testing.T) {
	s := seedStore(t)

	bill := domain.Bill{
		ID:         "bill-1",
		CustomerID: "cust-a",
		Items: []domain.BillLine{
			{ItemID: "item-a", Quantity: 2},
			{ItemID: "item-b", Quantity: 99},
		},
		GrandTotal: dec("100"),
		Status:     domain.BillStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	entries := []domain.Transaction{{ID: "tx-1", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("100"), Type: domain.TxTypeBill}}

	_, _, err := s.CreateBill(context.Background(), bill, nil, entries)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	itemA, _ := s.GetItemByID(context.Background(), "item-a")
	if itemA.Stock != 4 {
		t.Errorf("item-a stock = %d, want 4", itemA.Stock)
	}
	customer, _ := s.GetCustomerByID(context.Background(), "cust-a")
	if !customer.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", customer.Balance)
	}
	if entries, _ := s.ListTransactionsByBill(context.Background(), "bill-1"); len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(entries))
	}
	if _, err := s.GetBillByID(context.Background(), "bill-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("bill persisted despite failure: err = %v", err)
	}
}

// Two lines for the same item each fit stock 4 alone but sum to 6; the
// store must reject the bill before any decrement, never commit at -2.
func TestCreateBillSumsQuantitiesAcrossDuplicateLines(t *testing.T) {
	s := seedStore(t)

	bill := domain.Bill{
		ID:         "bill-1",
		CustomerID: "cust-a",
		Items: []domain.BillLine{
			{ItemID: "item-a", Quantity: 3},
			{ItemID: "item-a", Quantity: 3},
		},
		GrandTotal: dec("60"),
		Status:     domain.BillStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	entries := []domain.Transaction{{ID: "tx-1", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("60"), Type: domain.TxTypeBill}}

	_, _, err := s.CreateBill(context.Background(), bill, nil, entries)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	itemA, _ := s.GetItemByID(context.Background(), "item-a")
	if itemA.Stock != 4 {
		t.Errorf("item-a stock = %d, want 4", itemA.Stock)
	}
	if _, err := s.GetBillByID(context.Background(), "bill-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("bill persisted despite failure: err = %v", err)
	}
}

func TestCreateBillAppliesLedgerDeltaToBalance(t *testing.T) {
	s := seedStore(t)

	bill := domain.Bill{
		ID:         "bill-1",
		CustomerID: "cust-a",
		Items:      []domain.BillLine{{ItemID: "item-a", Quantity: 2}},
		GrandTotal: dec("20"),
		Status:     domain.BillStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	entries := []domain.Transaction{
		{ID: "tx-1", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("20"), Type: domain.TxTypeBill},
		{ID: "tx-2", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("-5"), Type: domain.TxTypePayment},
	}

	if _, _, err := s.CreateBill(context.Background(), bill, nil, entries); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	customer, _ := s.GetCustomerByID(context.Background(), "cust-a")
	if !customer.Balance.Equal(dec("15")) {
		t.Errorf("balance = %s, want 15", customer.Balance)
	}
	itemA, _ := s.GetItemByID(context.Background(), "item-a")
	if itemA.Stock != 2 {
		t.Errorf("item-a stock = %d, want 2", itemA.Stock)
	}
}

func TestCreateBillIdempotencyReplayDoesNotMutate(t *testing.T) {
	s := seedStore(t)

	bill := domain.Bill{
		ID:             "bill-1",
		CustomerID:     "cust-a",
		IdempotencyKey: "key-1",
		Items:          []domain.BillLine{{ItemID: "item-a", Quantity: 1}},
		GrandTotal:     dec("10"),
		Status:         domain.BillStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	entries := []domain.Transaction{{ID: "tx-1", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("10"), Type: domain.TxTypeBill}}

	if _, _, err := s.CreateBill(context.Background(), bill, nil, entries); err != nil {
		t.Fatalf("first create: %v", err)
	}

	replay := bill
	replay.ID = "bill-2"
	got, gotEntries, err := s.CreateBill(context.Background(), replay, nil, entries)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.ID != "bill-1" {
		t.Errorf("replay returned %s, want bill-1", got.ID)
	}
	if len(gotEntries) != 1 {
		t.Errorf("replay entries = %d, want 1", len(gotEntries))
	}

	itemA, _ := s.GetItemByID(context.Background(), "item-a")
	if itemA.Stock != 3 {
		t.Errorf("item-a stock = %d, want 3 (single decrement)", itemA.Stock)
	}
}

func TestCreateRefundIsTerminal(t *testing.T) {
	s := seedStore(t)

	bill := domain.Bill{
		ID:         "bill-1",
		CustomerID: "cust-a",
		Items:      []domain.BillLine{{ItemID: "item-a", Quantity: 2}},
		GrandTotal: dec("20"),
		Status:     domain.BillStatusCompleted,
		CreatedAt:  time.Now().UTC(),
	}
	entries := []domain.Transaction{{ID: "tx-1", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("20"), Type: domain.TxTypeBill}}
	if _, _, err := s.CreateBill(context.Background(), bill, nil, entries); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	refund := domain.Refund{
		ID: "refund-1", BillID: "bill-1", CustomerID: "cust-a",
		Amount: dec("20"), Items: []domain.RefundLine{{ItemID: "item-a", Quantity: 2}},
	}
	entry := domain.Transaction{ID: "tx-2", CustomerID: "cust-a", BillID: "bill-1", Amount: dec("-20"), Type: domain.TxTypeRefund}

	if _, _, err := s.CreateRefund(context.Background(), refund, entry); err != nil {
		t.Fatalf("refund: %v", err)
	}

	stored, _ := s.GetBillByID(context.Background(), "bill-1")
	if stored.Status != domain.BillStatusRefunded {
		t.Errorf("status = %s, want refunded", stored.Status)
	}
	itemA, _ := s.GetItemByID(context.Background(), "item-a")
	if itemA.Stock != 4 {
		t.Errorf("stock = %d, want 4 restored", itemA.Stock)
	}
	customer, _ := s.GetCustomerByID(context.Background(), "cust-a")
	if !customer.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", customer.Balance)
	}

	refund.ID = "refund-2"
	entry.ID = "tx-3"
	if _, _, err := s.CreateRefund(context.Background(), refund, entry); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("second refund: err = %v, want validation error", err)
	}

	got, err := s.GetRefundByBillID(context.Background(), "bill-1")
	if err != nil {
		t.Fatalf("get refund: %v", err)
	}
	if got.ID != "refund-1" {
		t.Errorf("refund id = %s, want refund-1", got.ID)
	}
}

func TestDeleteCustomerCascadesLedger(t *testing.T) {
	s := seedStore(t)

	payment := domain.Payment{ID: "pay-1", CustomerID: "cust-a", Amount: dec("10"), PaymentMethod: "cash"}
	entry := domain.Transaction{ID: "tx-1", CustomerID: "cust-a", PaymentID: "pay-1", Amount: dec("-10"), Type: domain.TxTypePayment}
	if _, _, err := s.CreatePayment(context.Background(), payment, entry); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if err := s.DeleteCustomer(context.Background(), "cust-a"); err != nil {
		t.Fatalf("delete customer: %v", err)
	}

	entries, err := s.ListTransactions(context.Background(), "cust-a", time.Time{}, time.Time{}, 100)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ledger entries after delete = %d, want 0", len(entries))
	}
}

func TestListTransactionsFiltersAndOrders(t *testing.T) {
	s := seedStore(t)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for i, amount := range []string{"10", "20", "30"} {
		payment := domain.Payment{ID: "pay-" + amount, CustomerID: "cust-a", Amount: dec(amount), PaymentMethod: "cash"}
		entry := domain.Transaction{
			ID: "tx-" + amount, CustomerID: "cust-a", PaymentID: payment.ID,
			Amount: dec(amount).Neg(), Type: domain.TxTypePayment,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if _, _, err := s.CreatePayment(context.Background(), payment, entry); err != nil {
			t.Fatalf("payment %s: %v", amount, err)
		}
	}

	entries, err := s.ListTransactions(context.Background(), "cust-a", time.Time{}, time.Time{}, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if !entries[0].CreatedAt.After(entries[2].CreatedAt) {
		t.Errorf("expected newest first, got %v then %v", entries[0].CreatedAt, entries[2].CreatedAt)
	}

	windowed, err := s.ListTransactions(context.Background(), "cust-a", base.Add(30*time.Minute), base.Add(90*time.Minute), 100)
	if err != nil {
		t.Fatalf("windowed list: %v", err)
	}
	if len(windowed) != 1 {
		t.Errorf("windowed entries = %d, want 1", len(windowed))
	}

	limited, err := s.ListTransactions(context.Background(), "cust-a", time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited entries = %d, want 2", len(limited))
	}
}
