package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
	"kasbon/backend/internal/xid"
)

// Store is an in-memory Repository for dev mode and tests. A single mutex
// guards every write, so each pipeline write is atomic by construction; the
// pipelines still validate everything they touch before mutating anything,
// mirroring the postgres transaction semantics.
type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	customers       map[string]domain.Customer
	billsByID       map[string]*domain.Bill
	billsByIdem     map[string]*domain.Bill
	paymentsByID    map[string]domain.Payment
	refundsByBill   map[string]domain.Refund
	ledger          []domain.Transaction
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		customers:       make(map[string]domain.Customer),
		billsByID:       make(map[string]*domain.Bill),
		billsByIdem:     make(map[string]*domain.Bill),
		paymentsByID:    make(map[string]domain.Payment),
		refundsByBill:   make(map[string]domain.Refund),
		ledger:          make([]domain.Transaction, 0, 256),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small catalog and two customers
// for dev/demo mode.
func NewSeeded() *Store {
	s := New()

	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	items := []domain.Item{
		{ID: "item-rice-5kg", Name: "Beras Premium 5kg", Barcode: "8991002101",
			CostPrice: price("62000"), SellingPrice: price("72000"), Stock: 40,
			TaxRate: price("0"), LowStockThreshold: 5},
		{ID: "item-oil-1l", Name: "Minyak Goreng 1L", Barcode: "8991002102",
			CostPrice: price("14500"), SellingPrice: price("17500"), Stock: 60,
			TaxRate: price("11"), LowStockThreshold: 10},
		{ID: "item-sugar-1kg", Name: "Gula Pasir 1kg", Barcode: "8991002103",
			CostPrice: price("15200"), SellingPrice: price("17400"), Stock: 55,
			TaxRate: price("0"), LowStockThreshold: 8},
		{ID: "item-coffee-200g", Name: "Kopi Bubuk 200g", Barcode: "8991002104",
			CostPrice: price("21000"), SellingPrice: price("26500"), Stock: 30,
			TaxRate: price("11"), LowStockThreshold: 6},
		{ID: "item-soap-bar", Name: "Sabun Mandi Batang", Barcode: "8991002105",
			CostPrice: price("4200"), SellingPrice: price("5600"), Stock: 80,
			TaxRate: price("11"), LowStockThreshold: 12},
	}
	now := time.Now().UTC()
	for _, item := range items {
		item.CreatedAt = now
		s.items[item.ID] = item
	}

	customers := []domain.Customer{
		{ID: "cust-warung-bu-sari", Name: "Warung Bu Sari", Phone: "0812000001",
			Address: "Jl. Melati 3", AccountNumber: "ACC-0001", Balance: decimal.Zero},
		{ID: "cust-toko-pak-eko", Name: "Toko Pak Eko", Phone: "0812000002",
			Address: "Jl. Kenanga 7", AccountNumber: "ACC-0002", Balance: decimal.Zero},
	}
	for _, customer := range customers {
		customer.CreatedAt = now
		s.customers[customer.ID] = customer
	}

	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, dev defaults are used with a warning. Production deployments use
// PostgreSQL (DATABASE_URL set) and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		return strings.Compare(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.items[item.ID]; exists {
		return nil, store.ErrConflict
	}
	if item.Barcode != "" {
		for _, existing := range s.items {
			if existing.Barcode == item.Barcode {
				return nil, fmt.Errorf("%w: barcode %s already in use", store.ErrConflict, item.Barcode)
			}
		}
	}

	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetItemsByIDs(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, exists := s.items[id]; exists {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Barcode != "" && item.Barcode != existing.Barcode {
		for _, other := range s.items {
			if other.ID != item.ID && other.Barcode == item.Barcode {
				return nil, fmt.Errorf("%w: barcode %s already in use", store.ErrConflict, item.Barcode)
			}
		}
	}
	// Stock is owned by the billing pipelines; catalog updates never touch it.
	item.Stock = existing.Stock
	item.CreatedAt = existing.CreatedAt

	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.AccountNumber, b.AccountNumber)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	for _, existing := range s.customers {
		if existing.AccountNumber == customer.AccountNumber {
			return nil, fmt.Errorf("%w: account number %s already in use", store.ErrConflict, customer.AccountNumber)
		}
	}

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Balance and account number are not editable through CRUD.
	customer.Balance = existing.Balance
	customer.AccountNumber = existing.AccountNumber
	customer.CreatedAt = existing.CreatedAt

	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.customers, id)

	kept := s.ledger[:0]
	for _, entry := range s.ledger {
		if entry.CustomerID != id {
			kept = append(kept, entry)
		}
	}
	s.ledger = kept
	return nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill, payment *domain.Payment, entries []domain.Transaction) (*domain.Bill, []domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.IdempotencyKey != "" {
		if existing, exists := s.billsByIdem[bill.IdempotencyKey]; exists {
			copyBill := *existing
			return &copyBill, s.transactionsByBillLocked(existing.ID), nil
		}
	}

	customer, exists := s.customers[bill.CustomerID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, bill.CustomerID)
	}

	// Validate every line before mutating anything so a late failure cannot
	// leave a partial decrement behind. Quantities are summed per item so
	// repeated lines cannot each pass against the same stock snapshot.
	requested := make(map[string]int, len(bill.Items))
	for _, line := range bill.Items {
		item, exists := s.items[line.ItemID]
		if !exists {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
		requested[line.ItemID] += line.Quantity
		if item.Stock < requested[line.ItemID] {
			return nil, nil, fmt.Errorf("%w: item %s has %d in stock, requested %d",
				store.ErrInsufficientStock, item.ID, item.Stock, requested[line.ItemID])
		}
	}

	for _, line := range bill.Items {
		item := s.items[line.ItemID]
		item.Stock -= line.Quantity
		s.items[line.ItemID] = item
	}

	delta := decimal.Zero
	for _, entry := range entries {
		delta = delta.Add(entry.Amount)
	}
	customer.Balance = customer.Balance.Add(delta)
	s.customers[bill.CustomerID] = customer

	saved := bill
	s.billsByID[bill.ID] = &saved
	if bill.IdempotencyKey != "" {
		s.billsByIdem[bill.IdempotencyKey] = &saved
	}
	if payment != nil {
		s.paymentsByID[payment.ID] = *payment
	}
	s.ledger = append(s.ledger, entries...)

	copyBill := saved
	result := make([]domain.Transaction, len(entries))
	copy(result, entries)
	return &copyBill, result, nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund, entry domain.Transaction) (*domain.Refund, *domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByID[refund.BillID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, refund.BillID)
	}
	if bill.Status == domain.BillStatusRefunded {
		return nil, nil, fmt.Errorf("%w: bill %s is already refunded", store.ErrValidation, bill.ID)
	}
	customer, exists := s.customers[refund.CustomerID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, refund.CustomerID)
	}
	for _, line := range refund.Items {
		if _, exists := s.items[line.ItemID]; !exists {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
	}

	for _, line := range refund.Items {
		item := s.items[line.ItemID]
		item.Stock += line.Quantity
		s.items[line.ItemID] = item
	}

	bill.Status = domain.BillStatusRefunded
	customer.Balance = customer.Balance.Add(entry.Amount)
	s.customers[refund.CustomerID] = customer
	s.refundsByBill[refund.BillID] = refund
	s.ledger = append(s.ledger, entry)

	copyRefund := refund
	copyEntry := entry
	return &copyRefund, &copyEntry, nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment, entry domain.Transaction) (*domain.Payment, *domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customers[payment.CustomerID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, payment.CustomerID)
	}

	customer.Balance = customer.Balance.Add(entry.Amount)
	s.customers[payment.CustomerID] = customer
	s.paymentsByID[payment.ID] = payment
	s.ledger = append(s.ledger, entry)

	copyPayment := payment
	copyEntry := entry
	return &copyPayment, &copyEntry, nil
}

func (s *Store) GetBillByID(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBill := *bill
	return &copyBill, nil
}

func (s *Store) FindBillByIdempotencyKey(_ context.Context, key string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBill := *bill
	return &copyBill, nil
}

func (s *Store) ListBills(_ context.Context, customerID string, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if customerID != "" && bill.CustomerID != customerID {
			continue
		}
		bills = append(bills, *bill)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) GetRefundByBillID(_ context.Context, billID string) (*domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refund, exists := s.refundsByBill[billID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRefund := refund
	return &copyRefund, nil
}

func (s *Store) ListTransactions(_ context.Context, customerID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.ledger))
	for _, entry := range s.ledger {
		if customerID != "" && entry.CustomerID != customerID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListTransactionsByBill(_ context.Context, billID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsByBillLocked(billID), nil
}

func (s *Store) transactionsByBillLocked(billID string) []domain.Transaction {
	result := make([]domain.Transaction, 0, 2)
	for _, entry := range s.ledger {
		if entry.BillID == billID {
			result = append(result, entry)
		}
	}
	return result
}

func (s *Store) ListCompletedBillsInRange(_ context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billsByID))
	for _, bill := range s.billsByID {
		if bill.Status != domain.BillStatusCompleted {
			continue
		}
		if bill.CreatedAt.Before(from) || !bill.CreatedAt.Before(to) {
			continue
		}
		bills = append(bills, *bill)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return bills, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
