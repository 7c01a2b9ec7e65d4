package store

import (
	"context"
	"errors"
	"time"

	"kasbon/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("invalid request")
	ErrConflict          = errors.New("conflict")
)

// Repository is the persistence contract. The three Create* pipeline writes
// (bill, refund, payment) are each all-or-nothing: either every record they
// touch (bill/refund/payment row, stock, customer balance, ledger entries)
// is applied, or none is. Stock decrements inside CreateBill are conditional
// and fail the whole pipeline with ErrInsufficientStock rather than going
// negative. Customer balance is only ever changed by applying the sum of the
// ledger entries passed in, so a ledger replay always matches the balance.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetItemByID(ctx context.Context, id string) (*domain.Item, error)
	GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// DeleteCustomer cascades the customer's ledger entries.
	DeleteCustomer(ctx context.Context, id string) error

	// CreateBill persists the bill, conditionally decrements stock per line,
	// applies the balance delta implied by entries, appends the entries and,
	// when payment is non-nil, the payment record. If the bill carries an
	// idempotency key that already exists, the previously created bill is
	// returned with no side effects.
	CreateBill(ctx context.Context, bill domain.Bill, payment *domain.Payment, entries []domain.Transaction) (*domain.Bill, []domain.Transaction, error)

	// CreateRefund increments stock per refund line, marks the bill refunded
	// (rejecting a second refund with ErrValidation), applies the balance
	// delta implied by entry and appends it.
	CreateRefund(ctx context.Context, refund domain.Refund, entry domain.Transaction) (*domain.Refund, *domain.Transaction, error)

	// CreatePayment persists the payment, applies the balance delta implied
	// by entry and appends it.
	CreatePayment(ctx context.Context, payment domain.Payment, entry domain.Transaction) (*domain.Payment, *domain.Transaction, error)

	GetBillByID(ctx context.Context, id string) (*domain.Bill, error)
	FindBillByIdempotencyKey(ctx context.Context, key string) (*domain.Bill, error)
	ListBills(ctx context.Context, customerID string, limit int) ([]domain.Bill, error)
	GetRefundByBillID(ctx context.Context, billID string) (*domain.Refund, error)

	// ListTransactions returns ledger entries newest first, optionally
	// filtered by customer and time range (zero times mean unbounded).
	ListTransactions(ctx context.Context, customerID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error)
	ListTransactionsByBill(ctx context.Context, billID string) ([]domain.Transaction, error)

	// ListCompletedBillsInRange returns completed bills with createdAt in
	// [from, to), oldest first, for the sales aggregator.
	ListCompletedBillsInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
