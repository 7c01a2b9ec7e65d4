package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is the catalog record. The billing layer treats it as read-only
// except for stock adjustments (bill decrement, refund increment).
type Item struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Barcode           string          `json:"barcode,omitempty"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	SellingPrice      decimal.Decimal `json:"sellingPrice"`
	Stock             int             `json:"stock"`
	TaxRate           decimal.Decimal `json:"taxRate"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type ItemCreateRequest struct {
	Name              string          `json:"name"`
	Barcode           string          `json:"barcode,omitempty"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	SellingPrice      decimal.Decimal `json:"sellingPrice"`
	Stock             int             `json:"stock"`
	TaxRate           decimal.Decimal `json:"taxRate"`
	LowStockThreshold int             `json:"lowStockThreshold"`
}

type ItemUpdateRequest struct {
	Name              *string          `json:"name,omitempty"`
	Barcode           *string          `json:"barcode,omitempty"`
	CostPrice         *decimal.Decimal `json:"costPrice,omitempty"`
	SellingPrice      *decimal.Decimal `json:"sellingPrice,omitempty"`
	TaxRate           *decimal.Decimal `json:"taxRate,omitempty"`
	LowStockThreshold *int             `json:"lowStockThreshold,omitempty"`
}

// Customer carries a running account balance. Positive balance means the
// customer owes money. Only the billing pipelines may change it.
type Customer struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	Address       string          `json:"address,omitempty"`
	AccountNumber string          `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type CustomerCreateRequest struct {
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	AccountNumber string `json:"accountNumber"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Address *string `json:"address,omitempty"`
}

// BillLine is one item entry on a bill. UnitCost is a snapshot of the item's
// cost price at bill-creation time and is never re-derived afterwards.
type BillLine struct {
	ItemID      string          `json:"itemId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	CustomPrice decimal.Decimal `json:"customPrice"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	Total       decimal.Decimal `json:"total"`
	TotalCost   decimal.Decimal `json:"totalCost"`
}

// Bill is immutable after creation except for Status.
type Bill struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customerId"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Items          []BillLine      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Markup         decimal.Decimal `json:"markup"`
	Discount       decimal.Decimal `json:"discount"`
	GrandTotal     decimal.Decimal `json:"grandTotal"`
	GrandTotalCost decimal.Decimal `json:"grandTotalCost"`
	TaxTotal       decimal.Decimal `json:"taxTotal"`
	PaymentType    string          `json:"paymentType"`
	PartialPayment decimal.Decimal `json:"partialPayment"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type BillLineRequest struct {
	ItemID      string          `json:"itemId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	CustomPrice decimal.Decimal `json:"customPrice"`
	Total       decimal.Decimal `json:"total"`
}

// BillCreateRequest is the client payload. All totals in it are advisory:
// the server recomputes every amount from catalog data and rejects mismatches.
type BillCreateRequest struct {
	CustomerID     string            `json:"customerId"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Items          []BillLineRequest `json:"items"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	Markup         decimal.Decimal   `json:"markup"`
	Discount       decimal.Decimal   `json:"discount"`
	GrandTotal     decimal.Decimal   `json:"grandTotal"`
	PaymentType    string            `json:"paymentType"`
	PartialPayment decimal.Decimal   `json:"partialPayment"`
}

type BillResponse struct {
	Bill         Bill          `json:"bill"`
	Transactions []Transaction `json:"transactions"`
	Duplicate    bool          `json:"duplicate,omitempty"`
}

// BillLineDetail joins catalog names onto a line for read endpoints.
type BillLineDetail struct {
	BillLine
	ItemName string `json:"itemName,omitempty"`
}

type BillDetail struct {
	Bill
	CustomerName  string           `json:"customerName,omitempty"`
	AccountNumber string           `json:"accountNumber,omitempty"`
	Lines         []BillLineDetail `json:"lines"`
	Refund        *Refund          `json:"refund,omitempty"`
}

// Payment is a standalone settlement against a customer's running balance,
// not a per-bill reconciliation. Immutable.
type Payment struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customerId"`
	BillID        string          `json:"billId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type PaymentCreateRequest struct {
	CustomerID    string          `json:"customerId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Description   string          `json:"description,omitempty"`
}

type PaymentResponse struct {
	Payment     Payment     `json:"payment"`
	Transaction Transaction `json:"transaction"`
}

// Transaction is one entry in the append-only ledger. Entries are never
// mutated or reordered; the signed Amount always matches the customer
// balance delta the event caused.
type Transaction struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	BillID      string          `json:"billId,omitempty"`
	PaymentID   string          `json:"paymentId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type RefundLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Refund reverses a bill: stock back in, balance back down. At most one
// refund per bill.
type Refund struct {
	ID         string          `json:"id"`
	BillID     string          `json:"billId"`
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	Items      []RefundLine    `json:"items"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RefundCreateRequest carries no amount: the refund value is recomputed
// server-side from the original bill lines.
type RefundCreateRequest struct {
	BillID string       `json:"billId"`
	Items  []RefundLine `json:"items"`
	Reason string       `json:"reason,omitempty"`
}

type RefundResponse struct {
	Refund      Refund      `json:"refund"`
	Transaction Transaction `json:"transaction"`
}

// SalesBucket is one grouping slot in a sales report, labeled by day or month.
type SalesBucket struct {
	Label       string          `json:"label"`
	BillCount   int             `json:"billCount"`
	TotalSales  decimal.Decimal `json:"totalSales"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
	TotalTax    decimal.Decimal `json:"totalTax"`
}

type SalesReport struct {
	Period      string          `json:"period"`
	StartDate   string          `json:"startDate"`
	EndDate     string          `json:"endDate"`
	BillCount   int             `json:"billCount"`
	TotalSales  decimal.Decimal `json:"totalSales"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	TotalProfit decimal.Decimal `json:"totalProfit"`
	TotalTax    decimal.Decimal `json:"totalTax"`
	Buckets     []SalesBucket   `json:"buckets"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	BillStatusPending   = "pending"
	BillStatusCompleted = "completed"
	BillStatusRefunded  = "refunded"
)

const (
	PaymentTypeCash   = "cash"
	PaymentTypeCredit = "credit"
)

const (
	TxTypeBill    = "bill"
	TxTypePayment = "payment"
	TxTypeRefund  = "refund"
)

const (
	ReportPeriodDaily   = "daily"
	ReportPeriodWeekly  = "weekly"
	ReportPeriodMonthly = "monthly"
	ReportPeriodCustom  = "custom"
)
