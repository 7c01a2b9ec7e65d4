package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasbon/backend/internal/domain"
	"kasbon/backend/internal/store"
	"kasbon/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode,''), cost_price, selling_price, stock,
			tax_rate, low_stock_threshold, created_at
		FROM items
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Barcode, &item.CostPrice, &item.SellingPrice,
			&item.Stock, &item.TaxRate, &item.LowStockThreshold, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, barcode, cost_price, selling_price, stock,
			tax_rate, low_stock_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, item.ID, item.Name, nullIfEmpty(item.Barcode), item.CostPrice, item.SellingPrice,
		item.Stock, item.TaxRate, item.LowStockThreshold, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s already in use", store.ErrConflict, item.Barcode)
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.Item, error) {
	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(barcode,''), cost_price, selling_price, stock,
			tax_rate, low_stock_threshold, created_at
		FROM items
		WHERE id = $1
	`, id).Scan(&item.ID, &item.Name, &item.Barcode, &item.CostPrice, &item.SellingPrice,
		&item.Stock, &item.TaxRate, &item.LowStockThreshold, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode,''), cost_price, selling_price, stock,
			tax_rate, low_stock_threshold, created_at
		FROM items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Barcode, &item.CostPrice, &item.SellingPrice,
			&item.Stock, &item.TaxRate, &item.LowStockThreshold, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	// Stock is owned by the billing pipelines; catalog updates never touch it.
	var updated domain.Item
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, barcode = $3, cost_price = $4, selling_price = $5,
			tax_rate = $6, low_stock_threshold = $7, updated_at = now()
		WHERE id = $1
		RETURNING id, name, COALESCE(barcode,''), cost_price, selling_price, stock,
			tax_rate, low_stock_threshold, created_at
	`, item.ID, item.Name, nullIfEmpty(item.Barcode), item.CostPrice, item.SellingPrice,
		item.TaxRate, item.LowStockThreshold).Scan(
		&updated.ID, &updated.Name, &updated.Barcode, &updated.CostPrice, &updated.SellingPrice,
		&updated.Stock, &updated.TaxRate, &updated.LowStockThreshold, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s already in use", store.ErrConflict, item.Barcode)
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(address,''), account_number, balance, created_at
		FROM customers
		ORDER BY account_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address,
			&customer.AccountNumber, &customer.Balance, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, account_number, balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address),
		customer.AccountNumber, customer.Balance, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: account number %s already in use", store.ErrConflict, customer.AccountNumber)
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(address,''), account_number, balance, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address,
		&customer.AccountNumber, &customer.Balance, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	// Balance and account number are owned elsewhere and excluded from CRUD.
	var updated domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, COALESCE(phone,''), COALESCE(address,''), account_number, balance, created_at
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address)).Scan(
		&updated.ID, &updated.Name, &updated.Phone, &updated.Address,
		&updated.AccountNumber, &updated.Balance, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE customer_id = $1`, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill, payment *domain.Payment, entries []domain.Transaction) (*domain.Bill, []domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if bill.IdempotencyKey != "" {
		var existingID string
		err := pgTx.QueryRowContext(ctx, `
			SELECT id FROM bills WHERE idempotency_key = $1
		`, bill.IdempotencyKey).Scan(&existingID)
		if err == nil {
			_ = pgTx.Rollback()
			return s.billWithEntries(ctx, existingID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
	}

	var customerID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM customers WHERE id = $1 FOR UPDATE
	`, bill.CustomerID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, bill.CustomerID)
		}
		return nil, nil, err
	}

	// Conditional decrement: a line that would drive stock negative matches
	// zero rows and fails the whole transaction.
	for _, line := range bill.Items {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE items
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND stock >= $1
		`, line.Quantity, line.ItemID)
		if err != nil {
			return nil, nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil, err
		}
		if affected == 0 {
			var stock int
			lookupErr := pgTx.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = $1`, line.ItemID).Scan(&stock)
			if errors.Is(lookupErr, sql.ErrNoRows) {
				return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
			}
			return nil, nil, fmt.Errorf("%w: item %s has %d in stock, requested %d",
				store.ErrInsufficientStock, line.ItemID, stock, line.Quantity)
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, customer_id, idempotency_key, subtotal, markup, discount,
			grand_total, grand_total_cost, tax_total, payment_type,
			partial_payment, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, bill.ID, bill.CustomerID, nullIfEmpty(bill.IdempotencyKey), bill.Subtotal, bill.Markup,
		bill.Discount, bill.GrandTotal, bill.GrandTotalCost, bill.TaxTotal, bill.PaymentType,
		bill.PartialPayment, bill.Status, bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && bill.IdempotencyKey != "" {
			// Lost a race on the idempotency key; the winner's bill is the result.
			_ = pgTx.Rollback()
			existing, lookupErr := s.FindBillByIdempotencyKey(ctx, bill.IdempotencyKey)
			if lookupErr == nil {
				existingEntries, entriesErr := s.ListTransactionsByBill(ctx, existing.ID)
				if entriesErr == nil {
					return existing, existingEntries, nil
				}
			}
		}
		return nil, nil, err
	}

	for _, line := range bill.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO bill_lines (bill_id, item_id, quantity, unit_price, custom_price, unit_cost, total, total_cost)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, bill.ID, line.ItemID, line.Quantity, line.UnitPrice, line.CustomPrice, line.UnitCost, line.Total, line.TotalCost)
		if err != nil {
			return nil, nil, err
		}
	}

	if payment != nil {
		if err := insertPayment(ctx, pgTx, *payment); err != nil {
			return nil, nil, err
		}
	}

	delta := decimal.Zero
	for _, entry := range entries {
		if err := insertTransaction(ctx, pgTx, entry); err != nil {
			return nil, nil, err
		}
		delta = delta.Add(entry.Amount)
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance = balance + $1, updated_at = now()
		WHERE id = $2
	`, delta, bill.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	saved := bill
	result := make([]domain.Transaction, len(entries))
	copy(result, entries)
	return &saved, result, nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund, entry domain.Transaction) (*domain.Refund, *domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var billStatus string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM bills WHERE id = $1 FOR UPDATE
	`, refund.BillID).Scan(&billStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, refund.BillID)
		}
		return nil, nil, err
	}
	if billStatus == domain.BillStatusRefunded {
		return nil, nil, fmt.Errorf("%w: bill %s is already refunded", store.ErrValidation, refund.BillID)
	}

	for _, line := range refund.Items {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE items
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, line.Quantity, line.ItemID)
		if err != nil {
			return nil, nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil, err
		}
		if affected == 0 {
			return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, line.ItemID)
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE bills SET status = $2 WHERE id = $1
	`, refund.BillID, domain.BillStatusRefunded)
	if err != nil {
		return nil, nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO refunds (id, bill_id, customer_id, amount, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, refund.ID, refund.BillID, refund.CustomerID, refund.Amount, refund.Reason, refund.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: bill %s is already refunded", store.ErrValidation, refund.BillID)
		}
		return nil, nil, err
	}
	for _, line := range refund.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO refund_lines (refund_id, item_id, quantity)
			VALUES ($1,$2,$3)
		`, refund.ID, line.ItemID, line.Quantity)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := insertTransaction(ctx, pgTx, entry); err != nil {
		return nil, nil, err
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance = balance + $1, updated_at = now()
		WHERE id = $2
	`, entry.Amount, refund.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, refund.CustomerID)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	savedRefund := refund
	savedEntry := entry
	return &savedRefund, &savedEntry, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment, entry domain.Transaction) (*domain.Payment, *domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := insertPayment(ctx, pgTx, payment); err != nil {
		return nil, nil, err
	}
	if err := insertTransaction(ctx, pgTx, entry); err != nil {
		return nil, nil, err
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE customers
		SET balance = balance + $1, updated_at = now()
		WHERE id = $2
	`, entry.Amount, payment.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		return nil, nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, payment.CustomerID)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	savedPayment := payment
	savedEntry := entry
	return &savedPayment, &savedEntry, nil
}

func (s *Store) GetBillByID(ctx context.Context, id string) (*domain.Bill, error) {
	return s.findBill(ctx, "id", id)
}

func (s *Store) FindBillByIdempotencyKey(ctx context.Context, key string) (*domain.Bill, error) {
	return s.findBill(ctx, "idempotency_key", key)
}

func (s *Store) findBill(ctx context.Context, column string, value string) (*domain.Bill, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var bill domain.Bill
	var idemKey sql.NullString
	query := fmt.Sprintf(`
		SELECT id, customer_id, idempotency_key, subtotal, markup, discount,
			grand_total, grand_total_cost, tax_total, payment_type,
			partial_payment, status, created_at
		FROM bills
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&bill.ID, &bill.CustomerID, &idemKey, &bill.Subtotal, &bill.Markup, &bill.Discount,
		&bill.GrandTotal, &bill.GrandTotalCost, &bill.TaxTotal, &bill.PaymentType,
		&bill.PartialPayment, &bill.Status, &bill.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if idemKey.Valid {
		bill.IdempotencyKey = idemKey.String
	}
	bill.CreatedAt = bill.CreatedAt.UTC()

	lines, err := s.loadBillLines(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	bill.Items = lines
	return &bill, nil
}

func (s *Store) billWithEntries(ctx context.Context, billID string) (*domain.Bill, []domain.Transaction, error) {
	bill, err := s.GetBillByID(ctx, billID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.ListTransactionsByBill(ctx, billID)
	if err != nil {
		return nil, nil, err
	}
	return bill, entries, nil
}

func (s *Store) loadBillLines(ctx context.Context, billID string) ([]domain.BillLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price, custom_price, unit_cost, total, total_cost
		FROM bill_lines
		WHERE bill_id = $1
		ORDER BY id ASC
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.BillLine, 0, 8)
	for rows.Next() {
		var line domain.BillLine
		if err := rows.Scan(&line.ItemID, &line.Quantity, &line.UnitPrice, &line.CustomPrice,
			&line.UnitCost, &line.Total, &line.TotalCost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListBills(ctx context.Context, customerID string, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, idempotency_key, subtotal, markup, discount,
			grand_total, grand_total_cost, tax_total, payment_type,
			partial_payment, status, created_at
		FROM bills
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, limit)
	for rows.Next() {
		var bill domain.Bill
		var idemKey sql.NullString
		if err := rows.Scan(&bill.ID, &bill.CustomerID, &idemKey, &bill.Subtotal, &bill.Markup,
			&bill.Discount, &bill.GrandTotal, &bill.GrandTotalCost, &bill.TaxTotal,
			&bill.PaymentType, &bill.PartialPayment, &bill.Status, &bill.CreatedAt); err != nil {
			return nil, err
		}
		if idemKey.Valid {
			bill.IdempotencyKey = idemKey.String
		}
		bill.CreatedAt = bill.CreatedAt.UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		lines, err := s.loadBillLines(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
		bills[i].Items = lines
	}
	return bills, nil
}

func (s *Store) GetRefundByBillID(ctx context.Context, billID string) (*domain.Refund, error) {
	var refund domain.Refund
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_id, customer_id, amount, COALESCE(reason,''), created_at
		FROM refunds
		WHERE bill_id = $1
	`, billID).Scan(&refund.ID, &refund.BillID, &refund.CustomerID, &refund.Amount,
		&refund.Reason, &refund.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	refund.CreatedAt = refund.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, quantity
		FROM refund_lines
		WHERE refund_id = $1
		ORDER BY id ASC
	`, refund.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.RefundLine, 0, 8)
	for rows.Next() {
		var line domain.RefundLine
		if err := rows.Scan(&line.ItemID, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refund.Items = lines
	return &refund, nil
}

func (s *Store) ListTransactions(ctx context.Context, customerID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, COALESCE(bill_id,''), COALESCE(payment_id,''),
			amount, type, COALESCE(description,''), created_at
		FROM transactions
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, customerID, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows, limit)
}

func (s *Store) ListTransactionsByBill(ctx context.Context, billID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, COALESCE(bill_id,''), COALESCE(payment_id,''),
			amount, type, COALESCE(description,''), created_at
		FROM transactions
		WHERE bill_id = $1
		ORDER BY created_at ASC, id ASC
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows, 4)
}

func scanTransactions(rows *sql.Rows, capacity int) ([]domain.Transaction, error) {
	entries := make([]domain.Transaction, 0, capacity)
	for rows.Next() {
		var entry domain.Transaction
		if err := rows.Scan(&entry.ID, &entry.CustomerID, &entry.BillID, &entry.PaymentID,
			&entry.Amount, &entry.Type, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListCompletedBillsInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, idempotency_key, subtotal, markup, discount,
			grand_total, grand_total_cost, tax_total, payment_type,
			partial_payment, status, created_at
		FROM bills
		WHERE status = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, domain.BillStatusCompleted, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 128)
	for rows.Next() {
		var bill domain.Bill
		var idemKey sql.NullString
		if err := rows.Scan(&bill.ID, &bill.CustomerID, &idemKey, &bill.Subtotal, &bill.Markup,
			&bill.Discount, &bill.GrandTotal, &bill.GrandTotalCost, &bill.TaxTotal,
			&bill.PaymentType, &bill.PartialPayment, &bill.Status, &bill.CreatedAt); err != nil {
			return nil, err
		}
		if idemKey.Valid {
			bill.IdempotencyKey = idemKey.String
		}
		bill.CreatedAt = bill.CreatedAt.UTC()
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func insertPayment(ctx context.Context, pgTx *sql.Tx, payment domain.Payment) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, bill_id, amount, payment_method, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.CustomerID, nullIfEmpty(payment.BillID), payment.Amount,
		payment.PaymentMethod, nullIfEmpty(payment.Description), payment.CreatedAt)
	return err
}

func insertTransaction(ctx context.Context, pgTx *sql.Tx, entry domain.Transaction) error {
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, customer_id, bill_id, payment_id, amount, type, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.CustomerID, nullIfEmpty(entry.BillID), nullIfEmpty(entry.PaymentID),
		entry.Amount, entry.Type, nullIfEmpty(entry.Description), entry.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
