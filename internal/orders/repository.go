package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
	"github.com/Gabriel171203/flowershop-project/internal/postgres"
)

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone, shipping_address,
	notes, delivery_date, delivery_time, total_amount, payment_status, payment_data, created_at, updated_at`

// StatusView is the public payment status of an order.
type StatusView struct {
	OrderNumber string               `json:"order_number"`
	Status      domain.PaymentStatus `json:"status"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	CreatedAt   time.Time            `json:"created_at"`
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert writes the order and its line items through q, which is expected to
// be the caller's transaction.
func (r *OrderRepository) Insert(ctx context.Context, q postgres.Querier, order *domain.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_name, customer_email, customer_phone, shipping_address,
			notes, delivery_date, delivery_time, total_amount, payment_status, payment_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, order.ID, order.OrderNumber, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.Notes, order.DeliveryDate, order.DeliveryTime,
		order.TotalAmount, order.PaymentStatus, jsonb(order.PaymentData), order.CreatedAt)
	if err != nil {
		return err
	}

	for i, item := range order.Items {
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, category, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, order.ID, i+1, item.ProductID, item.ProductName, item.Category, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetByNumber returns the order with its line items, or nil when there is none.
func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
	`, orderNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, category, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Category, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// GetStatus returns the status view of an order, or nil when there is none.
func (r *OrderRepository) GetStatus(ctx context.Context, orderNumber string) (*StatusView, error) {
	var view StatusView
	err := r.db.QueryRowContext(ctx, `
		SELECT order_number, payment_status, total_amount, created_at
		FROM orders
		WHERE order_number = $1
	`, orderNumber).Scan(&view.OrderNumber, &view.Status, &view.TotalAmount, &view.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &view, nil
}

// ListByEmail returns a customer's orders, newest first, with their items
// loaded in one batched query.
func (r *OrderRepository) ListByEmail(ctx context.Context, email string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_email = $1
		ORDER BY created_at DESC, order_number DESC
	`, email)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, category, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Category, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// CompareAndSetPaymentStatus moves the order from one status to another and
// records the provider payload in the same write. It reports false when the
// order was not in the expected status.
func (r *OrderRepository) CompareAndSetPaymentStatus(ctx context.Context, orderNumber string, from, to domain.PaymentStatus, paymentData []byte) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $3, payment_data = $4, updated_at = NOW()
		WHERE order_number = $1 AND payment_status = $2
	`, orderNumber, from, to, jsonb(paymentData))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		order       domain.Order
		paymentData []byte
	)
	err := s.Scan(&order.ID, &order.OrderNumber, &order.CustomerName, &order.CustomerEmail,
		&order.CustomerPhone, &order.ShippingAddress, &order.Notes, &order.DeliveryDate, &order.DeliveryTime,
		&order.TotalAmount, &order.PaymentStatus, &paymentData, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(paymentData) > 0 {
		order.PaymentData = paymentData
	}
	return &order, nil
}

// jsonb passes raw JSON as text so the driver does not send it as bytea.
func jsonb(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
