package store

import (
	"context"
	"database/sql"
	"errors"

	"perfume-store/internal/models"

	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, first_name, last_name, email, country, city, state,
	additional_info, address, zipcode, phone, total_amount, paid_amount, status,
	is_completed, is_cancelled, idempotency_key, created_at, updated_at`

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, first_name, last_name, email, country, city, state,
			additional_info, address, zipcode, phone, total_amount, paid_amount, status,
			is_completed, is_cancelled, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err := s.get(ctx, order, query,
		order.UserID, order.FirstName, order.LastName, order.Email, order.Country,
		order.City, order.State, order.AdditionalInfo, order.Address, order.Zipcode,
		order.Phone, order.TotalAmount, order.PaidAmount, order.Status,
		order.IsCompleted, order.IsCancelled, order.IdempotencyKey)
	if order.IdempotencyKey != nil && pgCode(err) == pgUniqueViolation {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

// UpdateOrderTotal persists the computed order total
func (s *Store) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	return s.execOne(ctx, ErrNotFound,
		"UPDATE orders SET total_amount = $1, updated_at = NOW() WHERE id = $2",
		total, orderID)
}

// GetOrderByID retrieves an order by ID, without items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderForUpdate retrieves and row-locks an order
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key.
// Returns nil without error when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return order, err
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.selectAll(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// UpdateOrderStatus writes the status, its derived flags and paid amount
func (s *Store) UpdateOrderStatus(ctx context.Context, order *models.Order) error {
	err := s.get(ctx, &order.UpdatedAt, `
		UPDATE orders
		SET status = $1, is_completed = $2, is_cancelled = $3, paid_amount = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		order.Status, order.IsCompleted, order.IsCancelled, order.PaidAmount, order.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, perfume_id, quantity, price, sub_total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.get(ctx, &item.ID, query,
		item.OrderID, item.PerfumeID, item.Quantity, item.Price, item.SubTotal)
}

// GetOrderItemsByOrderID retrieves all items for an order with their perfume
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.selectAll(ctx, &items, `
		SELECT oi.id, oi.order_id, oi.perfume_id, oi.quantity, oi.price, oi.sub_total,
			p.id AS "perfume.id", p.name AS "perfume.name",
			p.description AS "perfume.description", p.price AS "perfume.price"
		FROM order_items oi
		JOIN perfumes p ON p.id = oi.perfume_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	return items, err
}

func (s *Store) getOrder(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := s.get(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
