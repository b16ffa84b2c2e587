package store

import (
	"context"
	"database/sql"
	"errors"

	"perfume-store/internal/models"

	"github.com/google/uuid"
)

const cartItemSelect = `
	SELECT ci.id, ci.cart_id, ci.perfume_id, ci.quantity,
		p.id AS "perfume.id", p.name AS "perfume.name",
		p.description AS "perfume.description", p.price AS "perfume.price"
	FROM cart_items ci
	JOIN perfumes p ON p.id = ci.perfume_id`

// CreateCart inserts a new cart
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	return s.get(ctx, &cart.CreatedAt,
		"INSERT INTO carts (id) VALUES ($1) RETURNING created_at", cart.ID)
}

// GetCart retrieves a cart by ID, without items
func (s *Store) GetCart(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.get(ctx, &cart, "SELECT id, created_at FROM carts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// DeleteCart removes a cart and, by cascade, its items
func (s *Store) DeleteCart(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, ErrNotFound, "DELETE FROM carts WHERE id = $1", id)
}

// GetCartItems retrieves all items of a cart with their perfume
func (s *Store) GetCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.selectAll(ctx, &items, cartItemSelect+" WHERE ci.cart_id = $1 ORDER BY ci.id", cartID)
	return items, err
}

// LockCartItems row-locks the cart and its items and returns the items.
// Concurrent adds to the cart wait until the locking transaction ends.
// Must run inside WithTx.
func (s *Store) LockCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var id uuid.UUID
	err := s.get(ctx, &id, "SELECT id FROM carts WHERE id = $1 FOR UPDATE", cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items := []models.CartItem{}
	err = s.selectAll(ctx, &items, cartItemSelect+" WHERE ci.cart_id = $1 ORDER BY ci.id FOR UPDATE OF ci", cartID)
	return items, err
}

// GetCartItem retrieves one item that belongs to the cart
func (s *Store) GetCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.get(ctx, &item, cartItemSelect+" WHERE ci.cart_id = $1 AND ci.id = $2", cartID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertCartItem adds quantity to the (cart, perfume) line in one
// statement, creating the line if absent. created reports which branch
// the database took. ErrNotFound means the cart or perfume is gone.
func (s *Store) UpsertCartItem(ctx context.Context, cartID, perfumeID uuid.UUID, quantity int) (int64, bool, error) {
	query := `
		INSERT INTO cart_items (cart_id, perfume_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, perfume_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id, (xmax = 0) AS created`

	var row struct {
		ID      int64 `db:"id"`
		Created bool  `db:"created"`
	}
	if err := s.get(ctx, &row, query, cartID, perfumeID, quantity); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}
	return row.ID, row.Created, nil
}

// UpdateCartItemQuantity sets the quantity of an item in the cart
func (s *Store) UpdateCartItemQuantity(ctx context.Context, cartID uuid.UUID, itemID int64, quantity int) error {
	return s.execOne(ctx, ErrNotFound,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2 AND cart_id = $3",
		quantity, itemID, cartID)
}

// DeleteCartItem removes an item from the cart
func (s *Store) DeleteCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	return s.execOne(ctx, ErrNotFound,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
}
