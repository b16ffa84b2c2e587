package service

import (
	"context"
	"errors"
	"fmt"

	"perfume-store/internal/models"
	"perfume-store/internal/store"
	"perfume-store/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartRepository is the persistence carts need
type CartRepository interface {
	PerfumeExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	GetCart(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	DeleteCart(ctx context.Context, id uuid.UUID) error
	GetCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) (*models.CartItem, error)
	UpsertCartItem(ctx context.Context, cartID, perfumeID uuid.UUID, quantity int) (int64, bool, error)
	UpdateCartItemQuantity(ctx context.Context, cartID uuid.UUID, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) error
}

// AddItemResult tells whether AddItem created a line or merged into one
type AddItemResult struct {
	Item    *models.CartItem
	Created bool
}

// CartService handles cart aggregation
type CartService struct {
	store  CartRepository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartRepository) *CartService {
	return &CartService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// CreateCart creates an empty anonymous cart
func (s *CartService) CreateCart(ctx context.Context) (*models.Cart, error) {
	cart := &models.Cart{ID: uuid.New(), Items: []models.CartItem{}}
	if err := s.store.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

// GetCart returns a cart with its items and their current prices
func (s *CartService) GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.store.GetCart(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("cart", cartID)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetCartItems(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	cart.Items = items
	return cart, nil
}

// DeleteCart removes a cart and its items
func (s *CartService) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	err := s.store.DeleteCart(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("cart", cartID)
	}
	return err
}

// AddItem adds quantity of a perfume to the cart. A second add of the same
// perfume increases the existing line instead of creating another one.
func (s *CartService) AddItem(ctx context.Context, cartID, perfumeID uuid.UUID, quantity int) (*AddItemResult, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, invalid("quantity", "must be at least 1")
	}

	if _, err := s.store.GetCart(ctx, cartID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound("cart", cartID)
		}
		return nil, err
	}

	exists, err := s.store.PerfumeExists(ctx, perfumeID)
	if err != nil {
		return nil, err
	}
	if !exists {
		util.CartItemsAddedTotal.WithLabelValues("unknown_product").Inc()
		return nil, &ProductNotFoundError{ProductID: perfumeID}
	}

	itemID, created, err := s.store.UpsertCartItem(ctx, cartID, perfumeID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("cart", cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	item, err := s.store.GetCartItem(ctx, cartID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload cart item: %w", err)
	}

	outcome := "merged"
	if created {
		outcome = "created"
	}
	util.CartItemsAddedTotal.WithLabelValues(outcome).Inc()
	s.logger.Debug("Cart item added",
		zap.String("cart_id", cartID.String()),
		zap.String("perfume_id", perfumeID.String()),
		zap.Int("quantity", item.Quantity),
		zap.String("outcome", outcome))

	return &AddItemResult{Item: item, Created: created}, nil
}

// UpdateItemQuantity sets an item's quantity without merging
func (s *CartService) UpdateItemQuantity(ctx context.Context, cartID uuid.UUID, itemID int64, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, invalid("quantity", "must be at least 1")
	}

	err := s.store.UpdateCartItemQuantity(ctx, cartID, itemID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("cart item", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.store.GetCartItem(ctx, cartID, itemID)
}

// RemoveItem deletes an item from the cart
func (s *CartService) RemoveItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	err := s.store.DeleteCartItem(ctx, cartID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("cart item", itemID)
	}
	return err
}
