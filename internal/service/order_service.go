package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"perfume-store/internal/models"
	"perfume-store/internal/store"
	"perfume-store/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRepository is the persistence checkout and fulfillment need
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, order *models.Order) error

	LockPerfumes(ctx context.Context, ids []uuid.UUID) ([]models.Perfume, error)
	DecrementInventory(ctx context.Context, id uuid.UUID, quantity int) error
	IncrementInventory(ctx context.Context, id uuid.UUID, quantity int) error

	LockCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	DeleteCart(ctx context.Context, id uuid.UUID) error
}

// IdempotencyStore guards against a checkout being submitted twice
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key, token string) error
}

// OrderEventPublisher publishes order domain events
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// ShippingDetails are the delivery fields of an order
type ShippingDetails struct {
	FirstName      string `json:"first_name" binding:"required,max=100"`
	LastName       string `json:"last_name" binding:"required,max=100"`
	Email          string `json:"email" binding:"required,email"`
	Country        string `json:"country" binding:"required"`
	City           string `json:"city" binding:"required"`
	State          string `json:"state"`
	AdditionalInfo string `json:"additional_info"`
	Address        string `json:"address" binding:"required"`
	Zipcode        string `json:"zipcode" binding:"required"`
	Phone          string `json:"phone" binding:"required"`
}

// ProductRef names a perfume inside an order line
type ProductRef struct {
	ID uuid.UUID `json:"id"`
}

// OrderLineRequest is one requested line of an order
type OrderLineRequest struct {
	Product  ProductRef `json:"product"`
	Quantity int        `json:"quantity"`
}

// PlaceOrderRequest represents a checkout. Lines come from Items or, when
// Items is empty, from the cart named by CartID.
type PlaceOrderRequest struct {
	ShippingDetails
	CartID         *uuid.UUID         `json:"cart_id,omitempty"`
	Items          []OrderLineRequest `json:"items"`
	IdempotencyKey string             `json:"-"`
}

type orderLine struct {
	perfumeID uuid.UUID
	quantity  int
}

// OrderService handles checkout and order lifecycle
type OrderService struct {
	store          OrderRepository
	cache          PerfumeCache
	keys           IdempotencyStore
	eventPublisher OrderEventPublisher
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderRepository,
	cache PerfumeCache,
	keys IdempotencyStore,
	eventPublisher OrderEventPublisher,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:          store,
		cache:          cache,
		keys:           keys,
		eventPublisher: eventPublisher,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// PlaceOrder runs checkout as a single transaction: the order, its items
// and every inventory decrement commit together or not at all.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if userID <= 0 {
		return nil, ErrUnauthorized
	}
	if err := validateLines(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.replayOrder(ctx, userID, req.IdempotencyKey); existing != nil || err != nil {
			return existing, err
		}

		token, claimed, err := s.keys.ClaimIdempotencyKey(ctx, req.IdempotencyKey, s.idempotencyTTL)
		switch {
		case err != nil:
			s.logger.Warn("Idempotency claim failed, relying on database constraint",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		case !claimed:
			return nil, ErrRequestInProgress
		default:
			defer func() {
				if err := s.keys.ReleaseIdempotencyKey(context.Background(), req.IdempotencyKey, token); err != nil {
					s.logger.Warn("Failed to release idempotency key", zap.Error(err))
				}
			}()
			// the previous holder may have committed since the first lookup
			if existing, err := s.replayOrder(ctx, userID, req.IdempotencyKey); existing != nil || err != nil {
				return existing, err
			}
		}
	}

	start := time.Now()
	var order *models.Order
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.placeOrderTx(ctx, userID, req)
		return err
	})
	util.CheckoutLatency.Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		existing, replayErr := s.replayOrder(ctx, userID, req.IdempotencyKey)
		if existing != nil || replayErr != nil {
			return existing, replayErr
		}
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Info("Checkout rejected", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	s.afterInventoryChange(ctx, order.Items)
	s.publishOrderPlaced(ctx, order)
	return order, nil
}

// replayOrder returns the order already placed under key, or nil when
// there is none
func (s *OrderService) replayOrder(ctx context.Context, userID int64, key string) (*models.Order, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != userID {
		return nil, invalid("Idempotency-Key", "already used by another order")
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return s.withItems(ctx, existing)
}

func (s *OrderService) placeOrderTx(ctx context.Context, userID int64, req *PlaceOrderRequest) (*models.Order, error) {
	lines, fromCart, err := s.resolveLines(ctx, req)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:         userID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Country:        req.Country,
		City:           req.City,
		State:          req.State,
		AdditionalInfo: req.AdditionalInfo,
		Address:        req.Address,
		Zipcode:        req.Zipcode,
		Phone:          req.Phone,
		TotalAmount:    decimal.Zero,
		PaidAmount:     decimal.Zero,
	}
	order.ApplyStatus(models.OrderStatusPending)
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	perfumes, err := s.lockPerfumes(ctx, lines)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	order.Items = make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		perfume, ok := perfumes[line.perfumeID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: line.perfumeID}
		}
		if line.quantity > perfume.Inventory {
			return nil, insufficient(perfume, line.quantity)
		}

		item := models.NewOrderItem(order.ID, perfume, line.quantity)
		if err := s.store.CreateOrderItem(ctx, &item); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}

		if err := s.store.DecrementInventory(ctx, perfume.ID, line.quantity); err != nil {
			if errors.Is(err, store.ErrInsufficientInventory) {
				return nil, insufficient(perfume, line.quantity)
			}
			return nil, fmt.Errorf("failed to decrement inventory: %w", err)
		}
		perfume.Inventory -= line.quantity

		total = total.Add(item.SubTotal)
		order.Items = append(order.Items, item)
	}

	if err := s.store.UpdateOrderTotal(ctx, order.ID, total); err != nil {
		return nil, fmt.Errorf("failed to update order total: %w", err)
	}
	order.TotalAmount = total

	if fromCart {
		if err := s.store.DeleteCart(ctx, *req.CartID); err != nil {
			return nil, fmt.Errorf("failed to consume cart: %w", err)
		}
	}

	return order, nil
}

// resolveLines returns the order lines of req, loading them from the
// locked cart when the request carries no items
func (s *OrderService) resolveLines(ctx context.Context, req *PlaceOrderRequest) ([]orderLine, bool, error) {
	if len(req.Items) > 0 {
		lines := make([]orderLine, len(req.Items))
		for i, item := range req.Items {
			lines[i] = orderLine{perfumeID: item.Product.ID, quantity: item.Quantity}
		}
		return lines, false, nil
	}

	items, err := s.store.LockCartItems(ctx, *req.CartID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, notFound("cart", *req.CartID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock cart: %w", err)
	}
	if len(items) == 0 {
		return nil, false, invalid("cart_id", "cart is empty")
	}

	lines := make([]orderLine, len(items))
	for i, item := range items {
		lines[i] = orderLine{perfumeID: item.PerfumeID, quantity: item.Quantity}
	}
	return lines, true, nil
}

// lockPerfumes row-locks every distinct perfume named by lines
func (s *OrderService) lockPerfumes(ctx context.Context, lines []orderLine) (map[uuid.UUID]*models.Perfume, error) {
	seen := make(map[uuid.UUID]bool, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if !seen[line.perfumeID] {
			seen[line.perfumeID] = true
			ids = append(ids, line.perfumeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked, err := s.store.LockPerfumes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock perfumes: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Perfume, len(locked))
	for i := range locked {
		byID[locked[i].ID] = &locked[i]
	}
	return byID, nil
}

// GetOrder returns an order owned by userID
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && order.UserID != userID) {
		return nil, notFound("order", orderID)
	}
	if err != nil {
		return nil, err
	}
	return s.withItems(ctx, order)
}

// ListOrders returns the orders of userID, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := s.store.GetOrderItemsByOrderID(ctx, orders[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get order items: %w", err)
		}
		orders[i].Items = items
	}
	return orders, nil
}

// CancelOrder cancels an order on behalf of its owner
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.TransitionStatus(ctx, orderID, models.OrderStatusCancelled, nil)
}

// TransitionStatus moves an order along the status machine under a row
// lock. Cancelling returns every item to stock in the same transaction.
// paidAmount, when set, replaces the recorded paid amount.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, to models.OrderStatus, paidAmount *decimal.Decimal) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if paidAmount != nil && paidAmount.IsNegative() {
		return nil, invalid("paid_amount", "must not be negative")
	}

	var (
		order    *models.Order
		from     models.OrderStatus
		restored []models.OrderItem
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.store.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("order", orderID)
		}
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
		}
		if !o.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, to)
		}

		from = o.Status
		o.ApplyStatus(to)
		if paidAmount != nil {
			o.PaidAmount = *paidAmount
		}
		if err := s.store.UpdateOrderStatus(ctx, o); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if to == models.OrderStatusCancelled {
			items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
			if err != nil {
				return fmt.Errorf("failed to get order items: %w", err)
			}
			for _, item := range items {
				if err := s.store.IncrementInventory(ctx, item.PerfumeID, item.Quantity); err != nil {
					return fmt.Errorf("failed to restock perfume %s: %w", item.PerfumeID, err)
				}
			}
			restored = items
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	s.afterInventoryChange(ctx, restored)

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
	}
	if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return s.withItems(ctx, order)
}

func (s *OrderService) withItems(ctx context.Context, order *models.Order) (*models.Order, error) {
	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	order.Items = items
	return order, nil
}

// afterInventoryChange drops cached views of perfumes whose stock moved
func (s *OrderService) afterInventoryChange(ctx context.Context, items []models.OrderItem) {
	if len(items) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.PerfumeID)
	}
	if err := s.cache.InvalidatePerfumes(ctx, ids...); err != nil {
		s.logger.Warn("Failed to invalidate perfume cache", zap.Error(err))
	}
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	units := 0
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			PerfumeID: item.PerfumeID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
		units += item.Quantity
	}
	util.InventoryUnitsSoldTotal.Add(float64(units))

	event := &models.OrderPlacedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}
	if err := s.eventPublisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func validateLines(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 && req.CartID == nil {
		return invalid("items", "at least one item is required")
	}
	for i, item := range req.Items {
		if item.Product.ID == uuid.Nil {
			return invalid(fmt.Sprintf("items[%d].product.id", i), "this field is required")
		}
		if item.Quantity < 1 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}
	return nil
}

func insufficient(p *models.Perfume, requested int) error {
	return &InsufficientInventoryError{
		ProductID: p.ID,
		Name:      p.Name,
		Requested: requested,
		Available: p.Inventory,
	}
}

func failureReason(err error) string {
	var (
		insufficientErr *InsufficientInventoryError
		validationErr   *ValidationError
	)
	switch {
	case errors.As(err, &insufficientErr):
		return "insufficient_inventory"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &validationErr):
		return "invalid_request"
	default:
		return "db_error"
	}
}
