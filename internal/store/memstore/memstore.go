// Package memstore is an in-memory implementation of the store contract.
// Transactions hold a single lock for their whole duration and restore a
// snapshot on failure, so tests can observe rollback and serialization.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"perfume-store/internal/models"
	"perfume-store/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type txKey struct{}

type state struct {
	seq        int64
	categories map[int64]models.Category
	perfumes   map[uuid.UUID]models.Perfume
	images     []models.PerfumeImage
	reviews    []models.Review
	carts      map[uuid.UUID]models.Cart
	cartItems  map[int64]models.CartItem
	orders     map[int64]models.Order
	orderItems []models.OrderItem
}

func (st *state) clone() *state {
	c := &state{
		seq:        st.seq,
		categories: make(map[int64]models.Category, len(st.categories)),
		perfumes:   make(map[uuid.UUID]models.Perfume, len(st.perfumes)),
		images:     append([]models.PerfumeImage(nil), st.images...),
		reviews:    append([]models.Review(nil), st.reviews...),
		carts:      make(map[uuid.UUID]models.Cart, len(st.carts)),
		cartItems:  make(map[int64]models.CartItem, len(st.cartItems)),
		orders:     make(map[int64]models.Order, len(st.orders)),
		orderItems: append([]models.OrderItem(nil), st.orderItems...),
	}
	for k, v := range st.categories {
		c.categories[k] = v
	}
	for k, v := range st.perfumes {
		c.perfumes[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = v
	}
	for k, v := range st.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	return c
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// Store is safe for concurrent use
type Store struct {
	mu sync.Mutex
	st *state

	// BeforeCreatePerfumeImage, when set, runs before every image insert
	// and aborts it with the returned error.
	BeforeCreatePerfumeImage func(img *models.PerfumeImage) error
}

// New creates an empty store
func New() *Store {
	return &Store{st: (&state{}).clone()}
}

func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx runs fn holding the store lock and restores the previous state
// when fn fails
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

// AddCategory seeds a category and returns it with its id
func (s *Store) AddCategory(title, slug string) models.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Category{ID: s.st.nextID(), Title: title, Slug: slug}
	s.st.categories[c.ID] = c
	return c
}

// AddPerfume seeds a perfume, assigning an id when missing
func (s *Store) AddPerfume(p models.Perfume) models.Perfume {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Images = nil
	s.st.perfumes[p.ID] = p
	return p
}

// SetPrice changes a perfume's price
func (s *Store) SetPrice(id uuid.UUID, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.perfumes[id]
	p.Price = price
	s.st.perfumes[id] = p
}

// Inventory returns a perfume's stock, or -1 when it does not exist
func (s *Store) Inventory(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.perfumes[id]
	if !ok {
		return -1
	}
	return p.Inventory
}

// Counts reports the number of orders, order items and cart items
func (s *Store) Counts() (orders, orderItems, cartItems int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders), len(s.st.orderItems), len(s.st.cartItems)
}

// Images returns every stored image row
func (s *Store) Images() []models.PerfumeImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PerfumeImage(nil), s.st.images...)
}

// ListCategories retrieves all categories
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	defer s.lock(ctx)()
	out := make([]models.Category, 0, len(s.st.categories))
	for _, c := range s.st.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// GetCategory retrieves a category by ID
func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	defer s.lock(ctx)()
	c, ok := s.st.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// ListPerfumes retrieves perfumes matching the filter, newest first
func (s *Store) ListPerfumes(ctx context.Context, filter store.PerfumeFilter) ([]models.Perfume, error) {
	defer s.lock(ctx)()
	out := []models.Perfume{}
	for _, p := range s.st.perfumes {
		if filter.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.TopDeal != nil && p.TopDeal != *filter.TopDeal {
			continue
		}
		if filter.FlashSales != nil && p.FlashSales != *filter.FlashSales {
			continue
		}
		p.Images = s.imagesOf(p.ID)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetPerfume retrieves a perfume with images
func (s *Store) GetPerfume(ctx context.Context, id uuid.UUID) (*models.Perfume, error) {
	defer s.lock(ctx)()
	p, ok := s.st.perfumes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p.Images = s.imagesOf(id)
	return &p, nil
}

// PerfumeExists reports whether a perfume exists
func (s *Store) PerfumeExists(ctx context.Context, id uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	_, ok := s.st.perfumes[id]
	return ok, nil
}

// CreatePerfume inserts a perfume
func (s *Store) CreatePerfume(ctx context.Context, p *models.Perfume) error {
	defer s.lock(ctx)()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	row := *p
	row.Images = nil
	s.st.perfumes[p.ID] = row
	return nil
}

// CreatePerfumeImage inserts an image row
func (s *Store) CreatePerfumeImage(ctx context.Context, img *models.PerfumeImage) error {
	defer s.lock(ctx)()
	if s.BeforeCreatePerfumeImage != nil {
		if err := s.BeforeCreatePerfumeImage(img); err != nil {
			return err
		}
	}
	if _, ok := s.st.perfumes[img.PerfumeID]; !ok {
		return store.ErrNotFound
	}
	img.ID = s.st.nextID()
	s.st.images = append(s.st.images, *img)
	return nil
}

// LockPerfumes returns the existing perfumes among ids, in id order
func (s *Store) LockPerfumes(ctx context.Context, ids []uuid.UUID) ([]models.Perfume, error) {
	defer s.lock(ctx)()
	out := []models.Perfume{}
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		if p, ok := s.st.perfumes[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// DecrementInventory removes quantity from stock, never below zero
func (s *Store) DecrementInventory(ctx context.Context, id uuid.UUID, quantity int) error {
	defer s.lock(ctx)()
	p, ok := s.st.perfumes[id]
	if !ok || p.Inventory < quantity {
		return store.ErrInsufficientInventory
	}
	p.Inventory -= quantity
	p.UpdatedAt = time.Now()
	s.st.perfumes[id] = p
	return nil
}

// IncrementInventory returns quantity to stock
func (s *Store) IncrementInventory(ctx context.Context, id uuid.UUID, quantity int) error {
	defer s.lock(ctx)()
	p, ok := s.st.perfumes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Inventory += quantity
	p.UpdatedAt = time.Now()
	s.st.perfumes[id] = p
	return nil
}

// CreateReview inserts a review
func (s *Store) CreateReview(ctx context.Context, review *models.Review) error {
	defer s.lock(ctx)()
	review.ID = s.st.nextID()
	review.DateCreated = time.Now()
	s.st.reviews = append(s.st.reviews, *review)
	return nil
}

// ListReviews retrieves reviews of a perfume, newest first
func (s *Store) ListReviews(ctx context.Context, perfumeID uuid.UUID) ([]models.Review, error) {
	defer s.lock(ctx)()
	out := []models.Review{}
	for i := len(s.st.reviews) - 1; i >= 0; i-- {
		if s.st.reviews[i].PerfumeID == perfumeID {
			out = append(out, s.st.reviews[i])
		}
	}
	return out, nil
}

// CreateCart inserts a cart
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart) error {
	defer s.lock(ctx)()
	cart.CreatedAt = time.Now()
	s.st.carts[cart.ID] = models.Cart{ID: cart.ID, CreatedAt: cart.CreatedAt}
	return nil
}

// GetCart retrieves a cart without items
func (s *Store) GetCart(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	defer s.lock(ctx)()
	c, ok := s.st.carts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// DeleteCart removes a cart and its items
func (s *Store) DeleteCart(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	if _, ok := s.st.carts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.carts, id)
	for itemID, item := range s.st.cartItems {
		if item.CartID == id {
			delete(s.st.cartItems, itemID)
		}
	}
	return nil
}

// GetCartItems retrieves the items of a cart in insertion order
func (s *Store) GetCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	defer s.lock(ctx)()
	out := []models.CartItem{}
	for _, item := range s.st.cartItems {
		if item.CartID == cartID {
			out = append(out, s.withPerfume(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LockCartItems returns the items of an existing cart. Transactions
// already hold the store lock.
func (s *Store) LockCartItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	if _, err := s.GetCart(ctx, cartID); err != nil {
		return nil, err
	}
	return s.GetCartItems(ctx, cartID)
}

// GetCartItem retrieves one item of the cart
func (s *Store) GetCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) (*models.CartItem, error) {
	defer s.lock(ctx)()
	item, ok := s.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return nil, store.ErrNotFound
	}
	item = s.withPerfume(item)
	return &item, nil
}

// UpsertCartItem adds quantity to the (cart, perfume) line atomically
func (s *Store) UpsertCartItem(ctx context.Context, cartID, perfumeID uuid.UUID, quantity int) (int64, bool, error) {
	defer s.lock(ctx)()
	if _, ok := s.st.carts[cartID]; !ok {
		return 0, false, store.ErrNotFound
	}
	for id, item := range s.st.cartItems {
		if item.CartID == cartID && item.PerfumeID == perfumeID {
			item.Quantity += quantity
			s.st.cartItems[id] = item
			return id, false, nil
		}
	}
	id := s.st.nextID()
	s.st.cartItems[id] = models.CartItem{ID: id, CartID: cartID, PerfumeID: perfumeID, Quantity: quantity}
	return id, true, nil
}

// UpdateCartItemQuantity sets an item's quantity
func (s *Store) UpdateCartItemQuantity(ctx context.Context, cartID uuid.UUID, itemID int64, quantity int) error {
	defer s.lock(ctx)()
	item, ok := s.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return store.ErrNotFound
	}
	item.Quantity = quantity
	s.st.cartItems[itemID] = item
	return nil
}

// DeleteCartItem removes an item from the cart
func (s *Store) DeleteCartItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	defer s.lock(ctx)()
	item, ok := s.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return store.ErrNotFound
	}
	delete(s.st.cartItems, itemID)
	return nil
}

// CreateOrder inserts an order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	defer s.lock(ctx)()
	if order.IdempotencyKey != nil {
		for _, o := range s.st.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}
	now := time.Now()
	order.ID = s.st.nextID()
	order.CreatedAt, order.UpdatedAt = now, now
	row := *order
	row.Items = nil
	s.st.orders[order.ID] = row
	return nil
}

// UpdateOrderTotal persists the order total
func (s *Store) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	defer s.lock(ctx)()
	o, ok := s.st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.TotalAmount = total
	s.st.orders[orderID] = o
	return nil
}

// GetOrderByID retrieves an order without items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

// GetOrderForUpdate retrieves an order; the transaction lock covers it
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrderByID(ctx, id)
}

// GetOrderByIdempotencyKey returns nil without error when no order has key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	defer s.lock(ctx)()
	for _, o := range s.st.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

// ListOrdersByUser retrieves a user's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	defer s.lock(ctx)()
	out := []models.Order{}
	for _, o := range s.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// UpdateOrderStatus writes status, flags and paid amount
func (s *Store) UpdateOrderStatus(ctx context.Context, order *models.Order) error {
	defer s.lock(ctx)()
	o, ok := s.st.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = order.Status
	o.IsCompleted = order.IsCompleted
	o.IsCancelled = order.IsCancelled
	o.PaidAmount = order.PaidAmount
	o.UpdatedAt = time.Now()
	order.UpdatedAt = o.UpdatedAt
	s.st.orders[order.ID] = o
	return nil
}

// CreateOrderItem inserts an order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer s.lock(ctx)()
	if _, ok := s.st.orders[item.OrderID]; !ok {
		return store.ErrNotFound
	}
	item.ID = s.st.nextID()
	s.st.orderItems = append(s.st.orderItems, *item)
	return nil
}

// GetOrderItemsByOrderID retrieves an order's items with perfume details
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	defer s.lock(ctx)()
	out := []models.OrderItem{}
	for _, item := range s.st.orderItems {
		if item.OrderID == orderID {
			if p, ok := s.st.perfumes[item.PerfumeID]; ok {
				item.Perfume = p.Simple()
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Store) imagesOf(id uuid.UUID) []models.PerfumeImage {
	out := []models.PerfumeImage{}
	for _, img := range s.st.images {
		if img.PerfumeID == id {
			out = append(out, img)
		}
	}
	return out
}

func (s *Store) withPerfume(item models.CartItem) models.CartItem {
	if p, ok := s.st.perfumes[item.PerfumeID]; ok {
		item.Perfume = p.Simple()
	}
	return item
}
