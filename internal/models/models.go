package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category groups perfumes in the catalog
type Category struct {
	ID    int64  `db:"id" json:"category_id"`
	Title string `db:"title" json:"title"`
	Slug  string `db:"slug" json:"slug"`
}

// Perfume represents a product in the catalog
type Perfume struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	CategoryID  *int64          `db:"category_id" json:"category_id,omitempty"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Inventory   int             `db:"inventory" json:"inventory"`
	Discount    bool            `db:"discount" json:"discount"`
	TopDeal     bool            `db:"top_deal" json:"top_deal"`
	FlashSales  bool            `db:"flash_sales" json:"flash_sales"`
	Slug        string          `db:"slug" json:"slug"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	Images      []PerfumeImage  `db:"-" json:"images"`
}

// Simple returns the projection embedded in cart and order lines
func (p *Perfume) Simple() SimplePerfume {
	return SimplePerfume{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
	}
}

// SimplePerfume is the public subset of a perfume
type SimplePerfume struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
}

// PerfumeImage is an image owned by a perfume
type PerfumeImage struct {
	ID        int64     `db:"id" json:"id"`
	PerfumeID uuid.UUID `db:"perfume_id" json:"perfume"`
	Image     string    `db:"image" json:"image"`
}

// Review is a customer review of a perfume
type Review struct {
	ID          int64     `db:"id" json:"id"`
	PerfumeID   uuid.UUID `db:"perfume_id" json:"-"`
	DateCreated time.Time `db:"date_created" json:"date_created"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
}

// Cart is an anonymous pre-purchase collection of lines
type Cart struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Items     []CartItem `db:"-" json:"items"`
}

// GrandTotal sums the live sub totals of every item
func (c *Cart) GrandTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Items {
		total = total.Add(c.Items[i].SubTotal())
	}
	return total
}

// CartItem is one line of a cart, unique per (cart, perfume)
type CartItem struct {
	ID        int64         `db:"id" json:"id"`
	CartID    uuid.UUID     `db:"cart_id" json:"cart"`
	PerfumeID uuid.UUID     `db:"perfume_id" json:"product"`
	Quantity  int           `db:"quantity" json:"quantity"`
	Perfume   SimplePerfume `db:"perfume" json:"perfume"`
}

// SubTotal is quantity times the current perfume price
func (ci *CartItem) SubTotal() decimal.Decimal {
	return ci.Perfume.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Email          string          `db:"email" json:"email"`
	Country        string          `db:"country" json:"country"`
	City           string          `db:"city" json:"city"`
	State          string          `db:"state" json:"state"`
	AdditionalInfo string          `db:"additional_info" json:"additional_info"`
	Address        string          `db:"address" json:"address"`
	Zipcode        string          `db:"zipcode" json:"zipcode"`
	Phone          string          `db:"phone" json:"phone"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Status         OrderStatus     `db:"status" json:"status"`
	IsCompleted    bool            `db:"is_completed" json:"is_completed"`
	IsCancelled    bool            `db:"is_cancelled" json:"is_cancelled"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Items          []OrderItem     `db:"-" json:"items"`
}

// ApplyStatus sets the status and the flags derived from it
func (o *Order) ApplyStatus(status OrderStatus) {
	o.Status = status
	o.IsCompleted = status == OrderStatusDelivered
	o.IsCancelled = status == OrderStatusCancelled
}

// OrderItem represents a purchased line with its price frozen
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"-"`
	PerfumeID uuid.UUID       `db:"perfume_id" json:"-"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
	SubTotal  decimal.Decimal `db:"sub_total" json:"sub_total"`
	Perfume   SimplePerfume   `db:"perfume" json:"product"`
}

// NewOrderItem snapshots the perfume's current price into a line
func NewOrderItem(orderID int64, p *Perfume, quantity int) OrderItem {
	return OrderItem{
		OrderID:   orderID,
		PerfumeID: p.ID,
		Quantity:  quantity,
		Price:     p.Price,
		SubTotal:  p.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Perfume:   p.Simple(),
	}
}
