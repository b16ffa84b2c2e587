package api

import (
	"strconv"
	"time"

	"perfume-store/internal/models"
	"perfume-store/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type cartItemView struct {
	models.CartItem
	SubTotal decimal.Decimal `json:"sub_total"`
}

type cartView struct {
	ID         uuid.UUID       `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Items      []cartItemView  `json:"items"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

func newCartItemView(item *models.CartItem) cartItemView {
	return cartItemView{CartItem: *item, SubTotal: item.SubTotal()}
}

func newCartView(cart *models.Cart) cartView {
	items := make([]cartItemView, len(cart.Items))
	for i := range cart.Items {
		items[i] = newCartItemView(&cart.Items[i])
	}
	return cartView{
		ID:         cart.ID,
		CreatedAt:  cart.CreatedAt,
		Items:      items,
		GrandTotal: cart.GrandTotal(),
	}
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, &service.ValidationError{Field: name, Message: "must be a valid UUID"}
	}
	return id, nil
}

func int64Param(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &service.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return id, nil
}

// boolQuery reads an optional boolean query parameter
func boolQuery(c *gin.Context, name string) (*bool, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &service.ValidationError{Field: name, Message: "must be a boolean"}
	}
	return &v, nil
}
