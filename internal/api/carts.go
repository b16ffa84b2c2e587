package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *Handler) createCart(c *gin.Context) {
	cart, err := h.carts.CreateCart(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCartView(cart))
}

func (h *Handler) getCart(c *gin.Context) {
	cartID, err := uuidParam(c, "cart_id")
	if err != nil {
		writeError(c, err)
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), cartID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartView(cart))
}

func (h *Handler) deleteCart(c *gin.Context) {
	cartID, err := uuidParam(c, "cart_id")
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.carts.DeleteCart(c.Request.Context(), cartID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// addCartItem answers 201 for a new line and 200 when the quantity was
// merged into an existing one
func (h *Handler) addCartItem(c *gin.Context) {
	cartID, err := uuidParam(c, "cart_id")
	if err != nil {
		writeError(c, err)
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	res, err := h.carts.AddItem(c.Request.Context(), cartID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, newCartItemView(res.Item))
}

func (h *Handler) updateCartItem(c *gin.Context) {
	cartID, err := uuidParam(c, "cart_id")
	if err != nil {
		writeError(c, err)
		return
	}
	itemID, err := int64Param(c, "item_id")
	if err != nil {
		writeError(c, err)
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	item, err := h.carts.UpdateItemQuantity(c.Request.Context(), cartID, itemID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartItemView(item))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	cartID, err := uuidParam(c, "cart_id")
	if err != nil {
		writeError(c, err)
		return
	}
	itemID, err := int64Param(c, "item_id")
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), cartID, itemID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
