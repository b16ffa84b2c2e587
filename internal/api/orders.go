package api

import (
	"net/http"

	"perfume-store/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.PlaceOrder(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := int64Param(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), currentUser(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, err := int64Param(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), currentUser(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
