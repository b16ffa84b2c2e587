package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"perfume-store/internal/service"
	"perfume-store/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency the readiness check verifies
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the HTTP surface
type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
	MaxUploadBytes int64
	// MediaDir, when set, is served under /media
	MediaDir string
	Checks   map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	catalog *service.CatalogService
	carts   *service.CartService
	orders  *service.OrderService
	reviews *service.ReviewService
	opts    Options
}

// NewHandler creates a new HTTP handler
func NewHandler(
	catalog *service.CatalogService,
	carts *service.CartService,
	orders *service.OrderService,
	reviews *service.ReviewService,
	opts Options,
) *Handler {
	registerValidation()
	return &Handler{
		catalog: catalog,
		carts:   carts,
		orders:  orders,
		reviews: reviews,
		opts:    opts,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(corsMiddleware(h.opts.AllowedOrigins))
	if h.opts.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = h.opts.MaxUploadBytes
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.opts.MediaDir != "" {
		router.Static("/media", h.opts.MediaDir)
	}

	auth := requireUser(h.opts.JWTSecret)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/categories", h.listCategories)
		v1.GET("/categories/:id", h.getCategory)

		v1.GET("/products", h.listProducts)
		v1.POST("/products", auth, h.createProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/reviews", h.listReviews)
		v1.POST("/products/:id/reviews", h.createReview)

		v1.POST("/carts", h.createCart)
		v1.GET("/carts/:cart_id", h.getCart)
		v1.DELETE("/carts/:cart_id", h.deleteCart)
		v1.POST("/carts/:cart_id/items", h.addCartItem)
		v1.PATCH("/carts/:cart_id/items/:item_id", h.updateCartItem)
		v1.DELETE("/carts/:cart_id/items/:item_id", h.removeCartItem)

		orders := v1.Group("/orders", auth)
		orders.POST("", h.createOrder)
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/cancel", h.cancelOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.Checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
