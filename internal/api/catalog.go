package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"perfume-store/internal/service"
	"perfume-store/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createPerfumeForm struct {
	CategoryID  *int64                  `form:"category_id" json:"category_id"`
	Name        string                  `form:"name" json:"name" binding:"required,max=255"`
	Description string                  `form:"description" json:"description"`
	Price       string                  `form:"price" json:"price" binding:"required"`
	Inventory   int                     `form:"inventory" json:"inventory" binding:"gte=0"`
	Discount    bool                    `form:"discount" json:"discount"`
	TopDeal     bool                    `form:"top_deal" json:"top_deal"`
	FlashSales  bool                    `form:"flash_sales" json:"flash_sales"`
	Slug        string                  `form:"slug" json:"slug" binding:"max=255"`
	Images      []*multipart.FileHeader `form:"uploaded_images" json:"uploaded_images"`
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	category, err := h.catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *Handler) listProducts(c *gin.Context) {
	var filter store.PerfumeFilter

	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, &service.ValidationError{Field: "category", Message: "must be an integer"})
			return
		}
		filter.CategoryID = &id
	}

	var err error
	if filter.TopDeal, err = boolQuery(c, "top_deal"); err != nil {
		writeError(c, err)
		return
	}
	if filter.FlashSales, err = boolQuery(c, "flash_sales"); err != nil {
		writeError(c, err)
		return
	}

	perfumes, err := h.catalog.ListPerfumes(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, perfumes)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	perfume, err := h.catalog.GetPerfume(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, perfume)
}

// createProduct handles multipart perfume creation with its images
func (h *Handler) createProduct(c *gin.Context) {
	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}

	var form createPerfumeForm
	if err := c.ShouldBind(&form); err != nil {
		writeBindError(c, err)
		return
	}

	price, err := decimal.NewFromString(form.Price)
	if err != nil {
		writeError(c, &service.ValidationError{Field: "price", Message: "must be a decimal number"})
		return
	}

	uploads := make([]service.ImageUpload, 0, len(form.Images))
	for _, fh := range form.Images {
		fh := fh
		uploads = append(uploads, service.ImageUpload{
			Filename: fh.Filename,
			Open:     func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	perfume, err := h.catalog.CreatePerfume(c.Request.Context(), service.CreatePerfumeInput{
		CategoryID:  form.CategoryID,
		Name:        form.Name,
		Description: form.Description,
		Price:       price,
		Inventory:   form.Inventory,
		Discount:    form.Discount,
		TopDeal:     form.TopDeal,
		FlashSales:  form.FlashSales,
		Slug:        form.Slug,
	}, uploads)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perfume)
}

func (h *Handler) listReviews(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	reviews, err := h.reviews.ListReviews(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

// createReview attaches the review to the perfume in the path. A product
// named in the body is ignored.
func (h *Handler) createReview(c *gin.Context) {
	id, err := uuidParam(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	var in service.ReviewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeBindError(c, err)
		return
	}

	review, err := h.reviews.AddReview(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}
