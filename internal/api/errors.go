package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"perfume-store/internal/service"
	"perfume-store/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// writeError maps service errors onto HTTP responses. Unexpected errors
// are logged and reported without details.
func writeError(c *gin.Context, err error) {
	var (
		validationErr   *service.ValidationError
		productErr      *service.ProductNotFoundError
		notFoundErr     *service.NotFoundError
		insufficientErr *service.InsufficientInventoryError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
	case errors.As(err, &productErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": productErr.Error(), "product_id": productErr.ProductID})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &insufficientErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      insufficientErr.Error(),
			"product_id": insufficientErr.ProductID,
			"requested":  insufficientErr.Requested,
			"available":  insufficientErr.Available,
		})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRequestInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// writeBindError reports a request body that failed to bind
func writeBindError(c *gin.Context, err error) {
	var (
		fieldErrs validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &fieldErrs):
		fe := fieldErrs[0]
		writeError(c, &service.ValidationError{Field: fe.Field(), Message: fieldMessage(fe)})
	case errors.As(err, &typeErr):
		writeError(c, &service.ValidationError{Field: typeErr.Field, Message: "has the wrong type"})
	case errors.As(err, &syntaxErr):
		writeError(c, &service.ValidationError{Field: "body", Message: "malformed JSON"})
	default:
		writeError(c, &service.ValidationError{Field: "body", Message: err.Error()})
	}
}

// jsonFieldName makes validator report fields by their JSON names
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func registerValidation() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "max":
		return fmt.Sprintf("ensure this field has no more than %s characters", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("ensure this value is at least %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
}
