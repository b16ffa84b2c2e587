package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound matches every NotFoundError and ProductNotFoundError
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when an operation needs a user
	ErrUnauthorized = errors.New("authentication required")
	// ErrInvalidTransition is returned for a status change the order
	// state machine does not allow
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrRequestInProgress is returned while another request holds the
	// same idempotency key
	ErrRequestInProgress = errors.New("a request with this idempotency key is in progress")
)

// ValidationError reports malformed or missing input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown id for a resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// ProductNotFoundError reports a request line naming an unknown perfume
type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("the given id does not have an associated product: %s", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientInventoryError reports a line asking for more than stock
type InsufficientInventoryError struct {
	ProductID uuid.UUID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %s: requested %d, available %d",
		e.Name, e.Requested, e.Available)
}
