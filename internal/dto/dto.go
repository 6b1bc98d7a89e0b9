// dto.go
package dto

import "restaurant-order-service/internal/model"

// CreateOrderRequest is the checkout payload. Validation rules live in the
// validate tags and are applied by the service, not by gin binding.
type CreateOrderRequest struct {
	Customer       string    `json:"customer" validate:"required,max=100"`
	Phone          string    `json:"phone" validate:"max=20"`
	Notes          string    `json:"notes" validate:"max=500"`
	Items          []ItemDTO `json:"items" validate:"required,min=1,dive"`
	Total          *float64  `json:"total" validate:"required,gte=0"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

type ItemDTO struct {
	ID       string  `json:"id" validate:"required"`
	NameEn   string  `json:"name_en,omitempty"`
	NameAr   string  `json:"name_ar,omitempty"`
	Price    float64 `json:"price" validate:"gte=0"`
	Quantity int     `json:"quantity" validate:"gte=1"`
	Size     string  `json:"size,omitempty" validate:"max=50"`
}

type CreateOrderResponse struct {
	Success     bool         `json:"success"`
	OrderNumber string       `json:"orderNumber"`
	ID          string       `json:"id"`
	Replayed    bool         `json:"replayed,omitempty"`
	Order       *model.Order `json:"order"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Errors []FieldError `json:"errors"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	Limit       int   `json:"limit"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

type OrderListResponse struct {
	Orders     []model.Order `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

type UpdateStatusResponse struct {
	Success bool         `json:"success"`
	Order   *model.Order `json:"order"`
}
