package api

import "github.com/safar/promptpay-shop/internal/models"

type addCartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	Note            string `json:"note,omitempty"`
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type createProductRequest struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// conflictResponse echoes the caller's current cart alongside the failing
// product so the client can adjust quantities and resubmit.
type conflictResponse struct {
	Error     string           `json:"error"`
	ProductID int64            `json:"product_id"`
	Cart      *models.CartView `json:"cart"`
}
