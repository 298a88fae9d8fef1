package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// Cart holds one user's pending items. A user has at most one cart; it is
// created lazily on the first add and never deleted, only emptied.
type Cart struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CartItem struct {
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// CartLine is a cart item enriched with live product data at read time.
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Product   ProductSummary  `json:"product"`
}

type ProductSummary struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	SKU           string          `json:"sku"`
	Active        bool            `json:"active"`
}

type CartTotals struct {
	Amount   decimal.Decimal `json:"amount"`
	Quantity int             `json:"quantity"`
}

// CartView is the cart representation returned by every cart operation.
// Totals are always derived from the items, never cached.
type CartView struct {
	Items  []CartLine `json:"items"`
	Totals CartTotals `json:"totals"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          string          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	Note            string          `json:"note,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Items           []OrderItem     `json:"items,omitempty"`
	Payment         *Payment        `json:"payment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
}

// OrderItem snapshots the product name and price at checkout time so later
// catalog edits do not change historical orders.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type Payment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Target          string          `json:"target"`
	TargetFormatted string          `json:"target_formatted"`
	Payload         string          `json:"payload"`
	Reference       string          `json:"reference"`
	GeneratedAt     time.Time       `json:"generated_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusRejected  = "rejected"
	OrderStatusFulfilled = "fulfilled"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
	PaymentStatusExpired = "expired"
)

const PaymentMethodPromptPay = "promptpay"

const CurrencyTHB = "THB"

// EmptyCartView is what a user without a cart, or a freshly checked-out
// cart, looks like.
func EmptyCartView() *CartView {
	return &CartView{
		Items:  []CartLine{},
		Totals: CartTotals{Amount: decimal.Zero, Quantity: 0},
	}
}
