package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/promptpay-shop/internal/database"
	"github.com/safar/promptpay-shop/internal/models"
	"github.com/safar/promptpay-shop/internal/promptpay"
	"github.com/shopspring/decimal"
)

// MerchantConfig is the payee identity stamped into every generated
// payment. It is injected at construction time, never read from the
// environment mid-checkout.
type MerchantConfig struct {
	Target        string
	ProxyType     promptpay.ProxyType
	BankCode      string
	Name          string
	City          string
	PaymentExpiry time.Duration
}

type CheckoutRequest struct {
	UserID          int64
	ShippingAddress string
	Note            string
}

type CheckoutResult struct {
	Order *models.Order    `json:"order"`
	Cart  *models.CartView `json:"cart"`
}

// StockConflictError reports the cart line whose stock reservation failed.
type StockConflictError struct {
	ProductID int64
	Name      string
}

func (e *StockConflictError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("insufficient stock for product %q (id %d)", e.Name, e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}

func (e *StockConflictError) Unwrap() error {
	return database.ErrInsufficientStock
}

// checkoutLine is the in-transaction snapshot of one cart line.
type checkoutLine struct {
	productID int64
	quantity  int
	name      sql.NullString
	price     decimal.NullDecimal
	active    sql.NullBool
}

// Checkout converts the user's cart into an order. Stock reservation, order
// creation and cart clearing happen inside one transaction: either every
// line is reserved and the cart emptied, or nothing changes. Stock is
// reserved with a conditional decrement, never a read followed by a write.
func Checkout(ctx context.Context, db *sql.DB, merchant MerchantConfig, req CheckoutRequest) (*CheckoutResult, error) {
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return nil, database.ErrShippingAddressRequired
	}

	var order *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, lines, err := loadCartLines(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(lines))

		for _, line := range lines {
			// Cart data may be stale; re-validate at checkout time.
			if line.quantity <= 0 {
				return database.ErrInvalidQuantity
			}
			// A product deleted or deactivated after add-to-cart is a
			// reservation failure, not a line to skip silently.
			if !line.active.Valid || !line.active.Bool {
				return &StockConflictError{ProductID: line.productID, Name: line.name.String}
			}

			if err := DecrementStock(ctx, tx, line.productID, line.quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return &StockConflictError{ProductID: line.productID, Name: line.name.String}
				}
				return err
			}

			unitPrice := line.price.Decimal
			subtotal := unitPrice.Mul(decimal.NewFromInt(int64(line.quantity)))
			total = total.Add(subtotal)

			items = append(items, models.OrderItem{
				ProductID: line.productID,
				Name:      line.name.String,
				Quantity:  line.quantity,
				UnitPrice: unitPrice,
				Subtotal:  subtotal,
			})
		}

		order, err = insertOrder(ctx, tx, req, total, items)
		if err != nil {
			return err
		}

		payment, err := insertPayment(ctx, tx, order.ID, total, merchant)
		if err != nil {
			return err
		}
		order.Payment = payment

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
			return fmt.Errorf("touch cart: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// The transaction is committed; the cart view is empty by construction.
	return &CheckoutResult{Order: order, Cart: models.EmptyCartView()}, nil
}

// loadCartLines reads the cart with a left join on products so lines whose
// product vanished still surface (and fail reservation) instead of being
// silently dropped.
func loadCartLines(ctx context.Context, tx *sql.Tx, userID int64) (int64, []checkoutLine, error) {
	query := `
		SELECT c.id, ci.product_id, ci.quantity, p.name, p.price, p.active
		FROM carts c
		JOIN cart_items ci ON ci.cart_id = c.id
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE c.user_id = $1
		ORDER BY ci.added_at, ci.product_id`

	rows, err := tx.QueryContext(ctx, query, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	var cartID int64
	var lines []checkoutLine
	for rows.Next() {
		var line checkoutLine
		if err := rows.Scan(&cartID, &line.productID, &line.quantity, &line.name, &line.price, &line.active); err != nil {
			return 0, nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("rows error: %w", err)
	}

	return cartID, lines, nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, req CheckoutRequest, total decimal.Decimal, items []models.OrderItem) (*models.Order, error) {
	order := &models.Order{
		UserID:          req.UserID,
		OrderNumber:     generateOrderNumber(),
		Status:          models.OrderStatusPending,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Note:            req.Note,
		TotalAmount:     total,
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, shipping_address, note, total_amount, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.ShippingAddress, order.Note, order.TotalAmount).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 RETURNING id, created_at`,
			items[i].OrderID, items[i].ProductID, items[i].Name, items[i].Quantity, items[i].UnitPrice, items[i].Subtotal).Scan(
			&items[i].ID,
			&items[i].CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
	}

	order.Items = items
	return order, nil
}

// insertPayment generates the PromptPay payload for the order total and
// persists the embedded payment record. The payment amount always equals
// the order total at generation time.
func insertPayment(ctx context.Context, tx *sql.Tx, orderID int64, total decimal.Decimal, merchant MerchantConfig) (*models.Payment, error) {
	reference := generatePaymentReference()

	encoded, err := promptpay.Encode(promptpay.Request{
		Target:       merchant.Target,
		Type:         merchant.ProxyType,
		BankCode:     merchant.BankCode,
		Amount:       total,
		MerchantName: merchant.Name,
		MerchantCity: merchant.City,
		Reference:    reference,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment payload: %w", err)
	}

	now := time.Now().UTC()
	payment := &models.Payment{
		OrderID:         orderID,
		Method:          models.PaymentMethodPromptPay,
		Status:          models.PaymentStatusPending,
		Amount:          total,
		Currency:        models.CurrencyTHB,
		Target:          encoded.ProxyID,
		TargetFormatted: promptpay.FormatTarget(merchant.Target),
		Payload:         encoded.Payload,
		Reference:       reference,
		GeneratedAt:     now,
		ExpiresAt:       now.Add(merchant.PaymentExpiry),
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO payments (order_id, method, status, amount, currency, target, target_formatted, payload, reference, generated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		payment.OrderID, payment.Method, payment.Status, payment.Amount, payment.Currency,
		payment.Target, payment.TargetFormatted, payment.Payload, payment.Reference,
		payment.GeneratedAt, payment.ExpiresAt).Scan(&payment.ID)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return payment, nil
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

// generatePaymentReference produces an alphanumeric reference short enough
// to survive the payload's 25-character limit untouched.
func generatePaymentReference() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD" + id[:19]
}
