package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/safar/promptpay-shop/internal/database"
	"github.com/safar/promptpay-shop/internal/models"
	"github.com/safar/promptpay-shop/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decrementInOwnTx simulates a concurrent buyer reserving stock outside the
// checkout under test.
func decrementInOwnTx(ctx context.Context, db *sql.DB, productID int64, quantity int) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.DecrementStock(ctx, tx, productID, quantity)
	})
}

func TestCheckoutSuccess(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout1@example.com", "Buyer")
	require.NoError(t, err)

	p1, err := store.CreateProduct(ctx, db, "CHK-001A", "Widget", "Test", decimal.RequireFromString("100.50"), 50)
	require.NoError(t, err)
	p2, err := store.CreateProduct(ctx, db, "CHK-001B", "Gadget", "Test", decimal.NewFromInt(200), 30)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, p1.ID, 2)
	require.NoError(t, err)
	_, err = store.AddCartItem(ctx, db, user.ID, p2.ID, 3)
	require.NoError(t, err)

	result, err := store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
		Note:            "leave at door",
	})
	require.NoError(t, err)

	order := result.Order
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, user.ID, order.UserID)
	require.Len(t, order.Items, 2)

	// Order total equals the sum of line totals.
	expectedTotal := decimal.RequireFromString("100.50").Mul(decimal.NewFromInt(2)).
		Add(decimal.NewFromInt(200).Mul(decimal.NewFromInt(3)))
	assert.True(t, order.TotalAmount.Equal(expectedTotal),
		"expected total %s, got %s", expectedTotal, order.TotalAmount)

	lineSum := decimal.Zero
	for _, item := range order.Items {
		assert.True(t, item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))))
		lineSum = lineSum.Add(item.Subtotal)
	}
	assert.True(t, order.TotalAmount.Equal(lineSum))

	// Payment amount equals the order total at generation time.
	payment := order.Payment
	require.NotNil(t, payment)
	assert.True(t, payment.Amount.Equal(order.TotalAmount))
	assert.Equal(t, models.PaymentMethodPromptPay, payment.Method)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "0066812345678", payment.Target)
	assert.True(t, strings.HasPrefix(payment.Payload, "000201"))
	assert.Contains(t, payment.Payload, "5406"+order.TotalAmount.StringFixed(2))
	assert.True(t, payment.ExpiresAt.After(payment.GeneratedAt))

	// The originating cart is empty.
	assert.Empty(t, result.Cart.Items)
	assert.Equal(t, 0, result.Cart.Totals.Quantity)
	assert.True(t, result.Cart.Totals.Amount.IsZero())

	view, err := store.GetCartView(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	// Stock reduced by exactly the purchased quantities.
	p1After, err := store.GetProduct(ctx, db, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 48, p1After.StockQuantity)

	p2After, err := store.GetProduct(ctx, db, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, 27, p2After.StockQuantity)
}

func TestCheckoutStockConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout2@example.com", "Buyer")
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, "CHK-002", "Widget", "Test", decimal.NewFromInt(100), 5)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 2)
	require.NoError(t, err)

	// A concurrent buyer takes 4 units, leaving 1 — not enough for the cart.
	require.NoError(t, decrementInOwnTx(ctx, db, product.ID, 4))

	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})

	var conflict *store.StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, product.ID, conflict.ProductID)
	assert.ErrorIs(t, err, database.ErrInsufficientStock)

	// No order was created.
	var orderCount int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1`, user.ID).Scan(&orderCount))
	assert.Equal(t, 0, orderCount)

	// The cart kept its original items.
	view, err := store.GetCartView(ctx, db, user.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)

	// Stock is exactly what the concurrent buyer left.
	productAfter, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, productAfter.StockQuantity)
}

func TestCheckoutMultiLineConflictRollsBackEverything(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout3@example.com", "Buyer")
	require.NoError(t, err)

	plenty, err := store.CreateProduct(ctx, db, "CHK-003A", "Widget", "Test", decimal.NewFromInt(10), 100)
	require.NoError(t, err)
	scarce, err := store.CreateProduct(ctx, db, "CHK-003B", "Gadget", "Test", decimal.NewFromInt(20), 1)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, plenty.ID, 5)
	require.NoError(t, err)
	_, err = store.AddCartItem(ctx, db, user.ID, scarce.ID, 2)
	require.NoError(t, err)

	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})

	var conflict *store.StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, scarce.ID, conflict.ProductID)

	// The first line's decrement was rolled back with the transaction.
	plentyAfter, err := store.GetProduct(ctx, db, plenty.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, plentyAfter.StockQuantity)

	scarceAfter, err := store.GetProduct(ctx, db, scarce.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, scarceAfter.StockQuantity)
}

func TestCheckoutValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout4@example.com", "Buyer")
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, "CHK-004", "Widget", "Test", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	// Blank shipping address is rejected before anything runs.
	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "   ",
	})
	assert.ErrorIs(t, err, database.ErrShippingAddressRequired)

	// A user with no cart at all checks out an empty cart.
	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})
	assert.ErrorIs(t, err, database.ErrEmptyCart)

	// Same after adding and removing an item.
	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 1)
	require.NoError(t, err)
	_, err = store.RemoveCartItem(ctx, db, user.ID, product.ID)
	require.NoError(t, err)

	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})
	assert.ErrorIs(t, err, database.ErrEmptyCart)

	// Neither rejection touched the stock.
	productAfter, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, productAfter.StockQuantity)
}

func TestCheckoutDeactivatedProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout5@example.com", "Buyer")
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, "CHK-005", "Widget", "Test", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 1)
	require.NoError(t, err)

	// Product is pulled from the catalog between add-to-cart and checkout.
	require.NoError(t, store.DeactivateProduct(ctx, db, product.ID))

	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})

	var conflict *store.StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, product.ID, conflict.ProductID)
}

func TestCheckoutRevalidatesStaleQuantity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "checkout6@example.com", "Buyer")
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, "CHK-006", "Widget", "Test", decimal.NewFromInt(10), 5)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 1)
	require.NoError(t, err)

	// Corrupt the stored quantity to simulate stale cart data.
	_, err = db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = 0 WHERE product_id = $1`, product.ID)
	require.NoError(t, err)

	_, err = store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
		UserID:          user.ID,
		ShippingAddress: "123 Sukhumvit Rd, Bangkok",
	})
	assert.ErrorIs(t, err, database.ErrInvalidQuantity)
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "CHK-007", "Widget", "Test", decimal.NewFromInt(10), 1)
	require.NoError(t, err)

	buyers := make([]int64, 2)
	for i := range buyers {
		user, err := store.CreateUser(ctx, db, fmt.Sprintf("concurrent%d@example.com", i), "Buyer")
		require.NoError(t, err)
		_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 1)
		require.NoError(t, err)
		buyers[i] = user.ID
	}

	var wg sync.WaitGroup
	results := make(chan error, len(buyers))

	for _, userID := range buyers {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := store.Checkout(ctx, db, testMerchant(), store.CheckoutRequest{
				UserID:          uid,
				ShippingAddress: "123 Sukhumvit Rd, Bangkok",
			})
			results <- err
		}(userID)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		var conflict *store.StockConflictError
		switch {
		case err == nil:
			successCount++
		case errors.As(err, &conflict):
			conflictCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	// Only one checkout can win the last unit.
	assert.Equal(t, 1, successCount)
	assert.Equal(t, 1, conflictCount)

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, productAfter.StockQuantity)
}
