package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/promptpay-shop/internal/database"
	"github.com/safar/promptpay-shop/internal/models"
	"github.com/shopspring/decimal"
)

// AddCartItem puts quantity units of a product into the user's cart,
// creating the cart lazily and merging quantities when the product already
// has a line. Returns the recomputed cart view.
func AddCartItem(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) (*models.CartView, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND active)`,
		productID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return nil, database.ErrProductNotFound
	}

	// Adds are forgiving about bad quantities; checkout re-validates.
	if quantity < 1 {
		quantity = 1
	}

	cartID, err := ensureCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, added_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		cartID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	if err := touchCart(ctx, db, cartID); err != nil {
		return nil, err
	}

	return GetCartView(ctx, db, userID)
}

// UpdateCartItem replaces a line's quantity. A quantity of zero or less
// removes the line entirely. The line must already exist.
func UpdateCartItem(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) (*models.CartView, error) {
	var result sql.Result
	var err error
	if quantity <= 0 {
		result, err = db.ExecContext(ctx,
			`DELETE FROM cart_items
			 WHERE product_id = $2
			   AND cart_id = (SELECT id FROM carts WHERE user_id = $1)`,
			userID, productID)
	} else {
		result, err = db.ExecContext(ctx,
			`UPDATE cart_items
			 SET quantity = $3
			 WHERE product_id = $2
			   AND cart_id = (SELECT id FROM carts WHERE user_id = $1)`,
			userID, productID, quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("update cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, database.ErrCartItemNotFound
	}

	return GetCartView(ctx, db, userID)
}

// RemoveCartItem deletes a line from the user's cart.
func RemoveCartItem(ctx context.Context, db *sql.DB, userID, productID int64) (*models.CartView, error) {
	return UpdateCartItem(ctx, db, userID, productID, 0)
}

// ClearCart empties the user's cart. A user without a cart is already clear.
func ClearCart(ctx context.Context, db *sql.DB, userID int64) (*models.CartView, error) {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_items
		 WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	return GetCartView(ctx, db, userID)
}

// GetCartView assembles the cart response: each line joined with the live
// product record (query-time enrichment, nothing stored redundantly) and
// totals derived from the lines.
func GetCartView(ctx context.Context, db *sql.DB, userID int64) (*models.CartView, error) {
	query := `
		SELECT ci.product_id, ci.quantity, p.name, p.price, p.stock_quantity, p.sku, p.active
		FROM carts c
		JOIN cart_items ci ON ci.cart_id = c.id
		JOIN products p ON p.id = ci.product_id
		WHERE c.user_id = $1
		ORDER BY ci.added_at, ci.product_id`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart view: %w", err)
	}
	defer rows.Close()

	view := models.EmptyCartView()
	for rows.Next() {
		var line models.CartLine
		err := rows.Scan(
			&line.ProductID,
			&line.Quantity,
			&line.Product.Name,
			&line.Product.Price,
			&line.Product.StockQuantity,
			&line.Product.SKU,
			&line.Product.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}

		line.UnitPrice = line.Product.Price
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))

		view.Items = append(view.Items, line)
		view.Totals.Amount = view.Totals.Amount.Add(line.LineTotal)
		view.Totals.Quantity += line.Quantity
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return view, nil
}

func ensureCart(ctx context.Context, db *sql.DB, userID int64) (int64, error) {
	_, err := db.ExecContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("ensure cart: %w", err)
	}

	var cartID int64
	err = db.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err != nil {
		return 0, fmt.Errorf("get cart id: %w", err)
	}

	return cartID, nil
}

func touchCart(ctx context.Context, db *sql.DB, cartID int64) error {
	_, err := db.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
