package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/safar/promptpay-shop/internal/api"
	"github.com/safar/promptpay-shop/internal/cache"
	"github.com/safar/promptpay-shop/internal/models"
	"github.com/safar/promptpay-shop/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutEndpointStockConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, "api1@example.com", "Buyer")
	require.NoError(t, err)

	product, err := store.CreateProduct(ctx, db, "API-001", "Widget", "Test", decimal.NewFromInt(100), 5)
	require.NoError(t, err)

	_, err = store.AddCartItem(ctx, db, user.ID, product.ID, 2)
	require.NoError(t, err)

	// A concurrent buyer takes 4 units before the request lands.
	require.NoError(t, decrementInOwnTx(ctx, db, product.ID, 4))

	router := api.NewRouter(api.NewHandler(db, cache.Noop{}, testMerchant()))

	req := httptest.NewRequest(http.MethodPost, "/checkout",
		strings.NewReader(`{"shipping_address": "123 Sukhumvit Rd, Bangkok"}`))
	req.Header.Set("X-User-ID", strconv.FormatInt(user.ID, 10))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Error     string          `json:"error"`
		ProductID int64           `json:"product_id"`
		Cart      models.CartView `json:"cart"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))

	assert.Equal(t, product.ID, body.ProductID)
	assert.NotEmpty(t, body.Error)

	// The echoed cart is the caller's pre-checkout cart, untouched by the
	// aborted reservation.
	require.Len(t, body.Cart.Items, 1)
	assert.Equal(t, product.ID, body.Cart.Items[0].ProductID)
	assert.Equal(t, 2, body.Cart.Items[0].Quantity)
	assert.True(t, body.Cart.Totals.Amount.Equal(decimal.NewFromInt(200)))
}
