package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/promptpay-shop/internal/cache"
	"github.com/safar/promptpay-shop/internal/database"
	"github.com/safar/promptpay-shop/internal/models"
	"github.com/safar/promptpay-shop/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// userIDHeader carries the authenticated user identity. Session
// verification happens upstream; this service trusts the header.
const userIDHeader = "X-User-ID"

type Handler struct {
	db       *sql.DB
	cache    cache.CartCache
	merchant store.MerchantConfig
	sfg      singleflight.Group // prevents cache stampede on cart reads
}

func NewHandler(db *sql.DB, cartCache cache.CartCache, merchant store.MerchantConfig) *Handler {
	return &Handler{
		db:       db,
		cache:    cartCache,
		merchant: merchant,
	}
}

// --- cart ---

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := h.cartView(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := store.AddCartItem(r.Context(), h.db, userID, req.ProductID, req.Quantity)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.invalidateCart(userID)
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	view, err := store.UpdateCartItem(r.Context(), h.db, userID, productID, *req.Quantity)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.invalidateCart(userID)
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	view, err := store.RemoveCartItem(r.Context(), h.db, userID, productID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.invalidateCart(userID)
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	view, err := store.ClearCart(r.Context(), h.db, userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.invalidateCart(userID)
	respondJSON(w, http.StatusOK, view)
}

// --- checkout ---

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := store.Checkout(r.Context(), h.db, h.merchant, store.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: req.ShippingAddress,
		Note:            req.Note,
	})
	if err != nil {
		var conflict *store.StockConflictError
		if errors.As(err, &conflict) {
			// The aborted transaction left cart and stock untouched;
			// echo the current cart so the client can reconcile.
			view, viewErr := store.GetCartView(r.Context(), h.db, userID)
			if viewErr != nil {
				slog.ErrorContext(r.Context(), "cart view after conflict", "error", viewErr)
				view = models.EmptyCartView()
			}
			respondJSON(w, http.StatusConflict, conflictResponse{
				Error:     conflict.Error(),
				ProductID: conflict.ProductID,
				Cart:      view,
			})
			return
		}
		h.respondStoreError(w, r, err)
		return
	}

	h.invalidateCart(userID)
	slog.InfoContext(r.Context(), "checkout committed",
		"user_id", userID,
		"order_id", result.Order.ID,
		"total", result.Order.TotalAmount.String(),
	)
	respondJSON(w, http.StatusCreated, result)
}

// --- orders ---

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, id)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(r.Context(), h.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// --- catalog ---

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price := decimal.NewFromFloat(req.Price)
	product, err := store.CreateProduct(r.Context(), h.db, req.SKU, req.Name, req.Description, price, req.Stock)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, id)
	if err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListProducts(r.Context(), h.db, page, pageSize)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	if err := store.DeactivateProduct(r.Context(), h.db, id); err != nil {
		if errors.Is(err, database.ErrProductNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.respondStoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- users ---

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := store.CreateUser(r.Context(), h.db, req.Email, req.Name)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), h.db, id)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// --- helpers ---

// cartView serves cart reads through the cache, collapsing concurrent
// misses for the same user into one database query.
func (h *Handler) cartView(ctx context.Context, userID int64) (*models.CartView, error) {
	v, err, _ := h.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		view, err := h.cache.Get(ctx, userID)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("cart cache get", "error", err)
		}

		view, err = store.GetCartView(ctx, h.db, userID)
		if err != nil {
			return nil, err
		}

		if err := h.cache.Set(ctx, userID, view); err != nil {
			slog.Warn("cart cache set", "error", err)
		}

		return view, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.CartView), nil
}

func (h *Handler) invalidateCart(userID int64) {
	if err := h.cache.Delete(context.Background(), userID); err != nil {
		slog.Warn("cart cache invalidate", "error", err)
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		respondError(w, http.StatusUnauthorized, "missing user identity")
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusUnauthorized, "invalid user identity")
		return 0, false
	}

	return id, true
}

// respondStoreError maps store errors onto HTTP statuses. Business-rule
// failures get descriptive messages; infrastructure failures stay opaque.
func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrShippingAddressRequired),
		errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInsufficientStock):
		return http.StatusConflict
	case database.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error(fmt.Sprintf("encode JSON response: %v", err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
