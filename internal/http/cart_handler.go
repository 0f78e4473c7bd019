package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	cartsvc "github.com/fjod/freshmilk/internal/cart/service"
	"github.com/fjod/freshmilk/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, req cartsvc.AddItemRequest) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID string, key domain.LineKey, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID string, key domain.LineKey) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Variant        string `json:"variant,omitempty"`
	IsSubscription bool   `json:"is_subscription,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int    `json:"quantity"`
	Variant  string `json:"variant,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, getUserIDFromContext(ctx))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
		return
	}

	cart, err := h.carts.AddItem(ctx, getUserIDFromContext(ctx), cartsvc.AddItemRequest{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		Variant:        req.Variant,
		IsSubscription: req.IsSubscription,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	key := domain.LineKey{ProductID: chi.URLParam(r, "product_id"), Variant: req.Variant}
	cart, err := h.carts.UpdateItemQuantity(ctx, getUserIDFromContext(ctx), key, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := domain.LineKey{ProductID: chi.URLParam(r, "product_id"), Variant: r.URL.Query().Get("variant")}
	cart, err := h.carts.RemoveItem(ctx, getUserIDFromContext(ctx), key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.ClearCart(ctx, getUserIDFromContext(ctx))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
