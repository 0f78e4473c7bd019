package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/freshmilk/internal/domain"
	ordersvc "github.com/fjod/freshmilk/internal/order/service"
)

const placeOrderBody = `{
	"items": [{"product_id": "p-milk", "quantity": 2, "variant": "1L"}],
	"shipping_address": {"name": "Asha", "street": "1 MG Road", "city": "Pune", "state": "MH", "pincode": "411001", "phone": "9999999999"},
	"delivery_slot": "MORNING",
	"payment_method": "ONLINE",
	"subscription_config": {"plan": "daily", "start_date": "2026-11-01T00:00:00Z"}
}`

func TestPlaceOrder_Online(t *testing.T) {
	order := sampleOrder("u1")
	orders := &MockOrderService{
		order:  order,
		intent: &domain.PaymentIntent{ID: "order_abc", Amount: 100, Currency: "INR"},
	}
	router := newTestRouter(testDeps{orders: orders})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders", placeOrderBody), "u1"))

	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	var resp PlaceOrderResponseDTO
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, order.ID, resp.Order.ID)
	require.NotNil(t, resp.PaymentIntent)
	assert.Equal(t, "order_abc", resp.PaymentIntent.ID)

	require.Len(t, orders.placed, 1)
	req := orders.placed[0]
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, domain.PaymentMethodOnline, req.PaymentMethod)
	assert.Equal(t, domain.DeliverySlot("MORNING"), req.DeliverySlot)
	assert.Equal(t, []ordersvc.ItemRequest{{ProductID: "p-milk", Quantity: 2, Variant: "1L"}}, req.Items)
	require.NotNil(t, req.SubscriptionConfig)
	assert.Equal(t, "daily", req.SubscriptionConfig.Plan)
	assert.Equal(t, "Pune", req.ShippingAddress.City)
}

func TestPlaceOrder_CODHasNoIntent(t *testing.T) {
	order := sampleOrder("u1")
	order.PaymentMethod = domain.PaymentMethodCOD
	order.PaymentIntentID = ""
	router := newTestRouter(testDeps{orders: &MockOrderService{order: order}})

	body := `{"from_cart": true, "shipping_address": {"name": "A", "street": "S", "city": "C", "pincode": "1", "phone": "2"}, "payment_method": "COD"}`
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders", body), "u1"))

	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &raw))
	assert.Contains(t, raw, "order")
	assert.NotContains(t, raw, "payment_intent")
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient stock", &domain.InsufficientStockError{ProductID: "p-milk", Requested: 3, Available: 1}, http.StatusConflict, "insufficient_stock"},
		{"unknown product", &domain.ProductNotFoundError{ProductID: "p-ghost"}, http.StatusNotFound, "product_not_found"},
		{"validation", domain.Invalid("at least one item is required"), http.StatusBadRequest, "invalid_request"},
		{"storage", fmt.Errorf("%w: connection reset", domain.ErrOrderPlacementFailed), http.StatusServiceUnavailable, "order_placement_failed"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(testDeps{orders: &MockOrderService{err: tt.err}})

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders", placeOrderBody), "u1"))

			assert.Equal(t, tt.wantStatus, recorder.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestPlaceOrder_GatewayDownReturnsOrderID(t *testing.T) {
	order := sampleOrder("u1")
	order.PaymentIntentID = ""
	orders := &MockOrderService{
		err:         fmt.Errorf("%w: connection refused", domain.ErrPaymentGateway),
		placeResult: &ordersvc.PlaceOrderResult{Order: order},
	}
	router := newTestRouter(testDeps{orders: orders})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders", placeOrderBody), "u1"))

	require.Equal(t, http.StatusBadGateway, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "payment_gateway_error", resp.Code)
	assert.Equal(t, order.ID.String(), resp.Details)
}

func TestPlaceOrder_Unauthorized(t *testing.T) {
	orders := &MockOrderService{}
	router := newTestRouter(testDeps{orders: orders})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newRequest("POST", "/api/v1/orders", placeOrderBody))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Empty(t, orders.placed)
}

func TestListMine_EmptyList(t *testing.T) {
	orders := &MockOrderService{}
	router := newTestRouter(testDeps{orders: orders})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, asUser(newRequest("GET", "/api/v1/orders/mine", ""), "u7"))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `[]`, recorder.Body.String())
	assert.Equal(t, "u7", orders.lastUser)
}

func TestGetOrder(t *testing.T) {
	order := sampleOrder("u1")
	router := newTestRouter(testDeps{orders: &MockOrderService{order: order}})

	t.Run("owner", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asUser(newRequest("GET", "/api/v1/orders/"+order.ID.String(), ""), "u1"))

		require.Equal(t, http.StatusOK, recorder.Code)
		var got domain.Order
		require.NoError(t, json.NewDecoder(recorder.Body).Decode(&got))
		assert.Equal(t, order.ID, got.ID)
	})

	t.Run("someone else", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asUser(newRequest("GET", "/api/v1/orders/"+order.ID.String(), ""), "u2"))

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asUser(newRequest("GET", "/api/v1/orders/not-a-uuid", ""), "u1"))

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestRetryPaymentIntent(t *testing.T) {
	order := sampleOrder("u1")

	t.Run("success", func(t *testing.T) {
		orders := &MockOrderService{intent: &domain.PaymentIntent{ID: "order_new", Amount: 100, Currency: "INR"}}
		router := newTestRouter(testDeps{orders: orders})

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders/"+order.ID.String()+"/payment-intent", ""), "u1"))

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"intent_id":"order_new","amount":100,"currency":"INR"}`, recorder.Body.String())
	})

	t.Run("cod order", func(t *testing.T) {
		orders := &MockOrderService{err: domain.Invalid("order is not awaiting online payment")}
		router := newTestRouter(testDeps{orders: orders})

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, asUser(newRequest("POST", "/api/v1/orders/"+order.ID.String()+"/payment-intent", ""), "u1"))

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}
