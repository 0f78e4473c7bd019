package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cartsvc "github.com/fjod/freshmilk/internal/cart/service"
	"github.com/fjod/freshmilk/internal/domain"
	ordersvc "github.com/fjod/freshmilk/internal/order/service"
	"github.com/fjod/freshmilk/internal/payment"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "webhook_secret"
)

// --- Mocks ---

type MockCartService struct {
	mu      sync.Mutex
	cart    *domain.Cart
	err     error
	added   []cartsvc.AddItemRequest
	updated []domain.LineKey
	qty     []int
	removed []domain.LineKey
	cleared int
}

func (m *MockCartService) result(userID string) (*domain.Cart, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.cart != nil {
		return m.cart, nil
	}
	return domain.NewCart(userID, 0), nil
}

func (m *MockCartService) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result(userID)
}

func (m *MockCartService) AddItem(_ context.Context, userID string, req cartsvc.AddItemRequest) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, req)
	return m.result(userID)
}

func (m *MockCartService) UpdateItemQuantity(_ context.Context, userID string, key domain.LineKey, quantity int) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, key)
	m.qty = append(m.qty, quantity)
	return m.result(userID)
}

func (m *MockCartService) RemoveItem(_ context.Context, userID string, key domain.LineKey) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, key)
	return m.result(userID)
}

func (m *MockCartService) ClearCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return m.result(userID)
}

// MockOrderService serves the customer, payment and admin handlers.
type MockOrderService struct {
	mu sync.Mutex

	order  *domain.Order
	orders []*domain.Order
	intent *domain.PaymentIntent
	err    error

	// placeResult is returned together with err from PlaceOrder.
	placeResult *ordersvc.PlaceOrderResult

	placed        []ordersvc.PlaceOrderRequest
	confirmations []domain.PaymentConfirmation
	filters       []domain.OrderFilter
	statuses      []domain.OrderStatus
	deleted       []uuid.UUID
	lastUser      string
}

func (m *MockOrderService) PlaceOrder(_ context.Context, req ordersvc.PlaceOrderRequest) (*ordersvc.PlaceOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	if m.err != nil {
		return m.placeResult, m.err
	}
	return &ordersvc.PlaceOrderResult{Order: m.order, Intent: m.intent}, nil
}

func (m *MockOrderService) ListMine(_ context.Context, userID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	return m.orders, m.err
}

func (m *MockOrderService) GetForUser(_ context.Context, userID string, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	if m.err != nil {
		return nil, m.err
	}
	if m.order == nil || m.order.ID != id || m.order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return m.order, nil
}

func (m *MockOrderService) RetryPaymentIntent(_ context.Context, userID string, _ uuid.UUID) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	return m.intent, m.err
}

func (m *MockOrderService) ConfirmPayment(_ context.Context, c domain.PaymentConfirmation) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, c)
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *MockOrderService) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.order == nil || m.order.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.order, nil
}

func (m *MockOrderService) ListAll(_ context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	return m.orders, m.err
}

func (m *MockOrderService) UpdateStatus(_ context.Context, _ uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, next)
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func (m *MockOrderService) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return m.err
}

type MockCatalog struct {
	products []domain.Product
	err      error
}

func (m *MockCatalog) Get(_ context.Context, id string) (domain.Product, error) {
	if m.err != nil {
		return domain.Product{}, m.err
	}
	for _, p := range m.products {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
}

func (m *MockCatalog) List(context.Context) ([]domain.Product, error) {
	return m.products, m.err
}

// --- helpers ---

type testDeps struct {
	carts   *MockCartService
	orders  *MockOrderService
	catalog *MockCatalog
}

func newTestRouter(d testDeps) http.Handler {
	if d.carts == nil {
		d.carts = &MockCartService{}
	}
	if d.orders == nil {
		d.orders = &MockOrderService{}
	}
	if d.catalog == nil {
		d.catalog = &MockCatalog{}
	}
	timeout := 5 * time.Second
	return NewRouter(Handlers{
		Products: NewProductHandler(d.catalog, timeout),
		Cart:     NewCartHandler(d.carts, timeout),
		Orders:   NewOrdersHandler(d.orders, timeout),
		Payments: NewPaymentsHandler(d.orders, payment.NewVerifier(testKeySecret, testWebhookSecret), timeout),
		Admin:    NewAdminHandler(d.orders, timeout),
	}, timeout)
}

func newRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func asUser(req *http.Request, userID string) *http.Request {
	req.Header.Set("X-User-ID", userID)
	return req
}

func asAdmin(req *http.Request) *http.Request {
	req.Header.Set("X-User-ID", "admin-1")
	req.Header.Set("X-User-Role", RoleAdmin)
	return req
}

func sampleOrder(userID string) *domain.Order {
	return &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		LineItems:       []domain.OrderLineItem{{ProductID: "p-milk", Name: "Milk", Quantity: 2, UnitPrice: 50}},
		ItemsPrice:      100,
		TotalPrice:      100,
		Currency:        "INR",
		PaymentMethod:   domain.PaymentMethodOnline,
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusProcessing,
		PaymentIntentID: "order_abc",
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}
