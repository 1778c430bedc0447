package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
	"github.com/craftcurio/marketplace/internal/payment"
	"github.com/craftcurio/marketplace/internal/store"
)

// memOrders is an in-memory OrderStore that also serves as the payment
// service's order repository.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	seq    int
}

func newMemOrders(orders ...*models.Order) *memOrders {
	m := &memOrders{orders: map[string]*models.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) get(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memOrders) CreateOrder(ctx context.Context, req store.CreateOrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o := &models.Order{
		ID:              fmt.Sprintf("ord-%d", m.seq),
		UserID:          req.UserID,
		OrderNumber:     fmt.Sprintf("CC261018%04d", 1000+m.seq),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Total:           req.Total,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     models.OrderStatusPending,
	}
	for _, it := range req.Items {
		o.Items = append(o.Items, models.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *memOrders) Checkout(ctx context.Context, req store.CheckoutRequest) (*models.Order, error) {
	return nil, database.ErrEmptyCart
}

func (m *memOrders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) find(match func(*models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, database.ErrOrderNotFound
}

func (m *memOrders) GetOrderByRazorpayOrderID(ctx context.Context, id string) (*models.Order, error) {
	return m.find(func(o *models.Order) bool { return o.RazorpayOrderID == id })
}

func (m *memOrders) GetOrderByRazorpayPaymentID(ctx context.Context, id string) (*models.Order, error) {
	return m.find(func(o *models.Order) bool { return o.RazorpayPaymentID == id })
}

func (m *memOrders) ListOrdersCursor(ctx context.Context, userID, cursor string, limit int) (*store.CursorPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			items = append(items, &cp)
		}
	}
	return &store.CursorPage{Items: items}, nil
}

func (m *memOrders) mutate(id string, fn func(o *models.Order) error) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateOrderStatus(ctx context.Context, id string, u store.OrderStatusUpdate) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		if u.OrderStatus != nil {
			if !models.ValidOrderStatus(*u.OrderStatus) {
				return models.Invalid("orderStatus", "invalid orderStatus")
			}
			o.OrderStatus = *u.OrderStatus
			if o.OrderStatus == models.OrderStatusDelivered {
				now := time.Now()
				o.DeliveredAt = &now
			}
		}
		if u.TrackingNumber != nil {
			o.TrackingNumber = *u.TrackingNumber
		}
		return nil
	})
}

func (m *memOrders) UpdatePaymentStatus(ctx context.Context, id, status string) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		o.PaymentStatus = status
		if status == models.PaymentStatusPaid && o.OrderStatus == models.OrderStatusPending {
			o.OrderStatus = models.OrderStatusConfirmed
		}
		return nil
	})
}

func (m *memOrders) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		if !models.Cancellable(o.OrderStatus) {
			return database.ErrOrderNotCancellable
		}
		o.OrderStatus = models.OrderStatusCancelled
		return nil
	})
}

func (m *memOrders) UpdateShippingAddress(ctx context.Context, id string, addr models.Address) (*models.Order, error) {
	if err := addr.Validate("shippingAddress"); err != nil {
		return nil, err
	}
	return m.mutate(id, func(o *models.Order) error {
		o.ShippingAddress = addr
		return nil
	})
}

func (m *memOrders) ListOrdersAdmin(ctx context.Context, f store.AdminOrderFilter) (*store.AdminOrderList, error) {
	return &store.AdminOrderList{OffsetPage: &store.OffsetPage{Items: []models.Order{}, Page: f.Page, PageSize: f.PageSize}, Stats: &models.OrderStats{}}, nil
}

func (m *memOrders) BulkUpdateOrders(ctx context.Context, ids []string, updates map[string]any) (int64, error) {
	if _, _, err := store.BuildBulkUpdate(updates); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (m *memOrders) SetRazorpayOrderID(ctx context.Context, id, rzp string) error {
	_, err := m.mutate(id, func(o *models.Order) error {
		o.RazorpayOrderID = rzp
		return nil
	})
	return err
}

func (m *memOrders) MarkOrderPaid(ctx context.Context, id, rzpOrder, rzpPayment string) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		if models.PaymentSettled(o.PaymentStatus) {
			return nil
		}
		now := time.Now()
		o.PaymentStatus = models.PaymentStatusPaid
		if o.OrderStatus == models.OrderStatusPending || o.OrderStatus == models.OrderStatusConfirmed {
			o.OrderStatus = models.OrderStatusProcessing
		}
		if o.PaidAt == nil {
			o.PaidAt = &now
		}
		o.RazorpayOrderID = rzpOrder
		o.RazorpayPaymentID = rzpPayment
		return nil
	})
}

func (m *memOrders) MarkPaymentFailed(ctx context.Context, id, note string) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		if !models.PaymentSettled(o.PaymentStatus) {
			o.PaymentStatus = models.PaymentStatusFailed
		}
		o.Notes = strings.TrimPrefix(o.Notes+"\n"+note, "\n")
		return nil
	})
}

func (m *memOrders) RecordRefund(ctx context.Context, id string, full bool, note string) (*models.Order, error) {
	return m.mutate(id, func(o *models.Order) error {
		if full {
			o.PaymentStatus = models.PaymentStatusRefunded
		}
		o.Notes = strings.TrimPrefix(o.Notes+"\n"+note, "\n")
		return nil
	})
}

type recordingGateway struct {
	mu     sync.Mutex
	orders []payment.GatewayOrderRequest
}

func (g *recordingGateway) CreateOrder(ctx context.Context, req payment.GatewayOrderRequest) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return &payment.GatewayOrder{ID: "order_rzp1", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}, nil
}

func (g *recordingGateway) FetchPayment(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"` + id + `","status":"captured"}`), nil
}

func (g *recordingGateway) Refund(ctx context.Context, paymentID string, amount int64) (*payment.Refund, error) {
	return &payment.Refund{ID: "rfnd_1", PaymentID: paymentID, Amount: amount}, nil
}

const (
	testJWTSecret     = "test-secret"
	testKeySecret     = "s"
	testWebhookSecret = "whsec"
)

type testEnv struct {
	handler http.Handler
	tokens  *auth.Issuer
	orders  *memOrders
	gateway *recordingGateway
}

func newTestEnv(t *testing.T, orders ...*models.Order) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := newMemOrders(orders...)
	gw := &recordingGateway{}
	tokens := auth.NewIssuer(testJWTSecret, time.Hour)

	svc := payment.NewService(gw, mem, payment.Options{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		Currency:      "INR",
		MinAmount:     100,
		Tolerance:     decimal.RequireFromString("0.01"),
	}, log)

	srv := NewServer(Deps{
		Orders:    mem,
		Payments:  svc,
		Tokens:    tokens,
		RateRPS:   1000,
		RateBurst: 1000,
		Log:       log,
	})

	return &testEnv{handler: srv.Routes(), tokens: tokens, orders: mem, gateway: gw}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path, token, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func testOrder(id, userID, total string) *models.Order {
	return &models.Order{
		ID:            id,
		UserID:        userID,
		OrderNumber:   "CC2610181234",
		Total:         decimal.RequireFromString(total),
		PaymentStatus: models.PaymentStatusPending,
		OrderStatus:   models.OrderStatusPending,
	}
}
