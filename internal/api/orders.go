package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/models"
	"github.com/craftcurio/marketplace/internal/store"
)

type orderItemBody struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderBody struct {
	Items           []orderItemBody `json:"items"`
	ShippingAddress models.Address  `json:"shippingAddress"`
	BillingAddress  models.Address  `json:"billingAddress"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"paymentMethod"`
	Notes           string          `json:"notes"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if err := decodeBody(r, createOrderSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	items := make([]store.OrderItemRequest, 0, len(body.Items))
	for _, item := range body.Items {
		items = append(items, store.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := s.orders.CreateOrder(r.Context(), store.CreateOrderRequest{
		UserID:          principalFrom(r).UserID,
		Items:           items,
		ShippingAddress: body.ShippingAddress,
		BillingAddress:  body.BillingAddress,
		Subtotal:        body.Subtotal,
		Shipping:        body.Shipping,
		Tax:             body.Tax,
		Total:           body.Total,
		PaymentMethod:   body.PaymentMethod,
		Notes:           body.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, "Order created successfully", order)
}

type checkoutBody struct {
	ShippingAddress models.Address  `json:"shippingAddress"`
	BillingAddress  models.Address  `json:"billingAddress"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	PaymentMethod   string          `json:"paymentMethod"`
	Notes           string          `json:"notes"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutBody
	if err := decodeBody(r, checkoutSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.orders.Checkout(r.Context(), store.CheckoutRequest{
		UserID:          principalFrom(r).UserID,
		ShippingAddress: body.ShippingAddress,
		BillingAddress:  body.BillingAddress,
		Shipping:        body.Shipping,
		Tax:             body.Tax,
		PaymentMethod:   body.PaymentMethod,
		Notes:           body.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusCreated, "Order placed successfully", order)
}

func (s *Server) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := s.orders.ListOrdersCursor(r.Context(), principalFrom(r).UserID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// canViewOrder allows the owning buyer, admins and artisans.
func canViewOrder(p auth.Principal, order *models.Order) bool {
	return order.UserID == p.UserID || p.Role == models.RoleAdmin || p.Role == models.RoleArtisan
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if !canViewOrder(principalFrom(r), order) {
		s.fail(w, r, errForbidden)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// ownedOrder loads the order and checks the caller placed it.
func (s *Server) ownedOrder(r *http.Request) (*models.Order, error) {
	order, err := s.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if order.UserID != principalFrom(r).UserID {
		return nil, errForbidden
	}
	return order, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.ownedOrder(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cancelled, err := s.orders.CancelOrder(r.Context(), order.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Order cancelled successfully", cancelled)
}

func (s *Server) handleUpdateShippingAddress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ShippingAddress models.Address `json:"shippingAddress"`
	}
	if err := decodeBody(r, shippingAddressSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.ownedOrder(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	updated, err := s.orders.UpdateShippingAddress(r.Context(), order.ID, body.ShippingAddress)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Shipping address updated successfully", updated)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderStatus       *string    `json:"orderStatus"`
		TrackingNumber    *string    `json:"trackingNumber"`
		EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	}
	if err := decodeBody(r, orderStatusSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), store.OrderStatusUpdate{
		OrderStatus:       body.OrderStatus,
		TrackingNumber:    body.TrackingNumber,
		EstimatedDelivery: body.EstimatedDelivery,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Order status updated successfully", order)
}

func (s *Server) handleUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentStatus string `json:"paymentStatus"`
	}
	if err := decodeBody(r, paymentStatusSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	order, err := s.orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), body.PaymentStatus)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Payment status updated successfully", order)
}

func (s *Server) handleListAllOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	q := r.URL.Query()

	result, err := s.orders.ListOrdersAdmin(r.Context(), store.AdminOrderFilter{
		OrderStatus:   q.Get("orderStatus"),
		PaymentStatus: q.Get("paymentStatus"),
		Search:        q.Get("search"),
		Page:          page,
		PageSize:      pageSize,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderIDs []string       `json:"orderIds"`
		Updates  map[string]any `json:"updates"`
	}
	if err := decodeBody(r, bulkUpdateSchema, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	updated, err := s.orders.BulkUpdateOrders(r.Context(), body.OrderIDs, body.Updates)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondMessage(w, http.StatusOK, "Orders updated successfully", map[string]int64{"modifiedCount": updated})
}
