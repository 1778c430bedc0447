package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

const (
	orderNumberConstraint  = "orders_order_number_key"
	maxOrderNumberAttempts = 5
)

const orderColumns = `id, user_id, order_number, shipping_address, billing_address,
	subtotal, shipping, tax, total, payment_status, order_status, payment_method,
	razorpay_order_id, razorpay_payment_id, tracking_number, estimated_delivery,
	delivered_at, paid_at, notes, created_at, updated_at, version`

// generateOrderNumber returns CC<yy><mm><dd><nnnn>.
func generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("CC%s%04d", now.Format("060102"), 1000+rand.IntN(9000))
}

func scanOrder(row scanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		rzpOrderID, rzpPaymentID       sql.NullString
		estimated, deliveredAt, paidAt sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.ShippingAddress,
		&order.BillingAddress,
		&order.Subtotal,
		&order.Shipping,
		&order.Tax,
		&order.Total,
		&order.PaymentStatus,
		&order.OrderStatus,
		&order.PaymentMethod,
		&rzpOrderID,
		&rzpPaymentID,
		&order.TrackingNumber,
		&estimated,
		&deliveredAt,
		&paidAt,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.RazorpayOrderID = rzpOrderID.String
	order.RazorpayPaymentID = rzpPaymentID.String
	order.EstimatedDelivery = timePtr(estimated)
	order.DeliveredAt = timePtr(deliveredAt)
	order.PaidAt = timePtr(paidAt)
	order.Items = []models.OrderItem{}

	return order, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

type OrderItemRequest struct {
	ProductID string
	Quantity  int
}

type CreateOrderRequest struct {
	UserID          string
	Items           []OrderItemRequest
	ShippingAddress models.Address
	BillingAddress  models.Address
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   string
	Notes           string
}

// Validate checks the request and fills the billing address from shipping
// when it is absent.
func (r *CreateOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return models.Invalid("items", "items must contain at least one item")
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return models.Invalid(fmt.Sprintf("items[%d].productId", i), fmt.Sprintf("items[%d].productId is required", i))
		}
		if item.Quantity <= 0 {
			return models.Invalid(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("items[%d].quantity must be positive, got %d", i, item.Quantity))
		}
	}
	if err := r.ShippingAddress.Validate("shippingAddress"); err != nil {
		return err
	}
	if r.BillingAddress.IsZero() {
		r.BillingAddress = r.ShippingAddress
	} else if err := r.BillingAddress.Validate("billingAddress"); err != nil {
		return err
	}
	for _, m := range []struct {
		name  string
		value decimal.Decimal
	}{{"subtotal", r.Subtotal}, {"shipping", r.Shipping}, {"tax", r.Tax}, {"total", r.Total}} {
		if m.value.IsNegative() {
			return models.Invalid(m.name, m.name+" cannot be negative")
		}
	}
	return nil
}

// CreateOrder persists a pending order whose items are snapshotted from the
// current product rows. Money fields are taken from the caller as-is.
func (s *Store) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.withOrderNumber(ctx, func(tx *sql.Tx, orderNumber string) (*models.Order, error) {
		order := &models.Order{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			OrderNumber:     orderNumber,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			Subtotal:        req.Subtotal,
			Shipping:        req.Shipping,
			Tax:             req.Tax,
			Total:           req.Total,
			PaymentMethod:   req.PaymentMethod,
			Notes:           req.Notes,
		}

		for _, item := range req.Items {
			product, err := getProduct(ctx, tx, item.ProductID)
			if err != nil {
				return nil, err
			}
			order.Items = append(order.Items, snapshotItem(product, item.Quantity))
		}

		if err := insertOrder(ctx, tx, order); err != nil {
			return nil, err
		}
		return order, nil
	})
}

type CheckoutRequest struct {
	UserID          string
	ShippingAddress models.Address
	BillingAddress  models.Address
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	PaymentMethod   string
	Notes           string
}

// Checkout turns the buyer's cart into an order in one transaction: stock is
// decremented, the order is written and the cart is cleared, or nothing is.
func (s *Store) Checkout(ctx context.Context, req CheckoutRequest) (*models.Order, error) {
	if err := req.ShippingAddress.Validate("shippingAddress"); err != nil {
		return nil, err
	}
	if req.BillingAddress.IsZero() {
		req.BillingAddress = req.ShippingAddress
	} else if err := req.BillingAddress.Validate("billingAddress"); err != nil {
		return nil, err
	}
	if req.Shipping.IsNegative() || req.Tax.IsNegative() {
		return nil, models.Invalid("shipping", "shipping and tax cannot be negative")
	}

	return s.withOrderNumber(ctx, func(tx *sql.Tx, orderNumber string) (*models.Order, error) {
		cartItems, err := listCartItems(ctx, tx, req.UserID, true)
		if err != nil {
			return nil, err
		}
		if len(cartItems) == 0 {
			return nil, database.ErrEmptyCart
		}

		order := &models.Order{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			OrderNumber:     orderNumber,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			Shipping:        req.Shipping,
			Tax:             req.Tax,
			PaymentMethod:   req.PaymentMethod,
			Notes:           req.Notes,
		}

		for _, ci := range cartItems {
			product, err := ReserveStock(ctx, tx, ci.ProductID, ci.Quantity)
			if err != nil {
				return nil, err
			}
			if err := DecrementStock(ctx, tx, ci.ProductID, ci.Quantity); err != nil {
				return nil, err
			}

			item := snapshotItem(product, ci.Quantity)
			order.Items = append(order.Items, item)
			order.Subtotal = order.Subtotal.Add(item.LineTotal())
		}
		order.Total = order.Subtotal.Add(order.Shipping).Add(order.Tax)

		if err := insertOrder(ctx, tx, order); err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, req.UserID); err != nil {
			return nil, fmt.Errorf("clear cart: %w", err)
		}

		return order, nil
	})
}

// withOrderNumber runs fn in a serializable transaction with a fresh order
// number, drawing a new number whenever the previous one collides.
func (s *Store) withOrderNumber(ctx context.Context, fn func(tx *sql.Tx, orderNumber string) (*models.Order, error)) (*models.Order, error) {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		var order *models.Order
		orderNumber := generateOrderNumber(time.Now())

		err := database.WithRetry(ctx, s.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
			o, err := fn(tx, orderNumber)
			if err != nil {
				return err
			}
			order = o
			return nil
		})
		if err == nil {
			return order, nil
		}
		if !database.IsUniqueViolation(err, orderNumberConstraint) {
			return nil, err
		}
	}

	return nil, database.ErrOrderNumberExhausted
}

func snapshotItem(product *models.Product, quantity int) models.OrderItem {
	return models.OrderItem{
		ProductID:   product.ID,
		ProductType: product.Kind,
		Name:        product.Name,
		Price:       product.Price,
		Quantity:    quantity,
		Image:       product.Image,
	}
}

func insertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (id, user_id, order_number, shipping_address, billing_address,
		                     subtotal, shipping, tax, total, payment_status, order_status,
		                     payment_method, notes, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), 1)
		 RETURNING payment_status, order_status, created_at, updated_at, version`,
		order.ID, order.UserID, order.OrderNumber, order.ShippingAddress, order.BillingAddress,
		order.Subtotal, order.Shipping, order.Tax, order.Total,
		models.PaymentStatusPending, models.OrderStatusPending,
		order.PaymentMethod, order.Notes,
	).Scan(&order.PaymentStatus, &order.OrderStatus, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, position, product_id, product_type, name, price, quantity, image, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
			uuid.NewString(), order.ID, i, item.ProductID, item.ProductType, item.Name, item.Price, item.Quantity, item.Image)
		if err != nil {
			return fmt.Errorf("create order item %d: %w", i, err)
		}
	}

	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if err := parseID(id, database.ErrOrderNotFound); err != nil {
		return nil, err
	}
	return s.getOrderWhere(ctx, "id = $1", id)
}

func (s *Store) GetOrderByRazorpayOrderID(ctx context.Context, razorpayOrderID string) (*models.Order, error) {
	return s.getOrderWhere(ctx, "razorpay_order_id = $1", razorpayOrderID)
}

func (s *Store) GetOrderByRazorpayPaymentID(ctx context.Context, razorpayPaymentID string) (*models.Order, error) {
	return s.getOrderWhere(ctx, "razorpay_payment_id = $1", razorpayPaymentID)
}

func (s *Store) getOrderWhere(ctx context.Context, where string, arg any) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where + ` LIMIT 1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := attachItems(ctx, s.db, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// attachItems loads the line items of all orders with a single query.
func attachItems(ctx context.Context, q database.Querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := q.QueryContext(ctx,
		`SELECT order_id, product_id, product_type, name, price, quantity, image
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item models.OrderItem
		err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.ProductType,
			&item.Name,
			&item.Price,
			&item.Quantity,
			&item.Image,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

func collectOrders(rows *sql.Rows) ([]*models.Order, error) {
	orders := []*models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersCursor returns a buyer's orders newest first using keyset
// pagination on (created_at, id).
func (s *Store) ListOrdersCursor(ctx context.Context, userID string, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, models.Invalid("cursor", "invalid cursor")
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachItems(ctx, s.db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

type OrderStatusUpdate struct {
	OrderStatus       *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
}

// UpdateOrderStatus applies the non-nil fields. Moving to delivered stamps
// delivered_at.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, u OrderStatusUpdate) (*models.Order, error) {
	if u.OrderStatus != nil && !models.ValidOrderStatus(*u.OrderStatus) {
		return nil, models.Invalid("orderStatus", fmt.Sprintf("invalid orderStatus %q", *u.OrderStatus))
	}

	query := `
		UPDATE orders
		SET order_status = COALESCE($2, order_status),
		    tracking_number = COALESCE($3, tracking_number),
		    estimated_delivery = COALESCE($4, estimated_delivery),
		    delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + orderColumns

	return s.updateOrder(ctx, query, id, u.OrderStatus, u.TrackingNumber, u.EstimatedDelivery)
}

// UpdatePaymentStatus is the admin override. Marking an order paid this way
// promotes a pending order to confirmed.
func (s *Store) UpdatePaymentStatus(ctx context.Context, id, paymentStatus string) (*models.Order, error) {
	if !models.ValidPaymentStatus(paymentStatus) {
		return nil, models.Invalid("paymentStatus", fmt.Sprintf("invalid paymentStatus %q", paymentStatus))
	}

	query := `
		UPDATE orders
		SET payment_status = $2,
		    order_status = CASE WHEN $2 = 'paid' AND order_status = 'pending' THEN 'confirmed' ELSE order_status END,
		    paid_at = CASE WHEN $2 = 'paid' THEN COALESCE(paid_at, NOW()) ELSE paid_at END,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + orderColumns

	return s.updateOrder(ctx, query, id, paymentStatus)
}

// CancelOrder cancels unless the order has shipped or been delivered.
func (s *Store) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `
		UPDATE orders
		SET order_status = 'cancelled',
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		  AND order_status NOT IN ('shipped', 'delivered')
		RETURNING ` + orderColumns

	order, err := s.updateOrder(ctx, query, id)
	if errors.Is(err, database.ErrOrderNotFound) {
		if _, getErr := s.GetOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, database.ErrOrderNotCancellable
	}
	return order, err
}

func (s *Store) UpdateShippingAddress(ctx context.Context, id string, addr models.Address) (*models.Order, error) {
	if err := addr.Validate("shippingAddress"); err != nil {
		return nil, err
	}

	query := `
		UPDATE orders
		SET shipping_address = $2,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + orderColumns

	return s.updateOrder(ctx, query, id, addr)
}

func (s *Store) SetRazorpayOrderID(ctx context.Context, id, razorpayOrderID string) error {
	if err := parseID(id, database.ErrOrderNotFound); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET razorpay_order_id = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $1`,
		id, razorpayOrderID)
	if err != nil {
		return fmt.Errorf("set razorpay order id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

// MarkOrderPaid records a verified payment. Only pending and failed payments
// move to paid; an order that is already paid or refunded is returned
// unchanged. A cancelled or shipped order keeps its fulfilment status.
func (s *Store) MarkOrderPaid(ctx context.Context, id, razorpayOrderID, razorpayPaymentID string) (*models.Order, error) {
	query := `
		UPDATE orders
		SET payment_status = 'paid',
		    order_status = CASE WHEN order_status IN ('pending', 'confirmed') THEN 'processing' ELSE order_status END,
		    paid_at = COALESCE(paid_at, NOW()),
		    razorpay_order_id = COALESCE($2, razorpay_order_id),
		    razorpay_payment_id = COALESCE($3, razorpay_payment_id),
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		  AND payment_status IN ('pending', 'failed')
		RETURNING ` + orderColumns

	order, err := s.updateOrder(ctx, query, id, nullString(razorpayOrderID), nullString(razorpayPaymentID))
	if errors.Is(err, database.ErrOrderNotFound) {
		existing, getErr := s.GetOrder(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if models.PaymentSettled(existing.PaymentStatus) {
			return existing, nil
		}
		return nil, err
	}
	return order, err
}

// MarkPaymentFailed appends note to the order's notes and marks the payment
// failed. A paid or refunded order keeps its status and only gets the note.
func (s *Store) MarkPaymentFailed(ctx context.Context, id, note string) (*models.Order, error) {
	query := `
		UPDATE orders
		SET payment_status = CASE WHEN payment_status IN ('paid', 'refunded') THEN payment_status ELSE 'failed' END,
		    notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + orderColumns

	return s.updateOrder(ctx, query, id, note)
}

// RecordRefund appends note and, for a full refund, marks the payment refunded.
func (s *Store) RecordRefund(ctx context.Context, id string, full bool, note string) (*models.Order, error) {
	query := `
		UPDATE orders
		SET payment_status = CASE WHEN $2 THEN 'refunded' ELSE payment_status END,
		    notes = CASE WHEN notes = '' THEN $3 ELSE notes || E'\n' || $3 END,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + orderColumns

	return s.updateOrder(ctx, query, id, full, note)
}

// updateOrder runs query with id as $1 followed by args and returns the
// updated order with its items.
func (s *Store) updateOrder(ctx context.Context, query string, id string, args ...any) (*models.Order, error) {
	if err := parseID(id, database.ErrOrderNotFound); err != nil {
		return nil, err
	}

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := attachItems(ctx, s.db, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}
